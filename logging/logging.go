package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"imagededup/types"
)

// Options controls where and how verbosely the logger writes
type Options struct {
	// LogFile, when set, receives every log line (appended)
	LogFile string
	// Debug lowers the level to debug. Combined with LogFile, output goes to
	// both stderr and the file.
	Debug bool
	// Output overrides stderr as the console destination
	Output io.Writer
}

// SetupLogger builds the process logger. The returned close function must be
// called once the run is over; it is never nil.
func SetupLogger(opts Options) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logger.SetLevel(logrus.InfoLevel)
	if opts.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	console := opts.Output
	if console == nil {
		console = os.Stderr
	}
	logger.SetOutput(console)

	if opts.LogFile == "" {
		return logger, func() {}, nil
	}

	logFile, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open log file: %w", err)
	}

	// Use MultiWriter to write logs to both the console and file in debug mode
	if opts.Debug {
		logger.SetOutput(io.MultiWriter(console, logFile))
	} else {
		logger.SetOutput(logFile)
	}
	logger.Debugf("--- imagededup log started at %s ---", time.Now().Format(time.RFC3339))

	closer := func() {
		logger.Debugf("--- imagededup log closed at %s ---", time.Now().Format(time.RFC3339))
		logger.SetOutput(console)
		logFile.Close()
	}
	return logger, closer, nil
}

// LogImageProcessed logs the outcome of one candidate image
func LogImageProcessed(logger logrus.FieldLogger, path string, outcome types.Outcome, output string, err error) {
	entry := logger.WithField("path", path).WithField("outcome", string(outcome))
	if output != "" {
		entry = entry.WithField("output", output)
	}

	switch outcome {
	case types.OutcomeFailed:
		entry.WithError(err).Warn("image failed")
	case types.OutcomeAdmitted:
		entry.Info("image admitted")
	default:
		entry.Debug("image not admitted")
	}
}
