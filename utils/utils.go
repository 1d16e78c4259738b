package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"imagededup/hashstore"
	"imagededup/imageprocessor"
	"imagededup/signalhandler"
)

// Configuration keys. Flag names, config file keys and (upper-cased, with
// dashes replaced) environment variable suffixes all use these.
const (
	KeySource        = "source"
	KeyOutput        = "output"
	KeySpeed         = "speed"
	KeyQuality       = "quality"
	KeyWorkers       = "workers"
	KeyThreshold     = "threshold"
	KeyHashAlgorithm = "hash-algorithm"
	KeyHashSize      = "hash-size"
	KeyFormat        = "format"
	KeyCatalog       = "catalog"
	KeySkipUnchanged = "skip-unchanged"
	KeyRebuild       = "rebuild"
	KeyDebug         = "debug"
	KeyLogFile       = "logfile"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "IMAGEDEDUP"

// DefaultOutputDir is used when no output directory is configured
const DefaultOutputDir = "./output"

var (
	// ErrMissingSource is returned when a convert run has no source directory
	ErrMissingSource = errors.New("missing source directory (use --source=PATH)")
	// ErrInvalidConfig wraps every other validation failure
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the validated run configuration
type Config struct {
	SourceDir     string
	OutputDir     string
	Speed         int
	Quality       int
	Workers       int
	Threshold     int
	HashAlgorithm string
	HashSize      int
	Format        string
	Catalog       bool
	SkipUnchanged bool
	Rebuild       bool
	Debug         bool
	LogFile       string
}

// NewViper returns a viper instance with defaults and environment binding
// set up
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyOutput, DefaultOutputDir)
	v.SetDefault(KeySpeed, imageprocessor.DefaultSpeed)
	v.SetDefault(KeyQuality, imageprocessor.DefaultQuality)
	v.SetDefault(KeyWorkers, signalhandler.GetOptimalProcs())
	v.SetDefault(KeyThreshold, hashstore.DefaultThreshold)
	v.SetDefault(KeyHashAlgorithm, imageprocessor.AlgorithmPerception)
	v.SetDefault(KeyHashSize, imageprocessor.DefaultHashSize)
	v.SetDefault(KeyFormat, string(imageprocessor.FormatAVIF))
	v.SetDefault(KeyCatalog, true)
	v.SetDefault(KeySkipUnchanged, true)
	return v
}

// RegisterFlags declares every configuration flag on fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP(KeySource, "s", "", "Directory to scan recursively for source images (required unless rebuilding)")
	fs.StringP(KeyOutput, "o", DefaultOutputDir, "Directory receiving converted images and the hashes log")
	fs.Int(KeySpeed, imageprocessor.DefaultSpeed, "Encoder speed (0-10, higher is faster)")
	fs.IntP(KeyQuality, "q", imageprocessor.DefaultQuality, "Encoder quality (1-100)")
	fs.IntP(KeyWorkers, "w", signalhandler.GetOptimalProcs(), "Number of parallel workers")
	fs.IntP(KeyThreshold, "t", hashstore.DefaultThreshold, "Hash distance below which two images are duplicates")
	fs.String(KeyHashAlgorithm, imageprocessor.AlgorithmPerception, "Perceptual hash algorithm (phash, ahash, dhash, phash64)")
	fs.Int(KeyHashSize, imageprocessor.DefaultHashSize, "Edge of the hash grid in bits (8, 16, 32 or 64)")
	fs.String(KeyFormat, string(imageprocessor.FormatAVIF), "Output format (avif, webp)")
	fs.Bool(KeyCatalog, true, "Record admissions in the sqlite catalog inside the output directory")
	fs.Bool(KeySkipUnchanged, true, "Skip sources already decided on in a previous run (requires the catalog)")
	fs.Bool(KeyRebuild, false, "Rebuild the hashes log from the output directory instead of converting")
	fs.Bool(KeyDebug, false, "Enable debug logging")
	fs.String(KeyLogFile, "", "Write logs to this file")
}

// BindFlags binds every flag of fs to the matching viper key
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

// ReadConfigFile merges a config file into v when path is set
func ReadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read config file %q: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// LoadConfig reads and validates the configuration. requireSource is false
// for commands that never touch the source tree (rebuild, stats).
func LoadConfig(v *viper.Viper, requireSource bool) (Config, error) {
	cfg := Config{
		SourceDir:     strings.TrimSpace(v.GetString(KeySource)),
		OutputDir:     strings.TrimSpace(v.GetString(KeyOutput)),
		Speed:         v.GetInt(KeySpeed),
		Quality:       v.GetInt(KeyQuality),
		Workers:       v.GetInt(KeyWorkers),
		Threshold:     v.GetInt(KeyThreshold),
		HashAlgorithm: strings.ToLower(strings.TrimSpace(v.GetString(KeyHashAlgorithm))),
		HashSize:      v.GetInt(KeyHashSize),
		Format:        strings.ToLower(strings.TrimSpace(v.GetString(KeyFormat))),
		Catalog:       v.GetBool(KeyCatalog),
		SkipUnchanged: v.GetBool(KeySkipUnchanged),
		Rebuild:       v.GetBool(KeyRebuild),
		Debug:         v.GetBool(KeyDebug),
		LogFile:       v.GetString(KeyLogFile),
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = signalhandler.GetOptimalProcs()
	}
	if !cfg.Catalog {
		cfg.SkipUnchanged = false
	}

	if requireSource && !cfg.Rebuild {
		if cfg.SourceDir == "" {
			return cfg, ErrMissingSource
		}
		if err := CheckSourceDir(cfg.SourceDir); err != nil {
			return cfg, err
		}
	}

	if err := ValidateRange(KeySpeed, cfg.Speed, 0, 10); err != nil {
		return cfg, err
	}
	if err := ValidateRange(KeyQuality, cfg.Quality, 1, 100); err != nil {
		return cfg, err
	}
	if cfg.Threshold < 1 {
		return cfg, fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidConfig, KeyThreshold, cfg.Threshold)
	}
	if _, err := imageprocessor.NewHasher(cfg.HashAlgorithm, cfg.HashSize); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := imageprocessor.NewEncoder(cfg.Format, cfg.Speed, cfg.Quality); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// ValidateRange checks that value lies in [lo, hi]
func ValidateRange(key string, value, lo, hi int) error {
	if value < lo || value > hi {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidConfig, key, lo, hi, value)
	}
	return nil
}

// CheckSourceDir verifies the source path exists and is a directory
func CheckSourceDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: source directory does not exist: %s", ErrInvalidConfig, path)
		}
		return fmt.Errorf("%w: cannot access source directory: %s (%v)", ErrInvalidConfig, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: source path is not a directory: %s", ErrInvalidConfig, path)
	}
	return nil
}

// EnsureOutputDir creates the output directory if needed and checks that it
// is writable by creating and removing a scratch file
func EnsureOutputDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("cannot create output directory %s: %w", path, err)
	}

	scratch, err := os.CreateTemp(path, ".write-test-*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", path, err)
	}
	name := scratch.Name()
	scratch.Close()
	return os.Remove(name)
}
