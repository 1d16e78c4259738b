package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
)

// exit is replaced in tests
var exit = os.Exit

// SetupHandler returns a context cancelled on SIGINT or SIGTERM. Workers stop
// taking new candidates once it is done; items already in flight finish so
// no half-written output is left behind. A second signal exits immediately
// with status 130. The returned func releases the signal handler.
func SetupHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	var once sync.Once

	go func() {
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
			cancel()
		case <-stop:
			return
		case <-parent.Done():
			return
		}

		// ctx is already done here, only the owner or the parent can end the wait
		select {
		case <-sigChan:
			exit(130)
		case <-stop:
		case <-parent.Done():
		}
	}()

	return ctx, func() {
		once.Do(func() { close(stop) })
		cancel()
	}
}

// GetOptimalProcs returns the default number of worker goroutines.
// Decoding and encoding go through cgo, so a quarter of the cores is left free.
func GetOptimalProcs() int {
	numCPU := runtime.NumCPU()

	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}
