package scanner

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"imagededup/types"
)

// ProgressTracker consumes processing results, keeps the outcome counters
// and drives the progress bar
type ProgressTracker struct {
	mu        sync.Mutex
	processed int
	admitted  int
	rejected  int
	skipped   int
	failed    int

	bar  *progressbar.ProgressBar
	done chan struct{}
}

// NewProgressTracker starts consuming resultsChan. The bar is drawn on w,
// or not at all when w is nil.
func NewProgressTracker(total int, w io.Writer, resultsChan <-chan Result) *ProgressTracker {
	tracker := &ProgressTracker{done: make(chan struct{})}

	if w != nil {
		tracker.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Converting images"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("img"),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		)
	}

	go tracker.processResults(resultsChan)
	return tracker
}

// processResults updates the tracker state based on processing results
func (p *ProgressTracker) processResults(resultsChan <-chan Result) {
	defer close(p.done)

	for result := range resultsChan {
		p.mu.Lock()
		p.processed++
		switch result.Outcome {
		case types.OutcomeAdmitted:
			p.admitted++
		case types.OutcomeRejected:
			p.rejected++
		case types.OutcomeSkipped:
			p.skipped++
		default:
			p.failed++
		}
		p.mu.Unlock()

		if p.bar != nil {
			p.bar.Add(1)
		}
	}
}

// Stop waits until the results channel has been drained. The channel must be
// closed before calling it.
func (p *ProgressTracker) Stop() {
	<-p.done
	if p.bar != nil {
		p.bar.Finish()
	}
}

// Fill copies the counters into s
func (p *ProgressTracker) Fill(s *Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.Processed = p.processed
	s.Admitted = p.admitted
	s.Rejected = p.rejected
	s.Skipped = p.skipped
	s.Failed = p.failed
}
