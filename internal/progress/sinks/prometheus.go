package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/sitegrab/sitegrab/internal/metrics"
	"github.com/sitegrab/sitegrab/internal/progress"
)

// PrometheusSink mirrors terminal job transitions into the metrics package.
// It remembers first-seen times so job duration is measured even when the
// controller restarts a sink mid-job.
type PrometheusSink struct {
	mu      sync.Mutex
	started map[string]time.Time
}

// NewPrometheusSink initializes the collectors and returns a sink.
func NewPrometheusSink() *PrometheusSink {
	metrics.Init()
	return &PrometheusSink{started: make(map[string]time.Time)}
}

// Record updates the job counters on terminal transitions.
func (s *PrometheusSink) Record(_ context.Context, upd progress.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, seen := s.started[upd.JobID]
	if !seen {
		first = upd.At
		s.started[upd.JobID] = first
	}
	if upd.Snap.Status.Terminal() {
		metrics.ObserveJobFinished(upd.Kind, string(upd.Snap.Status), upd.At.Sub(first))
		delete(s.started, upd.JobID)
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
