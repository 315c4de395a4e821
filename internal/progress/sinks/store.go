package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/sitegrab/sitegrab/internal/progress"
)

// HistoryRecorder persists job runs; satisfied by store.History.
type HistoryRecorder interface {
	RecordStart(ctx context.Context, jobID, kind string, startedAt time.Time) error
	RecordFinish(ctx context.Context, jobID string, finishedAt time.Time, status, errMsg string, pages, items int) error
}

// StoreSink writes the first update of a job as a run start and its
// terminal update as the run finish. Intermediate updates are dropped; the
// history table tracks runs, not ticks.
type StoreSink struct {
	recorder HistoryRecorder

	mu      sync.Mutex
	started map[string]bool
}

// NewStoreSink builds a StoreSink over a recorder.
func NewStoreSink(recorder HistoryRecorder) *StoreSink {
	return &StoreSink{recorder: recorder, started: make(map[string]bool)}
}

// Record forwards run boundaries to the recorder.
func (s *StoreSink) Record(ctx context.Context, upd progress.Update) error {
	s.mu.Lock()
	first := !s.started[upd.JobID]
	if first {
		s.started[upd.JobID] = true
	}
	terminal := upd.Snap.Status.Terminal()
	if terminal {
		delete(s.started, upd.JobID)
	}
	s.mu.Unlock()

	if first {
		if err := s.recorder.RecordStart(ctx, upd.JobID, upd.Kind, upd.At); err != nil {
			return err
		}
	}
	if terminal {
		errMsg := ""
		if upd.Snap.Status == progress.StatusError {
			errMsg = upd.Snap.Message
		}
		return s.recorder.RecordFinish(ctx, upd.JobID, upd.At,
			string(upd.Snap.Status), errMsg, upd.Pages, upd.Items)
	}
	return nil
}

// Close is a no-op; the History pool is owned by the caller.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
