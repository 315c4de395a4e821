// Package job owns the lifecycle of extraction jobs: creation, progress,
// cancellation, artifact handling, and garbage collection.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/sitegrab/sitegrab/internal/progress"
)

// Kind names the pipeline a job runs.
type Kind string

// Pipeline kinds.
const (
	KindText   Kind = "text"
	KindImages Kind = "images"
)

// Canonical terminal error messages. Everything else is wrapped as an
// internal error by the pipeline.
const (
	MsgCancelled = "cancelled by user"
	MsgNoContent = "no content found"
	MsgNoPages   = "no pages discovered"
	MsgBlocked   = "target blocked us"
)

// Artifact is a finished job's output stored in the blob store.
type Artifact struct {
	Path        string // blob store path
	ContentType string
	Filename    string // suggested download filename
}

// Session is the abortable renderer handle a pipeline attaches while it
// holds a browser tab.
type Session interface {
	Close()
}

// Job is one unit of work. The running pipeline is the only writer of its
// mutable fields; Cancel is the only externally triggered one and is safe
// to call concurrently with the pipeline.
type Job struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	broadcaster *progress.Broadcaster
	notify      func(progress.Update)
	cancelRun   context.CancelFunc

	// pubMu orders snapshot fan-out: it is held across the mutation and
	// the broadcast so two concurrent publishes cannot reach subscribers
	// out of order. Always acquired before mu.
	pubMu sync.Mutex

	mu         sync.Mutex
	snap       progress.Snapshot
	cancelled  bool
	finishedAt time.Time
	artifact   *Artifact
	session    Session
	pages      int
	items      int
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() progress.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap.Status
}

// Snapshot returns the current progress view.
func (j *Job) Snapshot() progress.Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}

// Subscribe attaches a progress listener; the latest snapshot is replayed
// immediately.
func (j *Job) Subscribe() (<-chan progress.Snapshot, func()) {
	return j.broadcaster.Subscribe()
}

// Cancelled reports whether cancellation was requested. Pipelines poll this
// at stage boundaries.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// AttachSession registers the renderer session so Cancel can force-close it.
func (j *Job) AttachSession(s Session) {
	j.mu.Lock()
	j.session = s
	j.mu.Unlock()
}

// DetachSession clears the session handle once the pipeline is done with it.
func (j *Job) DetachSession() {
	j.mu.Lock()
	j.session = nil
	j.mu.Unlock()
}

// SetStage resets the stage counters and publishes. Percent never moves
// backwards.
func (j *Job) SetStage(message string, total int, percent int) {
	j.publish(func(s *progress.Snapshot) {
		s.Message = message
		s.Current = 0
		s.Total = total
		if percent > s.Percent {
			s.Percent = percent
		}
	})
}

// Advance moves the stage's current counter and interpolates percent inside
// the stage's [from, to] percent window.
func (j *Job) Advance(current int, from, to int) {
	j.publish(func(s *progress.Snapshot) {
		if current > s.Current {
			s.Current = current
		}
		if s.Total > 0 {
			p := from + (to-from)*s.Current/s.Total
			if p > s.Percent {
				s.Percent = p
			}
		}
	})
}

// CountPage records one crawled page for history counters.
func (j *Job) CountPage() {
	j.mu.Lock()
	j.pages++
	j.mu.Unlock()
}

// CountItems records produced items (sections or stored images).
func (j *Job) CountItems(n int) {
	j.mu.Lock()
	j.items = n
	j.mu.Unlock()
}

// Counters returns pages seen and items produced.
func (j *Job) Counters() (pages, items int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pages, j.items
}

// Finish marks the job done with its artifact.
func (j *Job) Finish(artifact Artifact, now time.Time) {
	j.mu.Lock()
	if j.snap.Status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.artifact = &artifact
	j.finishedAt = now
	j.mu.Unlock()

	j.publish(func(s *progress.Snapshot) {
		s.Status = progress.StatusDone
		s.Percent = 100
		s.Message = "done"
	})
	j.broadcaster.Close()
}

// Fail marks the job as errored. A cancelled job always reports the
// cancellation message regardless of what the pipeline failed with.
func (j *Job) Fail(message string, now time.Time) {
	j.mu.Lock()
	if j.snap.Status.Terminal() {
		j.mu.Unlock()
		return
	}
	if j.cancelled {
		message = MsgCancelled
	}
	j.finishedAt = now
	j.mu.Unlock()

	j.publish(func(s *progress.Snapshot) {
		s.Status = progress.StatusError
		s.Message = message
	})
	j.broadcaster.Close()
}

// Artifact returns the finished artifact, if any.
func (j *Job) Artifact() *Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifact
}

// FinishedAt returns when the job reached a terminal state.
func (j *Job) FinishedAt() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt, !j.finishedAt.IsZero()
}

// cancel flips the flag, aborts the pipeline context, and force-closes the
// renderer session. Idempotent.
func (j *Job) cancel() bool {
	j.mu.Lock()
	if j.cancelled || j.snap.Status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.cancelled = true
	session := j.session
	j.mu.Unlock()

	if j.cancelRun != nil {
		j.cancelRun()
	}
	if session != nil {
		session.Close()
	}
	return true
}

// publish applies a mutation to the snapshot under lock and fans the result
// out to subscribers and sinks. pubMu stays held through the broadcast so
// subscribers see snapshots in mutation order.
func (j *Job) publish(mutate func(*progress.Snapshot)) {
	j.pubMu.Lock()
	defer j.pubMu.Unlock()

	j.mu.Lock()
	if j.snap.Status.Terminal() {
		j.mu.Unlock()
		return
	}
	mutate(&j.snap)
	snap := j.snap
	pages, items := j.pages, j.items
	j.mu.Unlock()

	j.broadcaster.Publish(snap)
	if j.notify != nil {
		j.notify(progress.Update{
			JobID: j.ID,
			Kind:  string(j.Kind),
			At:    time.Now().UTC(),
			Snap:  snap,
			Pages: pages,
			Items: items,
		})
	}
}
