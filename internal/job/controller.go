package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/metrics"
	"github.com/sitegrab/sitegrab/internal/progress"
	"github.com/sitegrab/sitegrab/internal/publisher"
	"github.com/sitegrab/sitegrab/internal/storage"
)

// Artifact retrieval errors surfaced to the API layer.
var (
	ErrUnknownJob = errors.New("unknown job")
	ErrNotReady   = errors.New("job still running")
	ErrJobFailed  = errors.New("job failed")
	ErrNoArtifact = errors.New("job has no artifact")
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes job retention and artifact handling.
type Config struct {
	Retention     time.Duration
	SweepInterval time.Duration
	DeleteOnFetch bool
}

func (c *Config) applyDefaults() {
	if c.Retention <= 0 {
		c.Retention = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

// Controller owns the job registry. Exactly one pipeline run owns each
// job's mutable state; the controller mediates external access.
type Controller struct {
	cfg    Config
	clock  Clock
	ids    IDGenerator
	blobs  storage.BlobStore
	sink   progress.Sink       // optional
	pub    publisher.Publisher // optional
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewController wires a controller. sink and pub may be nil.
func NewController(cfg Config, clock Clock, ids IDGenerator, blobs storage.BlobStore, sink progress.Sink, pub publisher.Publisher, logger *zap.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Controller{
		cfg:    cfg,
		clock:  clock,
		ids:    ids,
		blobs:  blobs,
		sink:   sink,
		pub:    pub,
		logger: logger,
		jobs:   make(map[string]*Job),
	}
}

// Create registers a new running job and returns it together with the
// context its pipeline must run under.
func (c *Controller) Create(kind Kind) (*Job, context.Context, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return nil, nil, fmt.Errorf("allocate job id: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())

	j := &Job{
		ID:          id,
		Kind:        kind,
		CreatedAt:   c.clock.Now(),
		broadcaster: progress.NewBroadcaster(),
		cancelRun:   cancel,
		snap:        progress.Snapshot{Status: progress.StatusRunning, Message: "accepted"},
	}
	j.notify = c.makeNotify(j)

	c.mu.Lock()
	c.jobs[id] = j
	c.mu.Unlock()

	metrics.IncActiveJobs()
	j.publish(func(*progress.Snapshot) {}) // emit the accepted snapshot

	return j, runCtx, nil
}

// makeNotify builds the per-update hook: sink fan-out plus terminal side
// effects. Job counters and durations land in Prometheus through the
// PrometheusSink; the controller only maintains the active-jobs gauge.
func (c *Controller) makeNotify(j *Job) func(progress.Update) {
	var terminalOnce sync.Once
	return func(upd progress.Update) {
		if c.sink != nil {
			if err := c.sink.Record(context.Background(), upd); err != nil {
				c.logger.Warn("progress sink record failed",
					zap.String("job_id", upd.JobID), zap.Error(err))
			}
		}
		if !upd.Snap.Status.Terminal() {
			return
		}
		terminalOnce.Do(func() {
			metrics.DecActiveJobs()
			c.publishEvent(j, upd)
		})
	}
}

func (c *Controller) publishEvent(j *Job, upd progress.Update) {
	if c.pub == nil {
		return
	}
	ev := publisher.Event{
		JobID:      j.ID,
		Kind:       upd.Kind,
		Status:     string(upd.Snap.Status),
		FinishedAt: upd.At,
	}
	if upd.Snap.Status == progress.StatusError {
		ev.Error = upd.Snap.Message
	}
	if art := j.Artifact(); art != nil {
		ev.ArtifactURI = art.Path
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.pub.Publish(ctx, ev); err != nil {
		c.logger.Warn("terminal event publish failed",
			zap.String("job_id", j.ID), zap.Error(err))
	}
}

// Get looks a job up by ID.
func (c *Controller) Get(id string) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

// Cancel requests cancellation. The first call on a running job aborts its
// renderer session and pipeline context; repeat calls and calls on terminal
// jobs are no-ops. The pipeline observes the flag and finishes the job with
// the cancellation message.
func (c *Controller) Cancel(id string) (bool, error) {
	j, ok := c.Get(id)
	if !ok {
		return false, ErrUnknownJob
	}
	first := j.cancel()
	if first {
		c.logger.Info("job cancellation requested", zap.String("job_id", id))
	}
	return first, nil
}

// OpenArtifact streams a finished job's artifact. With DeleteOnFetch set
// the blob and the job are released once the returned reader is closed.
func (c *Controller) OpenArtifact(ctx context.Context, id string) (io.ReadCloser, Artifact, error) {
	j, ok := c.Get(id)
	if !ok {
		return nil, Artifact{}, ErrUnknownJob
	}
	snap := j.Snapshot()
	switch {
	case !snap.Status.Terminal():
		return nil, Artifact{}, ErrNotReady
	case snap.Status == progress.StatusError:
		return nil, Artifact{}, fmt.Errorf("%w: %s", ErrJobFailed, snap.Message)
	}
	art := j.Artifact()
	if art == nil {
		return nil, Artifact{}, ErrNoArtifact
	}
	rc, err := c.blobs.Open(ctx, art.Path)
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	if !c.cfg.DeleteOnFetch {
		return rc, *art, nil
	}
	return &releasingReader{ReadCloser: rc, release: func() { c.remove(j) }}, *art, nil
}

// releasingReader deletes the job and its artifact after the body has been
// fully served.
type releasingReader struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (r *releasingReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.release)
	return err
}

// Sweep removes terminal jobs whose retention has expired. Returns how many
// were removed.
func (c *Controller) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	var expired []*Job
	for _, j := range c.jobs {
		if finished, ok := j.FinishedAt(); ok && now.Sub(finished) >= c.cfg.Retention {
			expired = append(expired, j)
		}
	}
	c.mu.Unlock()

	for _, j := range expired {
		c.remove(j)
	}
	if len(expired) > 0 {
		c.logger.Info("swept expired jobs", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// RunSweeper loops Sweep until the context ends.
func (c *Controller) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// remove drops the job from the registry and deletes its stored artifact.
func (c *Controller) remove(j *Job) {
	c.mu.Lock()
	delete(c.jobs, j.ID)
	c.mu.Unlock()

	if art := j.Artifact(); art != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.blobs.Delete(ctx, art.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("artifact delete failed",
				zap.String("job_id", j.ID), zap.String("path", art.Path), zap.Error(err))
		}
	}
}

// Len reports how many jobs are registered (test hook).
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}
