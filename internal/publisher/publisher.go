// Package publisher emits terminal job events to external consumers.
package publisher

import (
	"context"
	"time"
)

// Event describes one finished job.
type Event struct {
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Publisher delivers terminal events. Implementations must tolerate
// concurrent calls.
type Publisher interface {
	Publish(ctx context.Context, ev Event) (string, error)
	Close() error
}
