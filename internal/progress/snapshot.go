// Package progress models job progress snapshots and their fan-out to
// subscribers and out-of-band sinks.
package progress

import "time"

// Status is the externally visible lifecycle state of a job.
type Status string

// Job status values. Done and Error are terminal.
const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Snapshot is one point-in-time view of a job, pushed to every subscriber on
// each state change. Current and Total are scoped to the stage named by
// Message and reset when the stage changes.
type Snapshot struct {
	Status  Status `json:"status"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Update annotates a snapshot with its job for sink consumers. Pages and
// Items are the job's cumulative counters, unlike the stage-scoped
// Snap.Current and Snap.Total.
type Update struct {
	JobID string
	Kind  string
	At    time.Time
	Snap  Snapshot
	Pages int
	Items int
}
