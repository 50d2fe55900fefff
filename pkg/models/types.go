package models

import "time"

// State is the lifecycle state of a sync session.
type State string

const (
	StateInit       State = "INIT"
	StateScanning   State = "SCANNING"
	StateFinalizing State = "FINALIZING"
	StateDone       State = "DONE"
	StateAborted    State = "ABORTED"
)

// SessionRecord is the persisted summary of one sync run.
type SessionRecord struct {
	ID          string
	Destination string
	StartedAt   time.Time
	FinishedAt  time.Time
	State       State
	Scanned     int64
	Copied      int64
	Skipped     int64
	Errored     int64
}
