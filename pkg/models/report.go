package models

import "time"

// FileError is a recoverable failure attributed to one path.
type FileError struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SyncReport is the outcome of a sync run.
type SyncReport struct {
	SessionID   string        `json:"session_id"`
	State       State         `json:"state"`
	Sources     []string      `json:"sources"`
	Destination string        `json:"destination"`
	Indexed     int64         `json:"indexed"`
	Scanned     int64         `json:"scanned"`
	Copied      int64         `json:"copied"`
	Skipped     int64         `json:"skipped"`
	Errored     int64         `json:"errored"`
	BytesCopied int64         `json:"bytes_copied"`
	Duration    time.Duration `json:"duration"`
	Errors      []FileError   `json:"errors,omitempty"`
}

// Success reports whether the run finished without a fatal error.
func (r *SyncReport) Success() bool {
	return r.State == StateDone
}
