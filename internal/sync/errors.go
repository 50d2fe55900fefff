package sync

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"

	"github.com/chmdznr/filesync/pkg/models"
)

// Kind classifies sync errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindRead
	KindWrite
	KindStore
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindRead:
		return "read error"
	case KindWrite:
		return "write error"
	case KindStore:
		return "store error"
	case KindCanceled:
		return "canceled"
	}
	return "error"
}

// Error is a classified error attributed to a path when one is known.
type Error struct {
	Kind Kind
	Path string
	Err  error

	escalated bool
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the error aborts the run. Read errors never do;
// write errors only once they indicate the destination itself is unusable.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindInvalidArgument, KindStore, KindCanceled, KindUnknown:
		return true
	case KindWrite:
		return e.escalated
	}
	return false
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func invalidArgf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Err: errors.Errorf(format, args...)}
}

// escalate marks a write error as fatal.
func escalate(e *Error) *Error {
	e.escalated = true
	return e
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err should abort a run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return true
}

// destinationUnusable reports write failures that no retry on another file can fix.
func destinationUnusable(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EROFS) || errors.Is(err, syscall.EDQUOT)
}

func fileError(e *Error) models.FileError {
	return models.FileError{Path: e.Path, Kind: e.Kind.String(), Message: fmt.Sprint(e.Err)}
}
