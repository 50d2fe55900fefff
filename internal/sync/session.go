package sync

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chmdznr/filesync/internal/db"
	"github.com/chmdznr/filesync/pkg/models"
)

// Session is the context of one run: the ordered source roots, the
// destination, the index it owns, its lifecycle state and its counters.
type Session struct {
	ID          string
	Sources     []string // absolute, in configured order
	Destination string   // absolute
	Retain      bool
	Store       *db.DB

	mu       sync.Mutex
	state    models.State
	started  time.Time
	finished time.Time
	errs     []models.FileError
	closed   bool

	indexed     atomic.Int64
	scanned     atomic.Int64
	copied      atomic.Int64
	skipped     atomic.Int64
	errored     atomic.Int64
	bytesCopied atomic.Int64
}

// NewSession validates the roots in cfg, prepares the destination and opens
// the index. Nothing is created when a source is invalid.
func NewSession(ctx context.Context, cfg SyncerConfig) (*Session, error) {
	if len(cfg.Sources) == 0 {
		return nil, invalidArgf("at least one source directory is required")
	}
	if cfg.Destination == "" {
		return nil, invalidArgf("a destination directory is required")
	}

	dest, err := filepath.Abs(cfg.Destination)
	if err != nil {
		return nil, invalidArgf("destination %s: %v", cfg.Destination, err)
	}

	sources := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		abs, err := checkSource(src)
		if err != nil {
			return nil, err
		}
		if abs == dest {
			return nil, invalidArgf("source %s is the destination", src)
		}
		sources = append(sources, abs)
	}

	if err := prepareDestination(dest); err != nil {
		return nil, err
	}

	store, err := db.Open(ctx, dest, !cfg.KeepDB)
	if err != nil {
		return nil, newError(KindStore, db.Path(dest), err)
	}
	if err := store.EnsureAlgorithm(ctx, string(cfg.Algorithm)); err != nil {
		store.Close(cfg.KeepDB)
		return nil, newError(KindStore, store.Path(), err)
	}

	s := &Session{
		ID:          uuid.NewString(),
		Sources:     sources,
		Destination: dest,
		Retain:      cfg.KeepDB,
		Store:       store,
		state:       models.StateInit,
		started:     time.Now(),
	}
	if err := store.BeginSession(ctx, s.record()); err != nil {
		store.Close(cfg.KeepDB)
		return nil, newError(KindStore, store.Path(), err)
	}
	return s, nil
}

func checkSource(src string) (string, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", invalidArgf("source %s: %v", src, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", invalidArgf("source %s: %v", src, err)
	}
	if !info.IsDir() {
		return "", invalidArgf("source %s is not a directory", src)
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", invalidArgf("source %s is not readable: %v", src, err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		return "", invalidArgf("source %s is not readable: %v", src, err)
	}
	return abs, nil
}

func prepareDestination(dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return invalidArgf("destination %s: %v", dest, err)
	}
	probe, err := os.CreateTemp(dest, tempPrefix+"probe-*")
	if err != nil {
		return invalidArgf("destination %s is not writable: %v", dest, err)
	}
	probe.Close()
	return errors.Wrap(os.Remove(probe.Name()), "removing write probe")
}

// State returns the current lifecycle state.
func (s *Session) State() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st models.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StateDone || s.state == models.StateAborted {
		return
	}
	s.state = st
	if st == models.StateDone || st == models.StateAborted {
		s.finished = time.Now()
	}
}

// recordError counts a per-file error and keeps it for the report.
func (s *Session) recordError(e *Error) {
	s.errored.Add(1)
	s.mu.Lock()
	s.errs = append(s.errs, fileError(e))
	s.mu.Unlock()
	log.Printf("ERROR %v", e)
}

func (s *Session) record() models.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionRecord{
		ID:          s.ID,
		Destination: s.Destination,
		StartedAt:   s.started,
		FinishedAt:  s.finished,
		State:       s.state,
		Scanned:     s.scanned.Load(),
		Copied:      s.copied.Load(),
		Skipped:     s.skipped.Load(),
		Errored:     s.errored.Load(),
	}
}

// Report summarizes the session so far.
func (s *Session) Report() *models.SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.finished
	if end.IsZero() {
		end = time.Now()
	}
	errs := make([]models.FileError, len(s.errs))
	copy(errs, s.errs)

	return &models.SyncReport{
		SessionID:   s.ID,
		State:       s.state,
		Sources:     append([]string(nil), s.Sources...),
		Destination: s.Destination,
		Indexed:     s.indexed.Load(),
		Scanned:     s.scanned.Load(),
		Copied:      s.copied.Load(),
		Skipped:     s.skipped.Load(),
		Errored:     s.errored.Load(),
		BytesCopied: s.bytesCopied.Load(),
		Duration:    end.Sub(s.started),
		Errors:      errs,
	}
}

// Close ends the session. A session that never reached DONE is recorded as
// ABORTED. The index is deleted unless the session retains it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.setState(models.StateAborted)

	// The run context may already be canceled; the final bookkeeping must still land.
	if err := s.Store.FinishSession(context.Background(), s.record()); err != nil {
		log.Printf("Warning: %v", err)
	}
	return s.Store.Close(s.Retain)
}
