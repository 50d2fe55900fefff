package sync

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/chmdznr/filesync/internal/db"
	"github.com/chmdznr/filesync/internal/hasher"
	"github.com/chmdznr/filesync/internal/progress"
	"github.com/chmdznr/filesync/internal/resolver"
	"github.com/chmdznr/filesync/pkg/models"
	"github.com/chmdznr/filesync/pkg/utils"
)

// SyncerConfig holds configuration for the syncer
type SyncerConfig struct {
	Sources     []string
	Destination string
	KeepDB      bool

	NumWorkers int
	BatchSize  int

	// PreserveTree keeps each file's directory relative to its source root.
	// By default every file lands directly in Destination.
	PreserveTree bool

	Algorithm hasher.Algorithm

	// Rehash ignores fingerprints cached in a retained index.
	Rehash bool

	// ScanDestination indexes files already present in Destination before
	// any source is scanned, so their content is never copied again.
	ScanDestination bool

	// MaxWriteErrors consecutive write failures abort the run. Zero disables the limit.
	MaxWriteErrors int

	Verbose bool
}

// DefaultSyncerConfig returns default syncer configuration
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		NumWorkers:      runtime.NumCPU(),
		BatchSize:       100,
		Algorithm:       hasher.SHA256,
		ScanDestination: true,
		MaxWriteErrors:  3,
	}
}

// Syncer copies content that the index has not seen yet from the sources of
// a Session into its destination. Fingerprints are computed by a pool of
// workers; every decision that touches the index or the destination is made
// by a single coordinator in enumeration order, so the first source listed
// always provides the canonical copy.
type Syncer struct {
	hasher   *hasher.Hasher
	resolver *resolver.Resolver
	reporter progress.Reporter

	numWorkers      int
	batchSize       int
	preserveTree    bool
	rehash          bool
	scanDestination bool
	maxWriteErrors  int
	verbose         bool

	dirsMade map[string]struct{}
}

// NewSyncer creates a new syncer instance
func NewSyncer(config *SyncerConfig, reporter progress.Reporter) (*Syncer, error) {
	if config == nil {
		defaultConfig := DefaultSyncerConfig()
		config = &defaultConfig
	}
	if reporter == nil {
		reporter = progress.Nop()
	}

	h, err := hasher.New(config.Algorithm)
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Err: err}
	}

	numWorkers := config.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	batchSize := config.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	return &Syncer{
		hasher:          h,
		resolver:        resolver.New(),
		reporter:        reporter,
		numWorkers:      numWorkers,
		batchSize:       batchSize,
		preserveTree:    config.PreserveTree,
		rehash:          config.Rehash,
		scanDestination: config.ScanDestination,
		maxWriteErrors:  config.MaxWriteErrors,
		verbose:         config.Verbose,
		dirsMade:        make(map[string]struct{}),
	}, nil
}

// Run performs a complete sync: it opens a session for cfg, syncs every
// source and closes the session again, deleting the index unless cfg.KeepDB.
// The report is nil only when the session could not be created.
func Run(ctx context.Context, cfg SyncerConfig, reporter progress.Reporter) (*models.SyncReport, error) {
	syncer, err := NewSyncer(&cfg, reporter)
	if err != nil {
		return nil, err
	}
	sess, err := NewSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	report, err := syncer.Run(ctx, sess)
	if cerr := sess.Close(); cerr != nil && err == nil {
		err = newError(KindStore, sess.Store.Path(), cerr)
	}
	return report, err
}

// fileTask is one regular file found under a root.
type fileTask struct {
	path string // absolute
	rel  string // relative to its root
	info fs.FileInfo
	done chan hashResult
}

type hashResult struct {
	fp  models.Fingerprint
	err error // *Error
}

// Run syncs every source of sess, in order. Per-file failures are recorded
// in the session; the returned error is non-nil only for fatal ones.
func (sy *Syncer) Run(ctx context.Context, sess *Session) (*models.SyncReport, error) {
	sess.setState(models.StateScanning)

	if sy.scanDestination {
		if err := sy.indexDestination(ctx, sess); err != nil {
			return sy.abort(sess, err)
		}
	}

	var tasks []*fileTask
	for _, root := range sess.Sources {
		found, err := sy.enumerate(ctx, sess, root, false)
		if err != nil {
			return sy.abort(sess, err)
		}
		tasks = append(tasks, found...)
	}

	var totalSize int64
	for _, t := range tasks {
		totalSize += t.info.Size()
	}
	log.Printf("Starting sync of %d files (%s) from %d source(s)", len(tasks), utils.FormatSize(totalSize), len(sess.Sources))

	sy.reporter.Start(int64(len(tasks)))
	err := sy.pipeline(ctx, sess, tasks, sy.syncHandler(ctx, sess, len(tasks)))
	sy.reporter.Finish()
	if err != nil {
		return sy.abort(sess, err)
	}

	sess.setState(models.StateFinalizing)
	if err := sess.Store.FinishSession(ctx, sess.record()); err != nil {
		return sy.abort(sess, newError(KindStore, sess.Store.Path(), err))
	}
	sess.setState(models.StateDone)
	return sess.Report(), nil
}

func (sy *Syncer) abort(sess *Session, err error) (*models.SyncReport, error) {
	sess.setState(models.StateAborted)
	return sess.Report(), err
}

// enumerate lists the regular files under root depth-first in lexical order.
// Unreadable entries are recorded and skipped. When walking the destination
// itself, the index files are left out; otherwise a destination nested
// inside root is pruned.
func (sy *Syncer) enumerate(ctx context.Context, sess *Session, root string, isDestination bool) ([]*fileTask, error) {
	var tasks []*fileTask

	err := filepath.WalkDir(root, sy.visit(ctx, sess, root, isDestination, &tasks))
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindCanceled, "", ctx.Err())
		}
		return nil, newError(KindRead, root, err)
	}
	return tasks, nil
}

// visit returns the WalkDir callback for enumerate, appending to tasks.
func (sy *Syncer) visit(ctx context.Context, sess *Session, root string, isDestination bool, tasks *[]*fileTask) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			sess.recordError(newError(KindRead, path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if !isDestination && path != root && path == sess.Destination {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if isDestination && filepath.Dir(path) == root && db.IsStoreFile(name) {
			return nil
		}
		if !d.Type().IsRegular() {
			sy.logf("SKIP %s: not a regular file", path)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			sess.recordError(newError(KindRead, path, err))
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			sess.recordError(newError(KindRead, path, err))
			return nil
		}

		*tasks = append(*tasks, &fileTask{
			path: path,
			rel:  rel,
			info: info,
			done: make(chan hashResult, 1),
		})
		return nil
	}
}

// pipeline fingerprints tasks on the worker pool and hands each result to
// handle in task order. handle runs on the calling goroutine only.
func (sy *Syncer) pipeline(ctx context.Context, sess *Session, tasks []*fileTask, handle func(i int, t *fileTask, res hashResult) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan *fileTask, sy.numWorkers)

	g.Go(func() error {
		defer close(jobs)
		for _, t := range tasks {
			select {
			case jobs <- t:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := 0; i < sy.numWorkers; i++ {
		g.Go(func() error {
			for t := range jobs {
				t.done <- sy.fingerprint(gctx, sess, t)
			}
			return nil
		})
	}

	err := func() error {
		for i, t := range tasks {
			var res hashResult
			select {
			case res = <-t.done:
			case <-ctx.Done():
				return newError(KindCanceled, "", ctx.Err())
			}
			// Cancellation is honored between files, never mid-copy.
			if ctx.Err() != nil {
				return newError(KindCanceled, "", ctx.Err())
			}
			if err := handle(i, t, res); err != nil {
				return err
			}
		}
		return nil
	}()

	cancel()
	g.Wait()
	return err
}

// fingerprint runs on a worker. A retained index lets unchanged files
// (same size and modification time) skip hashing.
func (sy *Syncer) fingerprint(ctx context.Context, sess *Session, t *fileTask) hashResult {
	if err := ctx.Err(); err != nil {
		return hashResult{err: newError(KindCanceled, t.path, err)}
	}

	if sess.Retain && !sy.rehash {
		src, err := sess.Store.GetSource(ctx, t.path)
		switch {
		case err == nil:
			if src.Size == t.info.Size() && src.ModTime.Equal(t.info.ModTime()) {
				return hashResult{fp: src.Fingerprint}
			}
		case errors.Is(err, db.ErrNotFound):
		case ctx.Err() != nil:
			return hashResult{err: newError(KindCanceled, t.path, ctx.Err())}
		default:
			return hashResult{err: newError(KindStore, t.path, err)}
		}
	}

	fp, _, err := sy.hasher.Fingerprint(t.path)
	if err != nil {
		return hashResult{err: newError(KindRead, t.path, err)}
	}
	return hashResult{fp: fp}
}

// syncHandler returns the coordinator step for source files.
func (sy *Syncer) syncHandler(ctx context.Context, sess *Session, total int) func(int, *fileTask, hashResult) error {
	var consecutiveWriteErrors int

	return func(i int, t *fileTask, res hashResult) error {
		outcome, err := sy.syncFile(ctx, sess, t, res)

		if err != nil {
			var e *Error
			if !errors.As(err, &e) {
				e = newError(KindUnknown, t.path, err)
			}
			if e.Kind == KindCanceled {
				return e
			}
			sess.recordError(e)
			if e.Kind == KindWrite {
				consecutiveWriteErrors++
				if destinationUnusable(e.Err) || (sy.maxWriteErrors > 0 && consecutiveWriteErrors >= sy.maxWriteErrors) {
					return escalate(e)
				}
			}
			if e.Fatal() {
				return e
			}
		} else if outcome == progress.Copied {
			consecutiveWriteErrors = 0
		}

		sy.reporter.Update(progress.Event{
			Processed: int64(i + 1),
			Total:     int64(total),
			Path:      t.path,
			Size:      t.info.Size(),
			Outcome:   outcome,
		})
		return nil
	}
}

// syncFile classifies one fingerprinted source file and copies it when its
// content is new. Only the coordinator calls it.
func (sy *Syncer) syncFile(ctx context.Context, sess *Session, t *fileTask, res hashResult) (progress.Outcome, error) {
	sess.scanned.Add(1)
	if res.err != nil {
		return progress.Failed, res.err
	}

	rec, err := sess.Store.Lookup(ctx, res.fp)
	switch {
	case err == nil:
		sess.skipped.Add(1)
		sy.logf("DUP  %s = %s", t.path, rec.CanonicalPath)
		return progress.Duplicate, sy.saveSource(ctx, sess, t, res.fp)
	case !errors.Is(err, db.ErrNotFound):
		return progress.Failed, newError(KindStore, t.path, err)
	}

	dir := sess.Destination
	if sy.preserveTree {
		dir = filepath.Join(sess.Destination, filepath.Dir(t.rel))
		if err := sy.ensureDir(dir); err != nil {
			return progress.Failed, newError(KindWrite, dir, err)
		}
	}

	name, rel, err := sy.resolveTarget(ctx, sess, t, dir)
	if err != nil {
		return progress.Failed, err
	}
	target := filepath.Join(dir, name)

	n, err := sy.copyFile(t.path, t.info, target, res.fp)
	if err != nil {
		sy.resolver.Release(name, dir)
		return progress.Failed, err
	}

	err = sess.Store.Insert(ctx, models.FileRecord{
		Fingerprint:   res.fp,
		CanonicalPath: rel,
		Size:          n,
		SourcePath:    t.path,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		// An unindexed copy would be copied again by the next run.
		os.Remove(target)
		return progress.Failed, newError(KindStore, t.path, err)
	}

	sess.copied.Add(1)
	sess.bytesCopied.Add(n)
	sy.logf("COPY %s -> %s", t.path, rel)
	return progress.Copied, sy.saveSource(ctx, sess, t, res.fp)
}

// resolveTarget picks a free name in dir for t. The index file names in the
// destination root are never handed out. A name that is free on disk but
// still recorded in the index (its copy was deleted) stays reserved and the
// next candidate is tried.
func (sy *Syncer) resolveTarget(ctx context.Context, sess *Session, t *fileTask, dir string) (name, rel string, err error) {
	for {
		name, err = sy.resolver.Resolve(t.info.Name(), dir)
		if err != nil {
			return "", "", newError(KindWrite, t.path, err)
		}
		rel, err = filepath.Rel(sess.Destination, filepath.Join(dir, name))
		if err != nil {
			return "", "", newError(KindWrite, t.path, err)
		}
		if filepath.Clean(dir) == sess.Destination && db.IsStoreFile(name) {
			// The index may delete these names when it closes or reopens.
			sy.logf("SKIP name %s: reserved for the index", rel)
			continue
		}

		_, err = sess.Store.LookupPath(ctx, rel)
		switch {
		case errors.Is(err, db.ErrNotFound):
			return name, filepath.ToSlash(rel), nil
		case err != nil:
			sy.resolver.Release(name, dir)
			return "", "", newError(KindStore, t.path, err)
		}
		sy.logf("SKIP name %s: recorded in index but missing on disk", rel)
	}
}

func (sy *Syncer) saveSource(ctx context.Context, sess *Session, t *fileTask, fp models.Fingerprint) error {
	if !sess.Retain {
		return nil
	}
	err := sess.Store.SaveSource(ctx, models.SourceRecord{
		SourcePath:  t.path,
		Fingerprint: fp,
		Size:        t.info.Size(),
		ModTime:     t.info.ModTime(),
	})
	if err != nil {
		return newError(KindStore, t.path, err)
	}
	return nil
}

func (sy *Syncer) logf(format string, args ...interface{}) {
	if sy.verbose {
		log.Printf(format, args...)
	}
}
