package sync

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/chmdznr/filesync/internal/db"
	"github.com/chmdznr/filesync/pkg/models"
)

// indexDestination fingerprints files already in the destination and records
// them as canonical copies. Files the index already knows at their path are
// not read again; one whose size no longer matches its record is reported.
// Records are written in batches.
func (sy *Syncer) indexDestination(ctx context.Context, sess *Session) error {
	found, err := sy.enumerate(ctx, sess, sess.Destination, true)
	if err != nil {
		return err
	}

	var tasks []*fileTask
	for _, t := range found {
		rec, err := sess.Store.LookupPath(ctx, filepath.ToSlash(t.rel))
		switch {
		case err == nil && rec.Size == t.info.Size():
			continue
		case err == nil:
			// Records are immutable and the path is taken, so the new content cannot be indexed.
			log.Printf("Warning: %s changed since it was indexed (%d bytes recorded, %d now); keeping the recorded fingerprint %s",
				t.path, rec.Size, t.info.Size(), rec.Fingerprint)
			continue
		case errors.Is(err, db.ErrNotFound):
			tasks = append(tasks, t)
		default:
			return newError(KindStore, t.path, err)
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	log.Printf("Indexing %d existing files in %s", len(tasks), sess.Destination)

	batch := make([]models.FileRecord, 0, sy.batchSize)
	pending := make(map[models.Fingerprint]struct{})

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		added, err := sess.Store.InsertBatch(ctx, batch)
		if err != nil {
			return newError(KindStore, sess.Store.Path(), err)
		}
		sess.indexed.Add(int64(added))
		batch = batch[:0]
		return nil
	}

	err = sy.pipeline(ctx, sess, tasks, func(_ int, t *fileTask, res hashResult) error {
		if res.err != nil {
			var e *Error
			if !errors.As(res.err, &e) || e.Kind != KindRead {
				return res.err
			}
			sess.recordError(e)
			return nil
		}
		if _, ok := pending[res.fp]; ok {
			sy.logf("DUP  %s (already in destination)", t.path)
			return nil
		}
		pending[res.fp] = struct{}{}

		batch = append(batch, models.FileRecord{
			Fingerprint:   res.fp,
			CanonicalPath: t.rel,
			Size:          t.info.Size(),
			SourcePath:    t.path,
			CreatedAt:     time.Now(),
		})
		if len(batch) >= sy.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	log.Printf("Indexed %d files already in destination", sess.indexed.Load())
	return nil
}
