package sync

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/chmdznr/filesync/internal/hasher"
	"github.com/chmdznr/filesync/pkg/models"
)

// tempPrefix marks partially written files in the destination.
const tempPrefix = ".filesync-"

// readTracker remembers whether a failure came from the source side of a copy.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// copyFile writes src to target through a temporary file in the target's
// directory and renames it into place once complete. The bytes are digested
// as they are written; a digest other than want means the source changed
// after it was fingerprinted and nothing is left behind.
func (sy *Syncer) copyFile(src string, info fs.FileInfo, target string, want models.Fingerprint) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, newError(KindRead, src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(target), tempPrefix+"*.tmp")
	if err != nil {
		return 0, newError(KindWrite, target, err)
	}
	tempPath := out.Name()
	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	buf := sy.hasher.Buffer()
	defer sy.hasher.PutBuffer(buf)

	digest := sy.hasher.NewHash()
	tracker := &readTracker{r: in}
	n, err := io.CopyBuffer(io.MultiWriter(out, digest), tracker, *buf)
	if err != nil {
		out.Close()
		if tracker.err != nil {
			return 0, newError(KindRead, src, tracker.err)
		}
		return 0, newError(KindWrite, target, err)
	}

	if got := hasher.Sum(digest); got != want {
		out.Close()
		return 0, newError(KindRead, src, errors.Errorf("content changed while syncing (fingerprint %s, expected %s)", got, want))
	}

	if err := out.Chmod(info.Mode().Perm()); err != nil {
		out.Close()
		return 0, newError(KindWrite, target, errors.Wrap(err, "setting permissions"))
	}
	// Close flushes, which may touch the modification time, so it comes before Chtimes.
	if err := out.Close(); err != nil {
		return 0, newError(KindWrite, target, err)
	}
	if err := os.Chtimes(tempPath, info.ModTime(), info.ModTime()); err != nil {
		return 0, newError(KindWrite, target, errors.Wrap(err, "setting timestamps"))
	}
	if err := os.Rename(tempPath, target); err != nil {
		return 0, newError(KindWrite, target, err)
	}
	tempPath = ""
	return n, nil
}

// ensureDir creates dir once per run.
func (sy *Syncer) ensureDir(dir string) error {
	if _, ok := sy.dirsMade[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	sy.dirsMade[dir] = struct{}{}
	return nil
}
