// Package resolver picks collision-free file names in a destination directory.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Resolver hands out names that neither exist on disk nor were handed out
// earlier in the same session. It is safe for concurrent use.
type Resolver struct {
	mu       sync.Mutex
	reserved map[string]struct{} // cleaned absolute-or-joined paths
}

// New returns a Resolver with an empty reservation set.
func New() *Resolver {
	return &Resolver{reserved: make(map[string]struct{})}
}

// Resolve returns proposed unchanged if dir/proposed is free, otherwise the
// first free "stem_N.ext" for N = 1, 2, ... The returned name is reserved
// before Resolve returns.
func (r *Resolver) Resolve(proposed, dir string) (string, error) {
	if proposed == "" || proposed != filepath.Base(proposed) {
		return "", errors.Errorf("invalid file name %q", proposed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	free, err := r.free(dir, proposed)
	if err != nil {
		return "", err
	}
	if free {
		r.reserve(dir, proposed)
		return proposed, nil
	}

	stem, ext := SplitName(proposed)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		free, err := r.free(dir, candidate)
		if err != nil {
			return "", err
		}
		if free {
			r.reserve(dir, candidate)
			return candidate, nil
		}
	}
}

// Release drops a reservation, e.g. after a failed copy left nothing behind.
func (r *Resolver) Release(name, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, key(dir, name))
}

// Reserved reports whether name in dir was handed out in this session.
func (r *Resolver) Reserved(name, dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reserved[key(dir, name)]
	return ok
}

// r.mu must be held.
func (r *Resolver) free(dir, name string) (bool, error) {
	k := key(dir, name)
	if _, ok := r.reserved[k]; ok {
		return false, nil
	}
	_, err := os.Lstat(k)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "checking %s", k)
	}
	return false, nil
}

// r.mu must be held.
func (r *Resolver) reserve(dir, name string) {
	r.reserved[key(dir, name)] = struct{}{}
}

func key(dir, name string) string {
	return filepath.Join(dir, name)
}

// SplitName splits name into stem and final extension. Dotfiles such as
// ".bashrc" have no extension.
func SplitName(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	stem = strings.TrimSuffix(name, ext)
	if stem == "" || strings.Trim(stem, ".") == "" {
		return name, ""
	}
	return stem, ext
}
