// Package hasher computes content fingerprints of files.
package hasher

import (
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/chmdznr/filesync/pkg/models"
)

// Algorithm names a 256-bit digest.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// ChunkSize is the read size used when streaming a file through the digest.
const ChunkSize = 1 << 20

// ErrUnknownAlgorithm is returned by New for unsupported algorithm names.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// ReadError reports a file that could not be read to completion.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return "reading " + e.Path + ": " + e.Err.Error()
}

func (e *ReadError) Unwrap() error { return e.Err }

// Hasher streams files through a digest using pooled, fixed-size buffers.
// It is safe for concurrent use.
type Hasher struct {
	algo Algorithm
	pool sync.Pool
}

// New returns a Hasher for algo.
func New(algo Algorithm) (*Hasher, error) {
	switch algo {
	case SHA256, BLAKE2b:
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "%q", algo)
	}
	h := &Hasher{algo: algo}
	h.pool.New = func() interface{} {
		b := make([]byte, ChunkSize)
		return &b
	}
	return h, nil
}

// Algorithm returns the digest used by h.
func (h *Hasher) Algorithm() Algorithm {
	return h.algo
}

// NewHash returns a fresh digest state.
func (h *Hasher) NewHash() hash.Hash {
	if h.algo == BLAKE2b {
		// New256 only fails for keys longer than 64 bytes.
		d, _ := blake2b.New256(nil)
		return d
	}
	return sha256.New()
}

// Sum converts a finished digest into a Fingerprint.
func Sum(d hash.Hash) models.Fingerprint {
	var f models.Fingerprint
	copy(f[:], d.Sum(nil))
	return f
}

// Buffer borrows a ChunkSize buffer. Return it with PutBuffer.
func (h *Hasher) Buffer() *[]byte {
	return h.pool.Get().(*[]byte)
}

// PutBuffer returns a buffer obtained from Buffer.
func (h *Hasher) PutBuffer(b *[]byte) {
	h.pool.Put(b)
}

// Fingerprint digests the file at path and returns its fingerprint and size.
// Any failure to open or read the file is a *ReadError.
func (h *Hasher) Fingerprint(path string) (models.Fingerprint, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.ZeroFingerprint, 0, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	fp, n, err := h.FingerprintReader(f)
	if err != nil {
		return models.ZeroFingerprint, 0, &ReadError{Path: path, Err: err}
	}
	return fp, n, nil
}

// FingerprintReader digests everything readable from r.
func (h *Hasher) FingerprintReader(r io.Reader) (models.Fingerprint, int64, error) {
	buf := h.Buffer()
	defer h.PutBuffer(buf)

	d := h.NewHash()
	n, err := io.CopyBuffer(d, r, *buf)
	if err != nil {
		return models.ZeroFingerprint, n, err
	}
	return Sum(d), n, nil
}
