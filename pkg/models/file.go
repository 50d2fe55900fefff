package models

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"time"
)

// FingerprintSize is the length in bytes of a content fingerprint.
const FingerprintSize = 32

// Fingerprint is the content digest of a file.
type Fingerprint [FingerprintSize]byte

// ZeroFingerprint is the zero value of a Fingerprint.
var ZeroFingerprint Fingerprint

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == ZeroFingerprint
}

// ParseFingerprint decodes the hex form produced by Fingerprint.String.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	if len(s) != 2*FingerprintSize {
		return f, fmt.Errorf("fingerprint %q: wrong length %d", s, len(s))
	}
	if _, err := hex.Decode(f[:], []byte(s)); err != nil {
		return f, fmt.Errorf("fingerprint %q: %v", s, err)
	}
	return f, nil
}

// MarshalText encodes f as hex, so JSON output carries readable fingerprints.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Value implements driver.Valuer. Fingerprints are stored as hex text.
func (f Fingerprint) Value() (driver.Value, error) {
	return f.String(), nil
}

// Scan implements sql.Scanner.
func (f *Fingerprint) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Fingerprint", src)
	}
	parsed, err := ParseFingerprint(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// FileRecord is the index entry for one piece of content.
// CanonicalPath is relative to the destination root, slash-separated.
type FileRecord struct {
	Fingerprint   Fingerprint `json:"fingerprint"`
	CanonicalPath string      `json:"canonical_path"`
	Size          int64       `json:"size"`
	SourcePath    string      `json:"source_path"`
	CreatedAt     time.Time   `json:"created_at"`
}

// SourceRecord remembers the fingerprint last computed for a source file.
type SourceRecord struct {
	SourcePath  string
	Fingerprint Fingerprint
	Size        int64
	ModTime     time.Time
}
