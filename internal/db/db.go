package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/bobg/sqlutil"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/chmdznr/filesync/pkg/models"
)

// FileName is the name of the index inside the destination directory.
const FileName = "files.db"

// cacheSize bounds the in-memory fingerprint cache in front of SQLite.
const cacheSize = 64 * 1024

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned by Insert when the fingerprint is already indexed.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrAlgorithmMismatch is returned when an existing index was built with another hash.
	ErrAlgorithmMismatch = errors.New("index built with a different hash algorithm")
)

// DB is the metadata store: fingerprint -> FileRecord, plus the source path
// cache and the session log. Lookups go through a write-through LRU cache
// that is only populated from committed rows, so it never serves stale data.
type DB struct {
	*sql.DB
	path  string
	cache *lru.Cache // Fingerprint -> models.FileRecord
}

// Schema is the SQL executed by Open.
const Schema = `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS files (
		fingerprint TEXT PRIMARY KEY NOT NULL,
		canonical_path TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		source_path TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sources (
		source_path TEXT PRIMARY KEY NOT NULL,
		fingerprint TEXT NOT NULL,
		size INTEGER NOT NULL,
		mod_time INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		destination TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		state TEXT,
		scanned INTEGER DEFAULT 0,
		copied INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sources_fingerprint ON sources(fingerprint);
	PRAGMA journal_mode=WAL;
	PRAGMA synchronous=NORMAL;
	PRAGMA temp_store=MEMORY;
`

// Path returns the store location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Open opens or creates the store in dir. With fresh set, a leftover store
// from an earlier run is removed first.
func Open(ctx context.Context, dir string, fresh bool) (*DB, error) {
	path := Path(dir)
	if fresh {
		if err := removeFiles(path); err != nil {
			return nil, errors.Wrap(err, "removing stale index")
		}
	}
	return open(ctx, path)
}

// OpenExisting opens a store that must already exist in dir.
func OpenExisting(ctx context.Context, dir string) (*DB, error) {
	path := Path(dir)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "no index at %s", path)
	}
	return open(ctx, path)
}

func open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	// One connection keeps the PRAGMAs in effect and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	cache, err := lru.New(cacheSize)
	if err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "creating lookup cache")
	}

	db := &DB{DB: sqlDB, path: path, cache: cache}
	if err := db.initialize(ctx); err != nil {
		sqlDB.Close()
		return nil, errors.Wrapf(err, "initializing %s", path)
	}
	return db, nil
}

func (db *DB) initialize(ctx context.Context) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

// Path returns the location of the backing file.
func (db *DB) Path() string {
	return db.path
}

// EnsureAlgorithm records algo for a new store, or verifies it matches the
// algorithm an existing store was built with.
func (db *DB) EnsureAlgorithm(ctx context.Context, algo string) error {
	var existing string
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'algorithm'`).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('algorithm', ?)`, algo)
		return errors.Wrap(err, "recording hash algorithm")
	}
	if err != nil {
		return errors.Wrap(err, "reading hash algorithm")
	}
	if existing != algo {
		return errors.Wrapf(ErrAlgorithmMismatch, "index uses %s, requested %s", existing, algo)
	}
	return nil
}

// Lookup returns the record for fp, or ErrNotFound.
func (db *DB) Lookup(ctx context.Context, fp models.Fingerprint) (models.FileRecord, error) {
	if v, ok := db.cache.Get(fp); ok {
		return v.(models.FileRecord), nil
	}

	rec, err := db.scanRecord(db.QueryRowContext(ctx, `
		SELECT fingerprint, canonical_path, size, source_path, created_at
		FROM files WHERE fingerprint = ?
	`, fp))
	if err != nil {
		return rec, err
	}
	db.cache.Add(fp, rec)
	return rec, nil
}

// LookupPath returns the record whose canonical copy lives at rel, or ErrNotFound.
func (db *DB) LookupPath(ctx context.Context, rel string) (models.FileRecord, error) {
	return db.scanRecord(db.QueryRowContext(ctx, `
		SELECT fingerprint, canonical_path, size, source_path, created_at
		FROM files WHERE canonical_path = ?
	`, filepath.ToSlash(rel)))
}

func (db *DB) scanRecord(row *sql.Row) (models.FileRecord, error) {
	var rec models.FileRecord
	err := row.Scan(&rec.Fingerprint, &rec.CanonicalPath, &rec.Size, &rec.SourcePath, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, errors.Wrap(err, "querying files")
	}
	return rec, nil
}

// Insert adds rec. It fails with ErrDuplicateKey if the fingerprint (or the
// canonical path) is already indexed; records are never replaced.
func (db *DB) Insert(ctx context.Context, rec models.FileRecord) error {
	if _, ok := db.cache.Get(rec.Fingerprint); ok {
		return errors.Wrapf(ErrDuplicateKey, "fingerprint %s", rec.Fingerprint)
	}
	rec = normalize(rec)

	_, err := db.ExecContext(ctx, `
		INSERT INTO files (fingerprint, canonical_path, size, source_path, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Fingerprint, rec.CanonicalPath, rec.Size, rec.SourcePath, rec.CreatedAt)
	if isConstraint(err) {
		return errors.Wrapf(ErrDuplicateKey, "fingerprint %s at %s", rec.Fingerprint, rec.CanonicalPath)
	}
	if err != nil {
		return errors.Wrapf(err, "inserting %s", rec.Fingerprint)
	}
	db.cache.Add(rec.Fingerprint, rec)
	return nil
}

// InsertBatch adds records in a single transaction, ignoring any whose
// fingerprint or canonical path is already present. It returns how many were added.
func (db *DB) InsertBatch(ctx context.Context, records []models.FileRecord) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (fingerprint, canonical_path, size, source_path, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return 0, errors.Wrap(err, "preparing batch insert")
	}
	defer stmt.Close()

	added := make([]models.FileRecord, 0, len(records))
	for _, rec := range records {
		rec = normalize(rec)
		res, err := stmt.ExecContext(ctx, rec.Fingerprint, rec.CanonicalPath, rec.Size, rec.SourcePath, rec.CreatedAt)
		if err != nil {
			return 0, errors.Wrapf(err, "inserting %s", rec.Fingerprint)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "counting affected rows")
		}
		if n > 0 {
			added = append(added, rec)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing batch")
	}
	for _, rec := range added {
		db.cache.Add(rec.Fingerprint, rec)
	}
	return len(added), nil
}

// ListRecords calls fn for every record in canonical path order.
func (db *DB) ListRecords(ctx context.Context, fn func(models.FileRecord) error) error {
	const q = `SELECT fingerprint, canonical_path, size, source_path, created_at FROM files ORDER BY canonical_path`
	return sqlutil.ForQueryRows(ctx, db.DB, q, func(fp models.Fingerprint, canonical string, size int64, source string, created time.Time) error {
		return fn(models.FileRecord{
			Fingerprint:   fp,
			CanonicalPath: canonical,
			Size:          size,
			SourcePath:    source,
			CreatedAt:     created,
		})
	})
}

// GetSource returns the cached fingerprint for a source file, or ErrNotFound.
func (db *DB) GetSource(ctx context.Context, sourcePath string) (models.SourceRecord, error) {
	rec := models.SourceRecord{SourcePath: sourcePath}
	var modTime int64
	err := db.QueryRowContext(ctx, `
		SELECT fingerprint, size, mod_time FROM sources WHERE source_path = ?
	`, sourcePath).Scan(&rec.Fingerprint, &rec.Size, &modTime)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, errors.Wrapf(err, "querying source %s", sourcePath)
	}
	rec.ModTime = time.Unix(0, modTime)
	return rec, nil
}

// SaveSource records the fingerprint computed for a source file.
func (db *DB) SaveSource(ctx context.Context, rec models.SourceRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sources (source_path, fingerprint, size, mod_time)
		VALUES (?, ?, ?, ?)
	`, rec.SourcePath, rec.Fingerprint, rec.Size, rec.ModTime.UnixNano())
	return errors.Wrapf(err, "saving source %s", rec.SourcePath)
}

// BeginSession records the start of a run.
func (db *DB) BeginSession(ctx context.Context, s models.SessionRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (id, destination, started_at, state)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.Destination, s.StartedAt.UTC(), string(s.State))
	return errors.Wrapf(err, "recording session %s", s.ID)
}

// FinishSession stores the final state and counters of a run.
func (db *DB) FinishSession(ctx context.Context, s models.SessionRecord) error {
	_, err := db.ExecContext(ctx, `
		UPDATE sessions
		SET finished_at = ?, state = ?, scanned = ?, copied = ?, skipped = ?, errors = ?
		WHERE id = ?
	`, s.FinishedAt.UTC(), string(s.State), s.Scanned, s.Copied, s.Skipped, s.Errored, s.ID)
	return errors.Wrapf(err, "finishing session %s", s.ID)
}

// LastSession returns the most recently started run, or ErrNotFound.
func (db *DB) LastSession(ctx context.Context) (models.SessionRecord, error) {
	var (
		s        models.SessionRecord
		state    string
		finished sql.NullTime
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, destination, started_at, finished_at, state, scanned, copied, skipped, errors
		FROM sessions ORDER BY rowid DESC LIMIT 1
	`).Scan(&s.ID, &s.Destination, &s.StartedAt, &finished, &state, &s.Scanned, &s.Copied, &s.Skipped, &s.Errored)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, errors.Wrap(err, "querying sessions")
	}
	s.State = models.State(state)
	if finished.Valid {
		s.FinishedAt = finished.Time
	}
	return s, nil
}

// GetStats returns statistics about the index
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COALESCE(SUM(size), 0) FROM files),
			(SELECT COUNT(*) FROM sources),
			(SELECT COUNT(*) FROM sessions)
	`).Scan(
		&stats.TotalFiles,
		&stats.TotalSize,
		&stats.TrackedSources,
		&stats.Sessions,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stats")
	}
	return &stats, nil
}

// Close closes the store. Unless retain is set, the backing files are deleted.
func (db *DB) Close(retain bool) error {
	err := db.DB.Close()
	if err != nil {
		err = errors.Wrapf(err, "closing %s", db.path)
	}
	if retain {
		return err
	}
	if rmErr := removeFiles(db.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

func normalize(rec models.FileRecord) models.FileRecord {
	rec.CanonicalPath = filepath.ToSlash(rec.CanonicalPath)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// removeFiles deletes the database together with its WAL side files.
func removeFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing %s", p)
		}
	}
	return nil
}

// IsStoreFile reports whether name is the index or one of its side files.
func IsStoreFile(name string) bool {
	switch name {
	case FileName, FileName + "-wal", FileName + "-shm", FileName + "-journal":
		return true
	}
	return false
}
