package db

import (
	"context"
	"crypto/sha256"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"

	"github.com/chmdznr/filesync/pkg/models"
)

func fingerprintOf(s string) models.Fingerprint {
	return models.Fingerprint(sha256.Sum256([]byte(s)))
}

func withTestStore(t *testing.T, fn func(ctx context.Context, db *DB)) string {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(ctx, dir, true)
	if err != nil {
		t.Fatal(err)
	}
	fn(ctx, db)
	if err := db.Close(true); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestInsertLookup(t *testing.T) {
	withTestStore(t, func(ctx context.Context, db *DB) {
		fp := fingerprintOf("X")

		_, err := db.Lookup(ctx, fp)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Lookup on empty store: got %v; want ErrNotFound", err)
		}

		rec := models.FileRecord{
			Fingerprint:   fp,
			CanonicalPath: "a.txt",
			Size:          1,
			SourcePath:    "/src/A/a.txt",
			CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}
		if err := db.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}

		got, err := db.Lookup(ctx, fp)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(rec, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
			t.Errorf("Lookup mismatch (-want +got):\n%s", diff)
		}

		byPath, err := db.LookupPath(ctx, "a.txt")
		if err != nil {
			t.Fatal(err)
		}
		if byPath.Fingerprint != fp {
			t.Errorf("LookupPath fingerprint = %s; want %s", byPath.Fingerprint, fp)
		}
	})
}

func TestInsertDuplicate(t *testing.T) {
	withTestStore(t, func(ctx context.Context, db *DB) {
		rec := models.FileRecord{Fingerprint: fingerprintOf("X"), CanonicalPath: "a.txt", SourcePath: "a"}
		if err := db.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name string
			rec  models.FileRecord
		}{
			{name: "same fingerprint", rec: models.FileRecord{Fingerprint: rec.Fingerprint, CanonicalPath: "b.txt", SourcePath: "b"}},
			{name: "same canonical path", rec: models.FileRecord{Fingerprint: fingerprintOf("Y"), CanonicalPath: "a.txt", SourcePath: "c"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := db.Insert(ctx, tt.rec)
				if !errors.Is(err, ErrDuplicateKey) {
					t.Fatalf("got %v; want ErrDuplicateKey", err)
				}
			})
		}
	})
}

func TestDuplicateDetectedAfterReopen(t *testing.T) {
	dir := withTestStore(t, func(ctx context.Context, db *DB) {
		if err := db.Insert(ctx, models.FileRecord{Fingerprint: fingerprintOf("X"), CanonicalPath: "a.txt", SourcePath: "a"}); err != nil {
			t.Fatal(err)
		}
	})

	ctx := context.Background()
	db, err := OpenExisting(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(false)

	// The reopened store has a cold cache, so the constraint path is exercised.
	err = db.Insert(ctx, models.FileRecord{Fingerprint: fingerprintOf("X"), CanonicalPath: "other.txt", SourcePath: "b"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("got %v; want ErrDuplicateKey", err)
	}
}

func TestInsertBatch(t *testing.T) {
	withTestStore(t, func(ctx context.Context, db *DB) {
		if err := db.Insert(ctx, models.FileRecord{Fingerprint: fingerprintOf("X"), CanonicalPath: "x.txt", SourcePath: "x.txt"}); err != nil {
			t.Fatal(err)
		}

		added, err := db.InsertBatch(ctx, []models.FileRecord{
			{Fingerprint: fingerprintOf("X"), CanonicalPath: "x_copy.txt", SourcePath: "x_copy.txt"},
			{Fingerprint: fingerprintOf("Y"), CanonicalPath: "y.txt", SourcePath: "y.txt"},
			{Fingerprint: fingerprintOf("Z"), CanonicalPath: "sub/z.txt", SourcePath: "sub/z.txt"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if added != 2 {
			t.Errorf("added = %d; want 2", added)
		}

		var paths []string
		err = db.ListRecords(ctx, func(rec models.FileRecord) error {
			paths = append(paths, rec.CanonicalPath)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"sub/z.txt", "x.txt", "y.txt"}, paths); diff != "" {
			t.Errorf("ListRecords mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSources(t *testing.T) {
	withTestStore(t, func(ctx context.Context, db *DB) {
		if _, err := db.GetSource(ctx, "/src/a.txt"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v; want ErrNotFound", err)
		}

		rec := models.SourceRecord{
			SourcePath:  "/src/a.txt",
			Fingerprint: fingerprintOf("X"),
			Size:        1,
			ModTime:     time.Unix(1700000000, 123456789),
		}
		if err := db.SaveSource(ctx, rec); err != nil {
			t.Fatal(err)
		}
		rec.Size = 2
		if err := db.SaveSource(ctx, rec); err != nil {
			t.Fatal(err)
		}

		got, err := db.GetSource(ctx, rec.SourcePath)
		if err != nil {
			t.Fatal(err)
		}
		if !got.ModTime.Equal(rec.ModTime) || got.Size != 2 || got.Fingerprint != rec.Fingerprint {
			t.Errorf("GetSource = %+v; want %+v", got, rec)
		}
	})
}

func TestSessionsAndStats(t *testing.T) {
	withTestStore(t, func(ctx context.Context, db *DB) {
		if _, err := db.LastSession(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v; want ErrNotFound", err)
		}

		start := time.Now().UTC().Truncate(time.Second)
		for i, id := range []string{"first", "second"} {
			s := models.SessionRecord{ID: id, Destination: "/dst", StartedAt: start.Add(time.Duration(i) * time.Minute), State: models.StateScanning}
			if err := db.BeginSession(ctx, s); err != nil {
				t.Fatal(err)
			}
		}
		err := db.FinishSession(ctx, models.SessionRecord{
			ID: "second", FinishedAt: start.Add(2 * time.Minute), State: models.StateDone,
			Scanned: 4, Copied: 3, Skipped: 1,
		})
		if err != nil {
			t.Fatal(err)
		}

		last, err := db.LastSession(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if last.ID != "second" || last.State != models.StateDone || last.Copied != 3 || last.Skipped != 1 {
			t.Errorf("LastSession = %+v", last)
		}

		if err := db.Insert(ctx, models.FileRecord{Fingerprint: fingerprintOf("X"), CanonicalPath: "a.txt", Size: 10, SourcePath: "a"}); err != nil {
			t.Fatal(err)
		}
		stats, err := db.GetStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := &models.Stats{TotalFiles: 1, TotalSize: 10, Sessions: 2}
		if diff := cmp.Diff(want, stats); diff != "" {
			t.Errorf("GetStats mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestEnsureAlgorithm(t *testing.T) {
	withTestStore(t, func(ctx context.Context, db *DB) {
		if err := db.EnsureAlgorithm(ctx, "sha256"); err != nil {
			t.Fatal(err)
		}
		if err := db.EnsureAlgorithm(ctx, "sha256"); err != nil {
			t.Fatal(err)
		}
		if err := db.EnsureAlgorithm(ctx, "blake2b"); !errors.Is(err, ErrAlgorithmMismatch) {
			t.Fatalf("got %v; want ErrAlgorithmMismatch", err)
		}
	})
}

func TestCloseRetention(t *testing.T) {
	tests := []struct {
		name   string
		retain bool
	}{
		{name: "discard", retain: false},
		{name: "retain", retain: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()
			db, err := Open(ctx, dir, true)
			if err != nil {
				t.Fatal(err)
			}
			if err := db.Insert(ctx, models.FileRecord{Fingerprint: fingerprintOf("X"), CanonicalPath: "a.txt", SourcePath: "a"}); err != nil {
				t.Fatal(err)
			}
			if err := db.Close(tt.retain); err != nil {
				t.Fatal(err)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			var storeFiles int
			for _, e := range entries {
				if IsStoreFile(e.Name()) {
					storeFiles++
				}
			}
			if tt.retain && storeFiles == 0 {
				t.Error("index was removed despite retain")
			}
			if !tt.retain && storeFiles != 0 {
				t.Errorf("%d index files left behind", storeFiles)
			}
		})
	}
}

func TestOpenFreshDiscardsStaleIndex(t *testing.T) {
	dir := withTestStore(t, func(ctx context.Context, db *DB) {
		if err := db.Insert(ctx, models.FileRecord{Fingerprint: fingerprintOf("X"), CanonicalPath: "a.txt", SourcePath: "a"}); err != nil {
			t.Fatal(err)
		}
	})

	ctx := context.Background()
	db, err := Open(ctx, dir, true)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(false)

	if _, err := db.Lookup(ctx, fingerprintOf("X")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v; want ErrNotFound in fresh index", err)
	}
}

func TestOpenExistingMissing(t *testing.T) {
	_, err := OpenExisting(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing index")
	}
}
