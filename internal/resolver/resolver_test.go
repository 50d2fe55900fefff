package resolver

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		name string
		stem string
		ext  string
	}{
		{name: "report.txt", stem: "report", ext: ".txt"},
		{name: "archive.tar.gz", stem: "archive.tar", ext: ".gz"},
		{name: "README", stem: "README", ext: ""},
		{name: ".bashrc", stem: ".bashrc", ext: ""},
		{name: ".config.yaml", stem: ".config", ext: ".yaml"},
		{name: "trailing.", stem: "trailing", ext: "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stem, ext := SplitName(tt.name)
			if stem != tt.stem || ext != tt.ext {
				t.Errorf("SplitName(%q) = (%q, %q); want (%q, %q)", tt.name, stem, ext, tt.stem, tt.ext)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		reserved []string
		proposed string
		expected string
	}{
		{name: "free", proposed: "report.txt", expected: "report.txt"},
		{name: "exists on disk", existing: []string{"report.txt"}, proposed: "report.txt", expected: "report_1.txt"},
		{name: "reserved earlier", reserved: []string{"report.txt"}, proposed: "report.txt", expected: "report_1.txt"},
		{
			name:     "smallest free suffix",
			existing: []string{"report.txt", "report_1.txt", "report_3.txt"},
			reserved: []string{"report_2.txt"},
			proposed: "report.txt",
			expected: "report_4.txt",
		},
		{name: "no extension", existing: []string{"Makefile"}, proposed: "Makefile", expected: "Makefile_1"},
		{name: "multiple dots", existing: []string{"a.tar.gz"}, proposed: "a.tar.gz", expected: "a.tar_1.gz"},
		{name: "directory occupies name", existing: []string{"photos/"}, proposed: "photos", expected: "photos_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, name := range tt.existing {
				p := filepath.Join(dir, name)
				var err error
				if name[len(name)-1] == '/' {
					err = os.Mkdir(p, 0755)
				} else {
					err = os.WriteFile(p, []byte("existing"), 0644)
				}
				if err != nil {
					t.Fatal(err)
				}
			}

			r := New()
			for _, name := range tt.reserved {
				if got, err := r.Resolve(name, dir); err != nil || got != name {
					t.Fatalf("reserving %s: got %q, %v", name, got, err)
				}
			}

			got, err := r.Resolve(tt.proposed, dir)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.expected {
				t.Errorf("Resolve(%q) = %q; want %q", tt.proposed, got, tt.expected)
			}
			if !r.Reserved(got, dir) {
				t.Errorf("%q not reserved after Resolve", got)
			}
		})
	}
}

func TestResolveRelease(t *testing.T) {
	dir := t.TempDir()
	r := New()

	first, err := r.Resolve("a.txt", dir)
	if err != nil {
		t.Fatal(err)
	}
	r.Release(first, dir)

	again, err := r.Resolve("a.txt", dir)
	if err != nil {
		t.Fatal(err)
	}
	if again != "a.txt" {
		t.Errorf("after Release got %q; want a.txt", again)
	}
}

func TestResolveSeparateDirectories(t *testing.T) {
	r := New()
	d1, d2 := t.TempDir(), t.TempDir()
	for _, dir := range []string{d1, d2} {
		got, err := r.Resolve("a.txt", dir)
		if err != nil {
			t.Fatal(err)
		}
		if got != "a.txt" {
			t.Errorf("Resolve in %s = %q; want a.txt", dir, got)
		}
	}
}

func TestResolveConcurrentUnique(t *testing.T) {
	dir := t.TempDir()
	r := New()

	const n = 50
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		names = make(map[string]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Resolve("same.txt", dir)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			names[got]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(names) != n {
		t.Fatalf("got %d distinct names for %d resolutions", len(names), n)
	}
}

func TestResolveRejectsPaths(t *testing.T) {
	r := New()
	for _, bad := range []string{"", "sub/a.txt"} {
		if _, err := r.Resolve(bad, t.TempDir()); err == nil {
			t.Errorf("Resolve(%q) succeeded; want error", bad)
		}
	}
}
