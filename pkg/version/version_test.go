package version

import (
	"strings"
	"testing"
)

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if GitCommit != "unknown" && len(GitCommit) < 7 {
		t.Errorf("GitCommit '%s' seems invalid, should be 'unknown' or a git hash", GitCommit)
	}
	if BuildTime == "" {
		t.Error("BuildTime should not be empty")
	}
}

func TestInfo(t *testing.T) {
	defer func(v, c, b string) { Version, GitCommit, BuildTime = v, c, b }(Version, GitCommit, BuildTime)
	Version, GitCommit, BuildTime = "v1.2.0", "0123abc", "2024-01-02T03:04:05Z"

	got := Info()
	for _, want := range []string{"Version:    v1.2.0\n", "Git commit: 0123abc\n", "Built:      2024-01-02T03:04:05Z\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("Info() = %q; missing %q", got, want)
		}
	}
	if lines := strings.Count(got, "\n"); lines != 3 {
		t.Errorf("Info() has %d lines; want 3", lines)
	}
}
