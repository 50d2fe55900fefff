// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/chmdznr/filesync/pkg/version.Version=v1.2.0"
package version

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns the build metadata as aligned "Label: value" lines.
func Info() string {
	return "Version:    " + Version + "\n" +
		"Git commit: " + GitCommit + "\n" +
		"Built:      " + BuildTime + "\n"
}
