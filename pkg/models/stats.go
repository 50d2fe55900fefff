package models

// Stats represents index statistics
type Stats struct {
	TotalFiles     int64
	TotalSize      int64
	TrackedSources int64
	Sessions       int64
}
