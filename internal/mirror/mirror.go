package mirror

import (
	"context"
	"io"
	"time"
)

// File is a single entry of a repository snapshot, identified by its
// slash-separated path relative to the repository root.
type File struct {
	Path string
	Size int64
}

// SyncReport summarizes one sync run.
type SyncReport struct {
	StartedAt  time.Time
	Duration   time.Duration
	Total      int
	Downloaded int
	Failed     int
	Skipped    int
}

// Lister produces a snapshot of the repository file tree. The returned
// staging directory is owned by the caller and removed after the sync.
type Lister interface {
	Snapshot(ctx context.Context) (stagingDir string, files []*File, err error)
}

// FileFetcher retrieves the content of a single file by repository path.
// Size is -1 when the remote does not announce a length.
type FileFetcher interface {
	Fetch(ctx context.Context, path string) (body io.ReadCloser, size int64, err error)
}

// Ledger is the persistence surface the syncer needs.
type Ledger interface {
	TrackFile(path string) error
	ClaimFile(path, instanceID string) (bool, error)
	MarkSynced(path, digest string, size int64) error
	MarkFailed(path string) error
}
