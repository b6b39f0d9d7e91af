package mirror

import "fmt"

// ResponseError represents a non-200 response for a file fetch.
type ResponseError struct {
	URL        string
	StatusCode int
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("failed to download %s, status code: %d", e.URL, e.StatusCode)
}

// SnapshotError represents a failure to produce a repository snapshot,
// including clone failures and unreadable working trees.
type SnapshotError struct {
	RepoURL string
	Reason  string
	Err     error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot of %s failed: %s", e.RepoURL, e.Reason)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}
