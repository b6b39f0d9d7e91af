package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mirrorfetch/mirrorfetch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	files []*File
	err   error
}

func (l *fakeLister) Snapshot(ctx context.Context) (string, []*File, error) {
	if l.err != nil {
		return "", nil, l.err
	}

	dir, err := os.MkdirTemp("", "fake-snapshot-")
	if err != nil {
		return "", nil, err
	}

	return dir, l.files, nil
}

type fakeFetcher struct {
	content map[string]string
	errs    map[string]error

	mu      sync.Mutex
	active  int32
	maxSeen int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	cur := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	if cur > f.maxSeen {
		f.maxSeen = cur
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond) // let downloads overlap

	if err, ok := f.errs[path]; ok {
		return nil, 0, err
	}

	content, ok := f.content[path]
	if !ok {
		return nil, 0, &ResponseError{URL: path, StatusCode: 404}
	}

	return io.NopCloser(bytes.NewReader([]byte(content))), int64(len(content)), nil
}

type fakeLedger struct {
	mu       sync.Mutex
	statuses map[string]string
	digests  map[string]string
	synced   map[string]bool // pre-synced paths
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		statuses: make(map[string]string),
		digests:  make(map[string]string),
		synced:   make(map[string]bool),
	}
}

func (l *fakeLedger) TrackFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.statuses[path]; !ok {
		l.statuses[path] = storage.StatusPending
	}

	return nil
}

func (l *fakeLedger) ClaimFile(path, instanceID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.synced[path] {
		return false, storage.ErrSynced
	}

	l.statuses[path] = storage.StatusDownloading

	return true, nil
}

func (l *fakeLedger) MarkSynced(path, digest string, size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.statuses[path] = storage.StatusSynced
	l.digests[path] = digest

	return nil
}

func (l *fakeLedger) MarkFailed(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.statuses[path] = storage.StatusFailed

	return nil
}

func (l *fakeLedger) status(path string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.statuses[path]
}

// drain consumes syncer events so blocking sends don't deadlock the test.
func drain(t *testing.T, s *Syncer) (fileErrs *int32) {
	t.Helper()

	var count int32

	go func() {
		for range s.OnFileDownloadError {
			atomic.AddInt32(&count, 1)
		}
	}()
	go func() {
		for range s.OnSyncFinished {
		}
	}()

	return &count
}

func TestSync_DownloadsAllFiles(t *testing.T) {
	lister := &fakeLister{files: []*File{
		{Path: "readme.md"},
		{Path: "docs/a.txt"},
		{Path: "docs/b.txt"},
	}}
	fetcher := &fakeFetcher{content: map[string]string{
		"readme.md":  "hello",
		"docs/a.txt": "content-a",
		"docs/b.txt": "content-b",
	}}
	ledger := newFakeLedger()
	targetDir := t.TempDir()

	s := NewSyncer(ledger, lister, fetcher, targetDir, 2)
	defer s.Close()

	drain(t, s)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Downloaded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Skipped)

	content, err := os.ReadFile(filepath.Join(targetDir, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content-a", string(content))

	want := sha256.Sum256([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(want[:]), ledger.digests["readme.md"])
	assert.Equal(t, storage.StatusSynced, ledger.status("docs/b.txt"))
}

func TestSync_RespectsParallelLimit(t *testing.T) {
	files := make([]*File, 0, 8)
	content := make(map[string]string, 8)

	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files = append(files, &File{Path: p})
		content[p] = "x"
	}

	lister := &fakeLister{files: files}
	fetcher := &fakeFetcher{content: content}
	s := NewSyncer(newFakeLedger(), lister, fetcher, t.TempDir(), 2)

	defer s.Close()

	drain(t, s)

	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, fetcher.maxSeen, int32(2))
}

func TestSync_SkipsAlreadySynced(t *testing.T) {
	lister := &fakeLister{files: []*File{
		{Path: "old.txt"},
		{Path: "new.txt"},
	}}
	fetcher := &fakeFetcher{content: map[string]string{"new.txt": "fresh"}}
	ledger := newFakeLedger()
	ledger.synced["old.txt"] = true

	s := NewSyncer(ledger, lister, fetcher, t.TempDir(), 2)
	defer s.Close()

	drain(t, s)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Skipped)
}

func TestSync_FileFailureDoesNotAbortOthers(t *testing.T) {
	lister := &fakeLister{files: []*File{
		{Path: "good.txt"},
		{Path: "bad.txt"},
	}}
	fetcher := &fakeFetcher{
		content: map[string]string{"good.txt": "ok"},
		errs:    map[string]error{"bad.txt": &ResponseError{URL: "bad.txt", StatusCode: 500}},
	}
	ledger := newFakeLedger()
	targetDir := t.TempDir()

	s := NewSyncer(ledger, lister, fetcher, targetDir, 2)
	defer s.Close()

	fileErrs := drain(t, s)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, storage.StatusFailed, ledger.status("bad.txt"))
	assert.Equal(t, storage.StatusSynced, ledger.status("good.txt"))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(fileErrs) == 1
	}, time.Second, 10*time.Millisecond)

	_, err = os.Stat(filepath.Join(targetDir, "good.txt"))
	require.NoError(t, err)

	// The failed file never lands on disk, not even partially.
	_, err = os.Stat(filepath.Join(targetDir, "bad.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSync_EmptySnapshot(t *testing.T) {
	s := NewSyncer(newFakeLedger(), &fakeLister{}, &fakeFetcher{}, t.TempDir(), 2)
	defer s.Close()

	_, err := s.Sync(context.Background())
	require.Error(t, err)
}

func TestSync_SnapshotFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("clone blew up")}
	s := NewSyncer(newFakeLedger(), lister, &fakeFetcher{}, t.TempDir(), 2)

	defer s.Close()

	_, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot")
}

func TestResponseError_Message(t *testing.T) {
	err := &ResponseError{URL: "https://example.com/f.txt", StatusCode: 404}
	assert.Equal(t, "failed to download https://example.com/f.txt, status code: 404", err.Error())
}

func TestSnapshotError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &SnapshotError{RepoURL: "repo", Reason: "clone failed", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "clone failed")
}
