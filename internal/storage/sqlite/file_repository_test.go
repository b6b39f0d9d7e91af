package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/mirrorfetch/mirrorfetch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *FileRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewFileRepository(db)
}

func TestTrackFile_Idempotent(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.TrackFile("docs/readme.md"))
	require.NoError(t, repo.TrackFile("docs/readme.md"))

	files, err := repo.GetFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, storage.StatusPending, files[0].Status)
}

func TestClaimFile_Lifecycle(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.TrackFile("a.txt"))

	claimed, err := repo.ClaimFile("a.txt", "instance-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// Locked by instance-1, a second claim must not win.
	claimed, err = repo.ClaimFile("a.txt", "instance-2")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, repo.MarkSynced("a.txt", "abc123", 42))

	// Synced files are never reclaimed.
	_, err = repo.ClaimFile("a.txt", "instance-1")
	assert.ErrorIs(t, err, storage.ErrSynced)

	files, err := repo.GetFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, storage.StatusSynced, files[0].Status)
	assert.Equal(t, "abc123", files[0].Digest)
	assert.EqualValues(t, 42, files[0].Size)
	assert.Empty(t, files[0].LockedBy)
	assert.NotEmpty(t, files[0].SyncedAt)
}

func TestClaimFile_UntrackedPathIsClaimable(t *testing.T) {
	repo := newTestRepo(t)

	claimed, err := repo.ClaimFile("new.txt", "instance-1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMarkFailed_AllowsReclaim(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.TrackFile("b.txt"))

	claimed, err := repo.ClaimFile("b.txt", "instance-1")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.MarkFailed("b.txt"))

	claimed, err = repo.ClaimFile("b.txt", "instance-2")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestDeleteFile_AllowsRemirror(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.TrackFile("c.txt"))

	claimed, err := repo.ClaimFile("c.txt", "instance-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.MarkSynced("c.txt", "abc", 1))

	_, err = repo.ClaimFile("c.txt", "instance-1")
	require.ErrorIs(t, err, storage.ErrSynced)

	// Retention removed the file from disk; forgetting the row makes the
	// path claimable again.
	require.NoError(t, repo.DeleteFile("c.txt"))

	claimed, err = repo.ClaimFile("c.txt", "instance-1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestGetPendingFiles_RespectsLimit(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.TrackFile("1.txt"))
	require.NoError(t, repo.TrackFile("2.txt"))
	require.NoError(t, repo.TrackFile("3.txt"))

	pending, err := repo.GetPendingFiles(2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCountByStatus(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.TrackFile("1.txt"))
	require.NoError(t, repo.TrackFile("2.txt"))

	_, err := repo.ClaimFile("2.txt", "instance-1")
	require.NoError(t, err)
	require.NoError(t, repo.MarkSynced("2.txt", "d", 1))

	counts, err := repo.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[storage.StatusPending])
	assert.Equal(t, 1, counts[storage.StatusSynced])
}

func TestGenerateInstanceID_Unique(t *testing.T) {
	assert.NotEqual(t, storage.GenerateInstanceID(), storage.GenerateInstanceID())
}
