package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/mirrorfetch/mirrorfetch/internal/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a local git repository with a committed file tree.
func initTestRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

		_, err = wt.Add(path)
		require.NoError(t, err)
	}

	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)

	return dir
}

func TestSnapshot(t *testing.T) {
	src := initTestRepo(t, map[string]string{
		"readme.md":  "hello",
		"docs/a.txt": "content-a",
	})

	client := NewClient(src, "master")

	stagingDir, files, err := client.Snapshot(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { os.RemoveAll(stagingDir) })

	assert.NotEqual(t, src, stagingDir)

	paths := make(map[string]int64, len(files))
	for _, f := range files {
		paths[f.Path] = f.Size
	}

	require.Len(t, files, 2)
	assert.EqualValues(t, len("hello"), paths["readme.md"])
	assert.EqualValues(t, len("content-a"), paths["docs/a.txt"])

	// The snapshot contains the actual file contents.
	content, err := os.ReadFile(filepath.Join(stagingDir, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content-a", string(content))
}

func TestSnapshot_ShallowClone(t *testing.T) {
	src := initTestRepo(t, map[string]string{"readme.md": "v1"})

	repo, err := git.PlainOpen(src)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	for i, content := range []string{"v2", "v3"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, "readme.md"), []byte(content), 0o644))

		_, err = wt.Add("readme.md")
		require.NoError(t, err)

		_, err = wt.Commit(fmt.Sprintf("update %d", i+2), &git.CommitOptions{
			Author: &object.Signature{
				Name:  "tester",
				Email: "tester@example.com",
				When:  time.Now(),
			},
		})
		require.NoError(t, err)
	}

	client := NewClient(src, "master")

	stagingDir, _, err := client.Snapshot(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { os.RemoveAll(stagingDir) })

	// Only the tip commit lands in the staging clone.
	staged, err := git.PlainOpen(stagingDir)
	require.NoError(t, err)

	iter, err := staged.Log(&git.LogOptions{})
	require.NoError(t, err)

	commits := 0
	iter.ForEach(func(*object.Commit) error { //nolint:errcheck // shallow boundary ends iteration
		commits++

		return nil
	})

	assert.Equal(t, 1, commits)

	content, err := os.ReadFile(filepath.Join(stagingDir, "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "v3", string(content))
}

func TestSnapshot_CloneFailure(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "does-not-exist"), "master")

	_, _, err := client.Snapshot(context.Background())
	require.Error(t, err)

	var snapErr *mirror.SnapshotError
	require.True(t, errors.As(err, &snapErr))
	assert.Equal(t, "clone failed", snapErr.Reason)
}

func TestListFiles_SkipsGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.txt"), []byte("content1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file2.txt"), []byte("content2"), 0o644))

	files, err := listFiles(dir)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "file1.txt", files[0].Path)
	assert.Equal(t, "file2.txt", files[1].Path)
}
