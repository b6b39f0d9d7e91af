package gitrepo

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/mirrorfetch/mirrorfetch/internal/logctx"
	"github.com/mirrorfetch/mirrorfetch/internal/mirror"
)

// Client produces repository snapshots by cloning a git remote.
type Client struct {
	repoURL string
	branch  string
}

func NewClient(repoURL, branch string) *Client {
	return &Client{
		repoURL: repoURL,
		branch:  branch,
	}
}

// Snapshot clones the repository into a fresh staging directory and returns
// the directory plus the relative path of every regular file in the working
// tree, .git excluded. The caller owns the staging directory.
func (c *Client) Snapshot(ctx context.Context) (string, []*mirror.File, error) {
	logger := logctx.LoggerFromContext(ctx)

	stagingDir, err := os.MkdirTemp("", "mirrorfetch-snapshot-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	// Only the tip of the branch is needed to enumerate the working tree.
	cloneOpts := &git.CloneOptions{
		URL:          c.repoURL,
		SingleBranch: true,
		Depth:        1,
	}
	if c.branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(c.branch)
	}

	logger.Debug("cloning repository", "repo_url", c.repoURL, "branch", c.branch, "staging_dir", stagingDir)

	if _, err := git.PlainCloneContext(ctx, stagingDir, false, cloneOpts); err != nil {
		os.RemoveAll(stagingDir)

		return "", nil, &mirror.SnapshotError{RepoURL: c.repoURL, Reason: "clone failed", Err: err}
	}

	files, err := listFiles(stagingDir)
	if err != nil {
		os.RemoveAll(stagingDir)

		return "", nil, &mirror.SnapshotError{RepoURL: c.repoURL, Reason: "failed to walk working tree", Err: err}
	}

	logger.Debug("snapshot ready", "file_count", len(files))

	return stagingDir, files, nil
}

// listFiles walks root and returns every regular file as a slash-separated
// path relative to root.
func listFiles(root string) ([]*mirror.File, error) {
	var files []*mirror.File

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == git.GitDirName {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, &mirror.File{
			Path: filepath.ToSlash(rel),
			Size: info.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
