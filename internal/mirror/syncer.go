package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/mirrorfetch/mirrorfetch/internal/checksum"
	"github.com/mirrorfetch/mirrorfetch/internal/logctx"
	"github.com/mirrorfetch/mirrorfetch/internal/mirror/progress"
	"github.com/mirrorfetch/mirrorfetch/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	dirPerm = 0755

	progressInterval = int64(1024 * 1024) // 1MB
)

// Syncer mirrors a repository snapshot into the target directory.
type Syncer struct {
	targetDir   string
	maxParallel int
	lister      Lister
	fetcher     FileFetcher
	ledger      Ledger
	instanceID  string

	OnFileDownloadError chan *File
	OnSyncFinished      chan *SyncReport
}

func NewSyncer(
	ledger Ledger,
	lister Lister,
	fetcher FileFetcher,
	targetDir string,
	maxParallel int,
) *Syncer {
	return &Syncer{
		targetDir:   targetDir,
		maxParallel: maxParallel,
		lister:      lister,
		fetcher:     fetcher,
		ledger:      ledger,
		instanceID:  storage.GenerateInstanceID(),

		OnFileDownloadError: make(chan *File),
		OnSyncFinished:      make(chan *SyncReport),
	}
}

func (s *Syncer) Close() {
	close(s.OnFileDownloadError)
	close(s.OnSyncFinished)
}

// Sync takes a snapshot of the repository and downloads every claimable file
// with at most maxParallel downloads in flight. Per-file failures are
// recorded and reported through the returned SyncReport; they do not abort
// the remaining downloads.
func (s *Syncer) Sync(ctx context.Context) (*SyncReport, error) {
	logger := logctx.LoggerFromContext(ctx)

	report := &SyncReport{StartedAt: time.Now()}

	stagingDir, files, err := s.lister.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot repository: %w", err)
	}

	defer os.RemoveAll(stagingDir)

	if len(files) == 0 {
		return nil, fmt.Errorf("no files to mirror")
	}

	report.Total = len(files)

	logger.Info("starting sync", "file_count", len(files), "max_parallel", s.maxParallel)

	var downloaded, failed int32

	wg, gctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, s.maxParallel)

	for i := range files {
		file := files[i]

		if err := s.ledger.TrackFile(file.Path); err != nil {
			return nil, fmt.Errorf("failed to track file: %w", err)
		}

		claimed, err := s.ledger.ClaimFile(file.Path, s.instanceID)
		if err != nil {
			if errors.Is(err, storage.ErrSynced) {
				logger.Debug("file already mirrored", "file_path", file.Path)

				report.Skipped++

				continue
			}

			return nil, fmt.Errorf("failed to claim file: %w", err)
		}

		if !claimed {
			logger.Debug("file claimed by another instance", "file_path", file.Path)

			report.Skipped++

			continue
		}

		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			targetPath := filepath.Join(s.targetDir, filepath.FromSlash(file.Path))

			digest, size, err := s.DownloadFile(gctx, file, targetPath)
			if err != nil {
				logger.Error("failed to download file", "file_path", file.Path, "err", err)

				atomic.AddInt32(&failed, 1)

				if markErr := s.ledger.MarkFailed(file.Path); markErr != nil {
					logger.Error("failed to mark file as failed", "file_path", file.Path, "err", markErr)
				}

				s.OnFileDownloadError <- file

				return nil
			}

			if err := s.ledger.MarkSynced(file.Path, digest, size); err != nil {
				logger.Error("failed to mark file as synced", "file_path", file.Path, "err", err)

				atomic.AddInt32(&failed, 1)

				return nil
			}

			logger.Debug("file digest", "file_path", file.Path, "sha256", digest)

			atomic.AddInt32(&downloaded, 1)

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to download files: %w", err)
	}

	report.Downloaded = int(downloaded)
	report.Failed = int(failed)
	report.Duration = time.Since(report.StartedAt)

	logger.Info("sync finished",
		"downloaded", report.Downloaded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration.String(),
	)

	s.OnSyncFinished <- report

	return report, nil
}

// DownloadFile fetches a single file and writes it atomically to targetPath.
// It returns the SHA-256 digest and size of the bytes that landed on disk.
func (s *Syncer) DownloadFile(ctx context.Context, file *File, targetPath string) (string, int64, error) {
	fileReader, size, err := s.fetcher.Fetch(ctx, file.Path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch file: %w", err)
	}

	defer fileReader.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), dirPerm); err != nil {
		return "", 0, fmt.Errorf("failed to create target directory: %w", err)
	}

	written, err := s.writeFile(ctx, fileReader, file.Path, targetPath, size)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}

	// Digest what actually landed on disk, not what went over the wire.
	digest, err := checksum.File(targetPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to digest file: %w", err)
	}

	return digest, written, nil
}

func (s *Syncer) writeFile(ctx context.Context, reader io.Reader, path, targetPath string, totalBytes int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if totalBytes > 0 {
		logger.Info("downloading file", "file_path", targetPath, "file_size", humanize.Bytes(uint64(totalBytes)))
	} else {
		logger.Info("downloading file", "file_path", targetPath)
	}

	progressCb := func(written int64, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"file_path", path,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "file_path", path, "downloaded", humanize.Bytes(uint64(written)))
		}
	}
	pr := progress.NewReader(reader, totalBytes, progressInterval, progressCb)

	out, err := renameio.TempFile("", targetPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	defer out.Cleanup() //nolint:errcheck // no-op after a successful replace

	written, err := io.Copy(out, pr)
	if err != nil {
		return 0, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := out.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("failed to replace target file: %w", err)
	}

	logger.Info("downloaded and saved file", "target", targetPath, "size", humanize.Bytes(uint64(written)))

	return written, nil
}
