package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mirrorfetch/mirrorfetch/internal/logctx"
	"github.com/mirrorfetch/mirrorfetch/internal/storage"
)

// Ledger is the persistence surface cleanup needs to forget deleted files.
type Ledger interface {
	DeleteFile(path string) error
}

// DeleteExpiredFiles deletes mirrored files older than keepDuration based on
// the tracked ledger records. Deleted files are also removed from the ledger
// so the next sync mirrors them again.
func DeleteExpiredFiles(ctx context.Context, records []storage.FileRecord, dir string, keepDuration time.Duration, ledger Ledger) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	for _, rec := range records {
		if rec.Status != storage.StatusSynced {
			continue
		}

		filePath := filepath.Join(dir, filepath.FromSlash(rec.Path))

		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", filePath, "err", err)

			return err
		}

		syncedAt, err := time.Parse(time.RFC3339, rec.SyncedAt)
		if err != nil {
			// fallback: use file mod time
			logger.Warn("failed to parse sync time, using file mod time", "file", filePath, "err", err)

			syncedAt = info.ModTime()
		}

		if now.Sub(syncedAt) > keepDuration {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired file", "file", filePath, "err", err)

				return err
			}

			if err := ledger.DeleteFile(rec.Path); err != nil {
				logger.Error("failed to delete ledger record", "file", rec.Path, "err", err)

				return err
			}

			logger.Info("deleted expired file", "file", filePath)
		}
	}

	return nil
}
