package sqlite

import (
	"context"
	"database/sql"

	"github.com/mirrorfetch/mirrorfetch/internal/storage"
	"github.com/mirrorfetch/mirrorfetch/internal/telemetry"
)

// InstrumentedFileRepository wraps FileRepository with telemetry.
type InstrumentedFileRepository struct {
	repo      *FileRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFileRepository creates a new instrumented file repository.
func NewInstrumentedFileRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedFileRepository {
	return &InstrumentedFileRepository{
		repo:      NewFileRepository(dbConn),
		telemetry: tel,
	}
}

// InstanceID returns the lock owner id of the wrapped repository.
func (r *InstrumentedFileRepository) InstanceID() string {
	return r.repo.InstanceID()
}

// TrackFile tracks a file with telemetry.
func (r *InstrumentedFileRepository) TrackFile(path string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "track_file", func(ctx context.Context) error {
		return r.repo.TrackFile(path)
	})
}

// ClaimFile claims a file with telemetry.
func (r *InstrumentedFileRepository) ClaimFile(path, instanceID string) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "claim_file", func(ctx context.Context) error {
		result, err = r.repo.ClaimFile(path, instanceID)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

// MarkSynced marks a file synced with telemetry.
func (r *InstrumentedFileRepository) MarkSynced(path, digest string, size int64) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "mark_synced", func(ctx context.Context) error {
		return r.repo.MarkSynced(path, digest, size)
	})
}

// MarkFailed marks a file failed with telemetry.
func (r *InstrumentedFileRepository) MarkFailed(path string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "mark_failed", func(ctx context.Context) error {
		return r.repo.MarkFailed(path)
	})
}

// DeleteFile removes a ledger row with telemetry.
func (r *InstrumentedFileRepository) DeleteFile(path string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "delete_file", func(ctx context.Context) error {
		return r.repo.DeleteFile(path)
	})
}

// GetFiles retrieves all files with telemetry.
func (r *InstrumentedFileRepository) GetFiles() ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_files", func(ctx context.Context) error {
		result, err = r.repo.GetFiles()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetPendingFiles retrieves pending files with telemetry.
func (r *InstrumentedFileRepository) GetPendingFiles(limit int) ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_pending_files", func(ctx context.Context) error {
		result, err = r.repo.GetPendingFiles(limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// CountByStatus counts records per status with telemetry.
func (r *InstrumentedFileRepository) CountByStatus() (map[string]int, error) {
	var result map[string]int

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "count_by_status", func(ctx context.Context) error {
		result, err = r.repo.CountByStatus()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
