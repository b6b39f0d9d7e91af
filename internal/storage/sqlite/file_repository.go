package sqlite

import (
	"database/sql"
	"time"

	"github.com/mirrorfetch/mirrorfetch/internal/storage"
)

// FileRepository stores the mirror ledger in SQLite.
type FileRepository struct {
	db         *sql.DB
	instanceID string
}

func NewFileRepository(dbConn *sql.DB) *FileRepository {
	return &FileRepository{db: dbConn, instanceID: storage.GenerateInstanceID()}
}

// InstanceID returns the lock owner id used by this repository.
func (r *FileRepository) InstanceID() string {
	return r.instanceID
}

// TrackFile upserts a pending record for the path. Existing records are left
// untouched so a re-sync never resets a synced file back to pending.
func (r *FileRepository) TrackFile(path string) error {
	_, err := r.db.Exec(
		`INSERT INTO files (path, status) VALUES (?, 'pending')
		ON CONFLICT(path) DO NOTHING`,
		path,
	)

	return err
}

// ClaimFile atomically sets status to 'downloading' and locked_by to the
// instance id if the record is pending or failed and unlocked.
// Returns storage.ErrSynced for records that already completed.
func (r *FileRepository) ClaimFile(path, instanceID string) (bool, error) {
	var status string

	err := r.db.QueryRow(`SELECT status FROM files WHERE path = ?`, path).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	if status == storage.StatusSynced {
		return false, storage.ErrSynced
	}

	res, err := r.db.Exec(`
		INSERT INTO files (path, status, locked_by)
		VALUES (?, 'downloading', ?)
		ON CONFLICT(path) DO UPDATE SET
			status = 'downloading',
			locked_by = excluded.locked_by
		WHERE files.status IN ('pending', 'failed') AND (files.locked_by IS NULL OR files.locked_by = '')
	`, path, instanceID)
	if err != nil {
		return false, err
	}

	affected, _ := res.RowsAffected()

	return affected > 0, nil
}

// MarkSynced records a completed download and clears the lock.
func (r *FileRepository) MarkSynced(path, digest string, size int64) error {
	_, err := r.db.Exec(
		`UPDATE files SET status = 'synced', digest = ?, size = ?, synced_at = ?, locked_by = NULL WHERE path = ?`,
		digest, size, time.Now().Format(time.RFC3339), path,
	)

	return err
}

// MarkFailed records a failed download and clears the lock so a later sync can retry.
func (r *FileRepository) MarkFailed(path string) error {
	_, err := r.db.Exec(
		`UPDATE files SET status = 'failed', locked_by = NULL WHERE path = ?`,
		path,
	)

	return err
}

// DeleteFile removes the ledger row so the path is mirrored again on the
// next sync.
func (r *FileRepository) DeleteFile(path string) error {
	_, err := r.db.Exec(`DELETE FROM files WHERE path = ?`, path)

	return err
}

// GetFiles returns all ledger records.
func (r *FileRepository) GetFiles() ([]storage.FileRecord, error) {
	rows, err := r.db.Query(`SELECT path, digest, size, synced_at, status, locked_by FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetPendingFiles returns files that are pending and not locked, up to a limit.
func (r *FileRepository) GetPendingFiles(limit int) ([]storage.FileRecord, error) {
	rows, err := r.db.Query(
		`SELECT path, digest, size, synced_at, status, locked_by
		FROM files
		WHERE status = 'pending'
		AND (locked_by IS NULL OR locked_by = '')
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountByStatus returns the number of records per status.
func (r *FileRepository) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var status string

		var count int

		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]storage.FileRecord, error) {
	var files []storage.FileRecord

	for rows.Next() {
		var record storage.FileRecord

		var digest, syncedAt, lockedBy sql.NullString

		if err := rows.Scan(&record.Path, &digest, &record.Size, &syncedAt, &record.Status, &lockedBy); err != nil {
			return nil, err
		}

		record.Digest = digest.String
		record.SyncedAt = syncedAt.String
		record.LockedBy = lockedBy.String

		files = append(files, record)
	}

	return files, rows.Err()
}
