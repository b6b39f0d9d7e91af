package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
)

// ErrSynced signals that a file has already been mirrored.
var ErrSynced = errors.New("file already synced")

// File statuses as persisted in the ledger.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusSynced      = "synced"
	StatusFailed      = "failed"
)

// FileRecord represents the ledger entry of a mirrored file.
type FileRecord struct {
	Path     string
	Digest   string
	Size     int64
	SyncedAt string
	Status   string
	LockedBy string
}

// FileReadRepository reads ledger entries.
type FileReadRepository interface {
	GetFiles() ([]FileRecord, error)
	GetPendingFiles(limit int) ([]FileRecord, error)
	CountByStatus() (map[string]int, error)
}

// FileWriteRepository mutates ledger entries.
type FileWriteRepository interface {
	TrackFile(path string) error
	ClaimFile(path, instanceID string) (bool, error) // atomically claim a file
	MarkSynced(path, digest string, size int64) error
	MarkFailed(path string) error
	DeleteFile(path string) error
}

// FileRepository combines both sides; the syncer needs both.
type FileRepository interface {
	FileReadRepository
	FileWriteRepository
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)
	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
