package rest

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mirrorfetch/mirrorfetch/internal/checksum"
	"github.com/mirrorfetch/mirrorfetch/internal/logctx"
	"github.com/mirrorfetch/mirrorfetch/internal/mirror"
	"github.com/mirrorfetch/mirrorfetch/internal/storage"
	"github.com/mirrorfetch/mirrorfetch/internal/telemetry"
)

type StatusResponse struct {
	TargetDir string           `json:"targetDir"`
	Counts    map[string]int   `json:"counts"`
	LastSync  *LastSyncSummary `json:"lastSync,omitempty"`
}

type LastSyncSummary struct {
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	Total      int       `json:"total"`
	Downloaded int       `json:"downloaded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

type FileResponse struct {
	Path     string `json:"path"`
	Digest   string `json:"digest,omitempty"`
	Size     int64  `json:"size"`
	Status   string `json:"status"`
	SyncedAt string `json:"syncedAt,omitempty"`
}

type MirrorHandler struct {
	username  string
	password  string
	repo      storage.FileReadRepository
	targetDir string
	trigger   chan<- struct{}
	telemetry *telemetry.Telemetry

	lastReport atomic.Pointer[mirror.SyncReport]
}

// NewMirrorHandler creates the mirror API handler. Sync triggers are sent on
// the trigger channel without blocking; a full channel means a sync is
// already queued.
func NewMirrorHandler(username, password string, repo storage.FileReadRepository, targetDir string, trigger chan<- struct{}, t *telemetry.Telemetry) *MirrorHandler {
	return &MirrorHandler{
		username:  username,
		password:  password,
		repo:      repo,
		targetDir: targetDir,
		trigger:   trigger,
		telemetry: t,
	}
}

// SetLastReport records the most recent sync report for the status endpoint.
func (h *MirrorHandler) SetLastReport(report *mirror.SyncReport) {
	h.lastReport.Store(report)
}

func (h *MirrorHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Get("/mirror/status", h.HandleStatus)
	r.Get("/mirror/files", h.HandleFiles)
	r.Get("/mirror/manifest", h.HandleManifest)
	r.Get("/mirror/verify", h.HandleVerify)
	r.Post("/mirror/sync", h.HandleSync)

	return r
}

func (h *MirrorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	counts, err := h.repo.CountByStatus()
	if err != nil {
		logger.Error("failed to count files", "err", err)
		http.Error(w, "failed to read ledger", http.StatusInternalServerError)

		return
	}

	resp := StatusResponse{
		TargetDir: h.targetDir,
		Counts:    counts,
	}

	if report := h.lastReport.Load(); report != nil {
		resp.LastSync = &LastSyncSummary{
			StartedAt:  report.StartedAt,
			DurationMS: report.Duration.Milliseconds(),
			Total:      report.Total,
			Downloaded: report.Downloaded,
			Failed:     report.Failed,
			Skipped:    report.Skipped,
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *MirrorHandler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.repo.GetFiles()
	if err != nil {
		logger.Error("failed to list files", "err", err)
		http.Error(w, "failed to read ledger", http.StatusInternalServerError)

		return
	}

	files := make([]FileResponse, len(records))
	for i, rec := range records {
		files[i] = FileResponse{
			Path:     rec.Path,
			Digest:   rec.Digest,
			Size:     rec.Size,
			Status:   rec.Status,
			SyncedAt: rec.SyncedAt,
		}
	}

	writeJSON(w, r, http.StatusOK, files)
}

// HandleManifest returns the digest manifest of all synced files, keyed by
// repository path.
func (h *MirrorHandler) HandleManifest(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.repo.GetFiles()
	if err != nil {
		logger.Error("failed to list files", "err", err)
		http.Error(w, "failed to read ledger", http.StatusInternalServerError)

		return
	}

	manifest := make(map[string]string)

	for _, rec := range records {
		if rec.Status == storage.StatusSynced {
			manifest[rec.Path] = rec.Digest
		}
	}

	writeJSON(w, r, http.StatusOK, manifest)
}

// VerifyResponse reports mirrored files whose on-disk digest no longer
// matches the ledger.
type VerifyResponse struct {
	Verified  int      `json:"verified"`
	Missing   []string `json:"missing,omitempty"`
	Corrupted []string `json:"corrupted,omitempty"`
}

// HandleVerify re-digests the target directory and compares it against the
// ledger. Synced files absent from disk are reported as missing; digest
// mismatches as corrupted.
func (h *MirrorHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.repo.GetFiles()
	if err != nil {
		logger.Error("failed to list files", "err", err)
		http.Error(w, "failed to read ledger", http.StatusInternalServerError)

		return
	}

	onDisk, err := checksum.Tree(h.targetDir)
	if err != nil {
		logger.Error("failed to digest target directory", "err", err)
		http.Error(w, "failed to digest target directory", http.StatusInternalServerError)

		return
	}

	var resp VerifyResponse

	for _, rec := range records {
		if rec.Status != storage.StatusSynced {
			continue
		}

		digest, ok := onDisk[rec.Path]

		switch {
		case !ok:
			resp.Missing = append(resp.Missing, rec.Path)
		case digest != rec.Digest:
			logger.Warn("digest mismatch", "path", rec.Path)

			resp.Corrupted = append(resp.Corrupted, rec.Path)
		default:
			resp.Verified++
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleSync queues a sync run. Returns 202 when queued, 409 when a run is
// already pending.
func (h *MirrorHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	select {
	case h.trigger <- struct{}{}:
		logger.Info("sync triggered via api")

		if h.telemetry != nil {
			h.telemetry.RecordSyncTrigger("api")
		}

		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued"})
	default:
		writeJSON(w, r, http.StatusConflict, map[string]string{"status": "already queued"})
	}
}

func (h *MirrorHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Auth is opt-in: no configured username means an open API.
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
