package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mirrorfetch/mirrorfetch/internal/cleanup"
	"github.com/mirrorfetch/mirrorfetch/internal/config"
	"github.com/mirrorfetch/mirrorfetch/internal/fetch"
	"github.com/mirrorfetch/mirrorfetch/internal/http/rest"
	"github.com/mirrorfetch/mirrorfetch/internal/logctx"
	"github.com/mirrorfetch/mirrorfetch/internal/mirror"
	"github.com/mirrorfetch/mirrorfetch/internal/notifier"
	"github.com/mirrorfetch/mirrorfetch/internal/source/gitrepo"
	"github.com/mirrorfetch/mirrorfetch/internal/storage"
	"github.com/mirrorfetch/mirrorfetch/internal/storage/sqlite"
	"github.com/mirrorfetch/mirrorfetch/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("mirrorfetch starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && err != context.Canceled {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedFileRepository(database, tel)

	// =========================================================================
	// Start Syncer
	fetcher := mirror.NewInstrumentedFetcher(
		fetch.NewClient(ctx, cfg.BaseURL, cfg.SourceToken, cfg.FetchTimeout, cfg.FetchMaxRetries),
		tel,
	)
	source := gitrepo.NewClient(cfg.RepoURL, cfg.RepoBranch)

	syncer := mirror.NewSyncer(repo, source, fetcher, cfg.TargetDir, cfg.MaxParallel)
	defer syncer.Close()

	// =========================================================================
	// Start API Service
	syncTrigger := make(chan struct{}, 1)

	mirrorHandler := rest.NewMirrorHandler(cfg.Web.Username, cfg.Web.Password, repo, cfg.TargetDir, syncTrigger, tel)

	// =========================================================================
	// Start Notification
	setupNotificationForSyncer(ctx, syncer, mirrorHandler, cfg)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, mirrorHandler, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for sync runs...",
		"repo_url", cfg.RepoURL,
		"branch", cfg.RepoBranch,
		"target_dir", cfg.TargetDir,
		"sync_interval", cfg.SyncInterval.String(),
		"retention", cfg.KeepMirroredFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, cfg)

	// =========================================================================
	// Start Main Loop
	runSync := func() {
		if err := tel.InstrumentSync(ctx, func(ctx context.Context) error {
			_, err := syncer.Sync(ctx)

			return err
		}); err != nil {
			logger.Error("sync run failed", "err", err)
		}
	}

	// First sync right away instead of waiting a full interval.
	tel.RecordSyncTrigger("startup")
	queueSync(syncTrigger)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		case <-ticker.C:
			tel.RecordSyncTrigger("schedule")
			queueSync(syncTrigger)
		case <-syncTrigger:
			runSync()
		}
	}
}

// queueSync requests a sync run without blocking; a full channel means one is
// already queued.
func queueSync(trigger chan<- struct{}) {
	select {
	case trigger <- struct{}{}:
	default:
	}
}

func setupNotificationForSyncer(ctx context.Context, syncer *mirror.Syncer, handler *rest.MirrorHandler, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	go func() {
		for event := range syncer.OnFileDownloadError {
			logger.Error("file download failed", "path", event.Path)

			if notifyErr := notif.Notify(notifier.FileFailedMessage(event)); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()

	go func() {
		for report := range syncer.OnSyncFinished {
			logger.Info("sync finished",
				"total", report.Total,
				"downloaded", report.Downloaded,
				"skipped", report.Skipped,
				"failed", report.Failed,
				"duration", report.Duration.String(),
			)

			handler.SetLastReport(report)

			if notifyErr := notif.Notify(notifier.SyncFinishedMessage(report)); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and middleware to create the http rest server.
func setupServer(ctx context.Context, handler *rest.MirrorHandler, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, repo storage.FileRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				tracked, err := repo.GetFiles()
				if err != nil {
					logger.Error("failed to get tracked files for cleanup", "err", err)

					continue
				}

				if err := cleanup.DeleteExpiredFiles(ctx, tracked, cfg.TargetDir, cfg.KeepMirroredFor, repo); err != nil {
					logger.Error("failed to delete expired tracked files", "err", err)
				}
			}
		}
	}()
}
