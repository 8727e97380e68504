// Package app is the application layer between the CLI and the
// ingest/server packages. It constructs all dependencies from config
// and manages the database and log file lifecycle on Close.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"rustdist/internal/config"
	"rustdist/internal/database"
	"rustdist/internal/dist"
	"rustdist/internal/ingest"
	"rustdist/internal/server"
)

// App wires config, storage, the upstream client, the ingestor and the
// HTTP server together. The caller must call Close when done.
type App struct {
	cfg     *config.Config
	store   *database.Store
	log     *slogAdapter
	logFile *os.File
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "serve", "ingest") and is
// stamped on every log line of the run.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	store, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	runID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102T150405Z"))
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   store,
		log:     &slogAdapter{l: logger},
		logFile: logFile,
	}, nil
}

// Ingest fetches the channel manifests from upstream and applies them to
// the store in a single run.
func (a *App) Ingest(ctx context.Context) (*database.IngestResult, error) {
	client := dist.NewClient(
		dist.WithBaseURL(a.cfg.Upstream.BaseURL),
		dist.WithTimeout(time.Duration(a.cfg.Upstream.FetchTimeoutSeconds)*time.Second),
	)
	ing := ingest.New(client, a.store, a.log)
	return ing.Run(ctx)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv, err := server.New(a.store, a.log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", a.cfg.Server.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}

// Migrate applies any pending database migrations.
func (a *App) Migrate() error {
	return a.store.Migrate()
}

// MigrationStatus reports the applied and latest available schema
// versions.
func (a *App) MigrationStatus() (current uint, latest uint, err error) {
	return a.store.MigrationStatus()
}

// Close closes the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
