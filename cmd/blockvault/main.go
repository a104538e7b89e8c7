// Package main provides the blockvault binary entry point that serves the
// encrypted block store over HTTP.
//
// The application flow:
//  1. Load an optional .env file, then defaults and environment variables.
//  2. Validate configuration.
//  3. Open the block database and apply the schema.
//  4. Open the metrics database and start the flush loop.
//  5. Wire key provider, envelope codec and block service.
//  6. Serve HTTP until interrupted, then shut down gracefully.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/config"
	"github.com/haukened/blockvault/internal/envelope"
	"github.com/haukened/blockvault/internal/httpx"
	"github.com/haukened/blockvault/internal/keys"
	"github.com/haukened/blockvault/internal/metrics"
	"github.com/haukened/blockvault/internal/store/sqldb"
)

const shutdownTimeout = 10 * time.Second

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return config.Load()
}

func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory %q: %w", dir, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat data directory %q: %w", dir, err)
	case !st.IsDir():
		return fmt.Errorf("data path %q is not a directory", dir)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, sqldb.Dialect, error) {
	d, err := sqldb.ForName(cfg.Driver)
	if err != nil {
		return nil, sqldb.Dialect{}, err
	}
	db, err := sqldb.Open(ctx, d, cfg.DSN())
	if err != nil {
		return nil, sqldb.Dialect{}, err
	}
	if err := sqldb.InitSchema(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, sqldb.Dialect{}, err
	}
	return db, d, nil
}

func openMetrics(ctx context.Context, cfg *config.Config) (*metrics.Manager, *sql.DB, error) {
	db, err := sqldb.Open(ctx, sqldb.SQLite, cfg.MetricsDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics db: %w", err)
	}
	mgr := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlush, Logger: slog.Default()})
	if err := mgr.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return mgr, db, nil
}

func buildService(d sqldb.Dialect, rec app.Recorder) *app.Service {
	kp := keys.New(sqldb.NewConfigStore(d))
	kp.Metrics = rec
	return &app.Service{
		Index:   sqldb.NewBlockIndex(d),
		Codec:   envelope.New(kp),
		Metrics: rec,
	}
}

func buildHandler(cfg *config.Config, svc *app.Service, db *sql.DB, mgr *metrics.Manager) http.Handler {
	h := httpx.New(svc, sqldb.TxRunner{DB: db}, cfg.MaxBytes, db.PingContext)
	if mgr != nil {
		h.Metrics = metrics.Handler(mgr, cfg.MetricsToken)
	}
	return h.Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{Addr: cfg.Addr, Handler: handler, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 120 * time.Second}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := ensureDataDir(cfg.DataDir); err != nil {
		return err
	}
	db, d, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr, mdb, err := openMetrics(ctx, cfg)
	if err != nil {
		return err
	}
	defer mdb.Close()
	mgr.Start(ctx)

	srv := newServer(cfg, buildHandler(cfg, buildService(d, mgr), db, mgr))
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Addr, "driver", d.Name, "pid", os.Getpid())
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		slog.Error("metrics final flush", "domain", "metrics", "err", err)
	}
	return serveErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
