// Package main implements the HTTP API server for vidsearch.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	apihttp "github.com/dsjohal14/vidsearch/internal/http"
	"github.com/dsjohal14/vidsearch/internal/libs/accel"
	"github.com/dsjohal14/vidsearch/internal/libs/config"
	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/db"
	"github.com/dsjohal14/vidsearch/internal/scope/db/wal"
	"github.com/dsjohal14/vidsearch/internal/scope/search"
	"github.com/dsjohal14/vidsearch/internal/scope/search/indexer"
	"github.com/dsjohal14/vidsearch/internal/scope/search/invindex"
	"github.com/dsjohal14/vidsearch/internal/scope/search/querylog"
	"github.com/dsjohal14/vidsearch/internal/scope/search/suggest"
	"github.com/dsjohal14/vidsearch/internal/scope/search/trigram"
	"github.com/dsjohal14/vidsearch/internal/streamlite"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Init logger
	obs.InitLogger(cfg.LogLevel)
	logger := obs.Logger("api")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	metrics := obs.NewMetrics()

	store, manifest, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	queryLog, err := openQueryLog(ctx, cfg, manifest, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = queryLog.Close() }()
	queryLog.Start(ctx)

	ix := indexer.New(invindex.New(), trigram.New(),
		indexer.WithMetrics(metrics),
		indexer.WithBatch(accel.NewBatch(256)),
	)
	svc := search.New(ix, queryLog,
		search.WithMetrics(metrics),
		search.WithLogQueueSize(cfg.LogQueueSize),
		search.WithSuggestSplit(suggest.Split{
			Popular:  cfg.SuggestSplit.Popular,
			Titles:   cfg.SuggestSplit.Titles,
			Channels: cfg.SuggestSplit.Channels,
		}),
	)
	defer svc.Close()

	// initial load from the store, then incremental polling
	feed := streamlite.NewChangeFeed(store, ix,
		streamlite.WithInterval(cfg.SyncInterval),
		streamlite.WithRate(cfg.SyncRate, 1),
	)
	res, err := feed.Poll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	logger.Info().Int("indexed", res.Indexed).Int("skipped", res.Skipped).Msg("initial index built")

	if err := feed.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = feed.Stop() }()

	handler := apihttp.NewHandler(svc, store, metrics, obs.Logger("http"))
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           apihttp.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
	}
	return nil
}

// openStore opens the configured document store. The Postgres backend also
// returns a manifest for query-log WAL segments.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (db.Storage, wal.ManifestStore, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, database, err := db.Open(connectCtx, cfg.StoreBackend, cfg.DataDir, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if database == nil {
		logger.Info().Str("data_dir", cfg.DataDir).Msg("using buntdb document store")
		return store, nil, func() { _ = store.Close() }, nil
	}

	logger.Info().Msg("using Postgres document store and WAL manifest")
	return store, wal.NewPostgresManifest(database.Pool()), database.Close, nil
}

func openQueryLog(ctx context.Context, cfg *config.Config, manifest wal.ManifestStore, metrics *obs.Metrics) (*querylog.Log, error) {
	qcfg := querylog.DefaultConfig()
	qcfg.Dir = filepath.Join(cfg.DataDir, "querylog")
	qcfg.Retention = cfg.QueryLogRetention
	qcfg.SegmentMaxAge = cfg.WALSegmentMaxAge
	if cfg.WALSync == "immediate" {
		qcfg.SyncPolicy = wal.ImmediateSyncPolicy()
	}

	opts := []querylog.Option{querylog.WithMetrics(metrics)}
	if manifest != nil {
		opts = append(opts, querylog.WithManifest(manifest))
	}
	return querylog.Open(ctx, qcfg, opts...)
}
