// Package main implements the batch worker: bulk video import/export and
// offline query-log maintenance.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dsjohal14/vidsearch/internal/libs/config"
	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/db"
	"github.com/dsjohal14/vidsearch/internal/scope/db/wal"
	"github.com/dsjohal14/vidsearch/internal/scope/search/querylog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "vidsearch-worker",
		Short:        "Batch jobs for the vidsearch document store and query log",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			obs.InitLogger(cfg.LogLevel)
			return nil
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "import <file.jsonl>",
			Short: "Import videos, one JSON document per line (- for stdin)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), cfg, func(store db.Storage) error {
					return runImport(cmd.Context(), store, args[0], cmd.InOrStdin())
				})
			},
		},
		&cobra.Command{
			Use:   "export [file.jsonl]",
			Short: "Export every stored video as JSONL (stdout by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := "-"
				if len(args) == 1 {
					path = args[0]
				}
				return withStore(cmd.Context(), cfg, func(store db.Storage) error {
					return runExport(cmd.Context(), store, path, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "maintain",
			Short: "Expire, rotate and compact the query log once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMaintain(cmd.Context(), cfg)
			},
		},
	)
	return root
}

func withStore(ctx context.Context, cfg *config.Config, fn func(db.Storage) error) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, database, err := db.Open(ctx, cfg.StoreBackend, cfg.DataDir, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		if database != nil {
			database.Close()
		}
	}()
	return fn(store)
}

func runImport(ctx context.Context, store db.Storage, path string, stdin io.Reader) error {
	logger := obs.Logger("worker")
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	start := time.Now()
	res, err := db.ImportJSONL(ctx, r, store)
	if err != nil {
		return err
	}
	logger.Info().
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Dur("took", time.Since(start)).
		Msg("import complete")
	return nil
}

func runExport(ctx context.Context, store db.Storage, path string, stdout io.Writer) error {
	logger := obs.Logger("worker")
	w := stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}

	n, err := db.ExportJSONL(ctx, store, w)
	if err != nil {
		return err
	}
	logger.Info().Int("exported", n).Str("path", path).Msg("export complete")
	return nil
}

// runMaintain replays the query log and runs one maintenance pass. Compaction
// needs the Postgres manifest; with buntdb only expiry and rotation run.
func runMaintain(ctx context.Context, cfg *config.Config) error {
	logger := obs.Logger("worker")

	qcfg := querylog.DefaultConfig()
	qcfg.Dir = filepath.Join(cfg.DataDir, "querylog")
	qcfg.Retention = cfg.QueryLogRetention
	qcfg.SegmentMaxAge = cfg.WALSegmentMaxAge

	var opts []querylog.Option
	if cfg.StoreBackend == config.BackendPostgres {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.MigrateToLatest(ctx); err != nil {
			return err
		}
		opts = append(opts, querylog.WithManifest(wal.NewPostgresManifest(database.Pool())))
	}

	ql, err := querylog.Open(ctx, qcfg, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = ql.Close() }()

	if err := ql.Maintain(ctx); err != nil {
		return err
	}
	logger.Info().Int("popular_queries", ql.PopularCount()).Msg("query log maintenance complete")
	return nil
}
