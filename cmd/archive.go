package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/api"
	"github.com/linkvault/archiver/internal/archive"
	"github.com/linkvault/archiver/internal/config"
	"github.com/linkvault/archiver/internal/enricher/exifmeta"
	"github.com/linkvault/archiver/internal/enricher/hashes"
	"github.com/linkvault/archiver/internal/enricher/screenshot"
	"github.com/linkvault/archiver/internal/feeder/pubsub"
	"github.com/linkvault/archiver/internal/feeder/static"
	"github.com/linkvault/archiver/internal/fetcher/headless"
	"github.com/linkvault/archiver/internal/fetcher/web"
	"github.com/linkvault/archiver/internal/formatter/markdownfmt"
	"github.com/linkvault/archiver/internal/logging"
	"github.com/linkvault/archiver/internal/metrics"
	"github.com/linkvault/archiver/internal/statestore/console"
	"github.com/linkvault/archiver/internal/statestore/memory"
	"github.com/linkvault/archiver/internal/statestore/postgres"
	"github.com/linkvault/archiver/internal/statestore/sqlite"
	"github.com/linkvault/archiver/internal/storage/gcs"
	"github.com/linkvault/archiver/internal/storage/local"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Runs the archiving pipeline",
		Long: `Pulls items from the configured feed and archives each one: fetch,
enrich, store, render. The run ends when the feed is exhausted or the
process receives an interrupt.`,

		RunE: runArchiveCommand,
	}
	return cmd
}

func runArchiveCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	orchCfg := archive.Config{TmpRoot: cfg.TmpRoot}

	orchCfg.Feeder, err = buildFeeder(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}
	orchCfg.Fetchers = buildFetchers(cfg, logger, &closers)
	orchCfg.Enrichers = buildEnrichers(cfg, logger, &closers)
	orchCfg.Storages, err = buildStorages(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	orchCfg.StateStores, err = buildStateStores(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}
	if cfg.Formatter.Kind == "markdown" {
		orchCfg.Formatter = markdownfmt.New(cfg.Formatter.Title)
	}

	orch, err := archive.New(ctx, orchCfg, logger)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	if cfg.API.Enabled {
		startAPIServer(ctx, cfg, logger)
	}

	logger.Info("starting archive run",
		zap.String("feeder", cfg.Feeder.Kind), zap.Int("workers", cfg.Workers))
	if err := orch.RunPool(ctx, cfg.Workers); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("archive run: %w", err)
	}
	logger.Info("archive run finished")
	return nil
}

func buildFeeder(ctx context.Context, cfg config.Config, logger *zap.Logger, closers *[]func()) (archive.Feeder, error) {
	switch cfg.Feeder.Kind {
	case "static":
		return static.New(cfg.Feeder.URLs, cfg.Feeder.Folder), nil
	case "pubsub":
		f, err := pubsub.New(ctx, pubsub.Config{
			ProjectID:      cfg.Feeder.PubSub.ProjectID,
			SubscriptionID: cfg.Feeder.PubSub.SubscriptionID,
			Folder:         cfg.Feeder.Folder,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub feeder: %w", err)
		}
		*closers = append(*closers, func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("close pubsub feeder", zap.Error(cerr))
			}
		})
		return f, nil
	default:
		return nil, fmt.Errorf("unknown feeder kind %q", cfg.Feeder.Kind)
	}
}

func buildFetchers(cfg config.Config, logger *zap.Logger, closers *[]func()) []archive.Fetcher {
	var fetchers []archive.Fetcher
	if cfg.Fetchers.Web.Enabled {
		fetchers = append(fetchers, web.New(web.Config{
			UserAgent: cfg.Fetchers.Web.UserAgent,
			Timeout:   cfg.WebTimeout(),
		}, logger))
	}
	if cfg.Fetchers.Headless.Enabled {
		f := headless.New(headless.Config{
			UserAgent:         cfg.Fetchers.Headless.UserAgent,
			NavigationTimeout: cfg.HeadlessNavTimeout(),
		}, logger)
		*closers = append(*closers, f.Close)
		fetchers = append(fetchers, f)
	}
	return fetchers
}

func buildEnrichers(cfg config.Config, logger *zap.Logger, closers *[]func()) []archive.Enricher {
	var enrichers []archive.Enricher
	if cfg.Enrichers.Hashes.Enabled {
		enrichers = append(enrichers, hashes.New())
	}
	if cfg.Enrichers.Screenshot.Enabled {
		e := screenshot.New(screenshot.Config{
			NavigationTimeout: cfg.ScreenshotNavTimeout(),
			Quality:           cfg.Enrichers.Screenshot.Quality,
		}, logger)
		*closers = append(*closers, e.Close)
		enrichers = append(enrichers, e)
	}
	if cfg.Enrichers.Exif.Enabled {
		enrichers = append(enrichers, exifmeta.New(logger))
	}
	return enrichers
}

func buildStorages(ctx context.Context, cfg config.Config, closers *[]func()) ([]archive.Storage, error) {
	var storages []archive.Storage
	if cfg.Storages.Local.Enabled {
		s, err := local.New(local.Config{BaseDir: cfg.Storages.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		storages = append(storages, s)
	}
	if cfg.Storages.GCS.Enabled {
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		*closers = append(*closers, func() { _ = client.Close() })
		s, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Storages.GCS.Bucket,
			Prefix: cfg.Storages.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		storages = append(storages, s)
	}
	return storages, nil
}

func buildStateStores(ctx context.Context, cfg config.Config, logger *zap.Logger, closers *[]func()) ([]archive.StateStore, error) {
	var stores []archive.StateStore
	if cfg.StateStores.Console.Enabled {
		stores = append(stores, console.New(logger))
	}
	if cfg.StateStores.Memory.Enabled {
		stores = append(stores, memory.New())
	}
	if cfg.StateStores.Postgres.Enabled {
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.StateStores.Postgres.DSN,
			Table:           cfg.StateStores.Postgres.Table,
			MaxConns:        cfg.StateStores.Postgres.MaxConns,
			MinConns:        cfg.StateStores.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.StateStores.Postgres.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres state store: %w", err)
		}
		*closers = append(*closers, s.Close)
		stores = append(stores, s)
	}
	if cfg.StateStores.SQLite.Enabled {
		opts := sqlite.DefaultOptions()
		opts.EnableWAL = cfg.StateStores.SQLite.WAL
		s, err := sqlite.Open(cfg.StateStores.SQLite.Dir, opts)
		if err != nil {
			return nil, fmt.Errorf("init sqlite state store: %w", err)
		}
		*closers = append(*closers, func() {
			if cerr := s.Close(); cerr != nil {
				logger.Warn("close sqlite state store", zap.Error(cerr))
			}
		})
		stores = append(stores, s)
	}
	if len(stores) == 0 {
		stores = append(stores, console.New(logger))
	}
	return stores, nil
}

func startAPIServer(ctx context.Context, cfg config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           api.NewServer(logger, nil).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", zap.Error(err))
		}
	}()
}
