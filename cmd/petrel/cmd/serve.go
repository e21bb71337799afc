package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/embed"
	"github.com/petrel-search/petrel/internal/events"
	"github.com/petrel-search/petrel/internal/logging"
	"github.com/petrel-search/petrel/internal/parse"
	"github.com/petrel-search/petrel/internal/pipeline"
	"github.com/petrel-search/petrel/internal/preflight"
	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/server"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
	"github.com/petrel-search/petrel/internal/telemetry"
	"github.com/petrel-search/petrel/internal/watch"
	"github.com/petrel-search/petrel/pkg/version"
)

const drainTimeout = 30 * time.Second

type serveOptions struct {
	configPath string
	bindAddr   string
	skipCheck  bool
	noWatch    bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the petrel server",
		Long: `Run the petrel server: HTTP API, upload directory watcher, and the
ingestion worker pool.

The server owns the data directory exclusively (a second serve against
the same directory fails fast) and shuts down cleanly on SIGINT/SIGTERM:
the watcher stops, in-flight documents drain, and the store is saved.`,
		Example: `  # Serve with petrel.yaml from the current directory
  petrel serve

  # Explicit config file and bind address
  petrel serve --config /etc/petrel/petrel.yaml --bind 0.0.0.0:8093`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to config file (default petrel.yaml in current directory)")
	cmd.Flags().StringVar(&opts.bindAddr, "bind", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip pre-flight system checks")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Disable the upload directory watcher")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadServeConfig(opts)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupServeLogging(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	logger.Info("petrel starting",
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.String("upload_dir", cfg.Paths.UploadDir))

	if !opts.skipCheck {
		if err := runPreflight(ctx, cfg, logger); err != nil {
			return err
		}
	}

	// One serving process per data directory.
	lock := store.NewDirLock(cfg.Paths.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data directory: %w", err)
	}
	if !acquired {
		return fmt.Errorf("data directory %s is locked by another petrel process", cfg.Paths.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	embedder, err := embed.New(ctx, embed.Config{
		Provider:        cfg.Embedding.Provider,
		Model:           cfg.Embedding.Model,
		ServiceURL:      cfg.Embedding.ServiceURL,
		Device:          cfg.Embedding.Device,
		Precision:       cfg.Embedding.Precision,
		BatchSizeVisual: cfg.Embedding.BatchSizeVisual,
		BatchSizeText:   cfg.Embedding.BatchSizeText,
		ReprIndex:       cfg.Embedding.RepresentativeTokenIndex,
		CacheSize:       cfg.Embedding.CacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	storeCfg := store.DefaultConfig(cfg.Paths.DataDir, embedder.Dimensions())
	storeCfg.Precision = cfg.Embedding.Precision
	storeCfg.ReprIndex = embedder.ReprIndex()
	st, err := store.Open(ctx, storeCfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	registry := parse.NewRegistry(parse.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		ServiceURL:   cfg.Ingest.ParserServiceURL,
		RenderDPI:    cfg.Ingest.PageRenderDPI,
		Logger:       logger,
	})

	bus := events.New[status.ProcessingStatus](
		events.WithLogger[status.ProcessingStatus](logger),
	)
	defer bus.Close()

	manager := status.NewManager(
		status.WithTTL(time.Duration(cfg.Status.TTLSeconds)*time.Second),
		status.WithCleanupInterval(durationOr(cfg.Status.CleanupInterval, 15*time.Minute)),
		status.WithNotifier(bus.Publish),
		status.WithLogger(logger),
	)
	manager.StartCleanup(ctx)

	pipe, err := pipeline.New(pipeline.ConfigFrom(cfg), pipeline.Deps{
		Validator: cfg.Validator(),
		Status:    manager,
		Parser:    registry,
		Embedder:  embedder,
		Store:     st,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if err := pipe.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	tstore, err := telemetry.Open(filepath.Join(cfg.Paths.DataDir, "telemetry.db"))
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	collector := telemetry.NewCollector(tstore)

	engine, err := search.New(embedder, st, search.ConfigFrom(cfg),
		search.WithLogger(logger),
		search.WithTelemetry(collector),
	)
	if err != nil {
		return fmt.Errorf("create search engine: %w", err)
	}

	srv, err := server.New(server.ConfigFrom(cfg), server.Deps{
		Ingestor: pipe,
		Search:   engine,
		Status:   manager,
		Store:    st,
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	if !opts.noWatch {
		watcher, err := watch.New(watch.Config{
			Dir:         cfg.Paths.UploadDir,
			QuietPeriod: durationOr(cfg.Ingest.WatchQuietPeriod, watch.DefaultQuietPeriod),
		}, watch.Deps{
			Sink:      pipe,
			Validator: cfg.Validator(),
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	// Shutdown sequencing: stop accepting HTTP, drain the pool, flush
	// telemetry, then snapshot the store (the deferred Close saves).
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.String("error", err.Error()))
		}

		pipe.Stop(drainTimeout)

		if err := collector.Close(); err != nil {
			logger.Warn("telemetry flush", slog.String("error", err.Error()))
		}
		if err := tstore.Close(); err != nil {
			logger.Warn("telemetry close", slog.String("error", err.Error()))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("petrel stopped")
	return err
}

// loadServeConfig resolves the effective configuration for serve.
func loadServeConfig(opts serveOptions) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	if opts.bindAddr != "" {
		cfg.Server.BindAddr = opts.bindAddr
	}
	return cfg, nil
}

// setupServeLogging configures process logging from the config, forcing
// debug level when --debug is set.
func setupServeLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.FilePath = cfg.Logging.File
	if debugMode {
		logCfg.Level = "debug"
	}
	if logCfg.FilePath == "" && debugMode {
		if err := logging.EnsureLogDir(); err == nil {
			logCfg.FilePath = logging.DefaultLogPath()
		}
	}
	return logging.Setup(logCfg)
}

// runPreflight checks the environment before taking the data directory.
// Passing results are remembered via a marker file so later starts skip
// the probes; failures always run the full suite next time.
func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !preflight.NeedsCheck(cfg.Paths.DataDir) {
		logger.Debug("preflight skipped",
			slog.Duration("marker_age", preflight.MarkerAge(cfg.Paths.DataDir)))
		return nil
	}

	checker := preflight.New(preflight.WithOutput(os.Stderr))
	results := checker.RunAll(ctx, cfg)
	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed, run 'petrel doctor' for details")
	}
	if err := preflight.MarkPassed(cfg.Paths.DataDir); err != nil {
		logger.Warn("write preflight marker", slog.String("error", err.Error()))
	}
	return nil
}

// durationOr parses s, falling back to def when unset or invalid.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
