package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avocado-data/avocado/cmd/avocado/cli"
	"github.com/avocado-data/avocado/internal/api"
	"github.com/avocado-data/avocado/internal/app"
	"github.com/avocado-data/avocado/internal/migrations"
	"github.com/avocado-data/avocado/internal/observability"
	"github.com/avocado-data/avocado/internal/search"
	"github.com/avocado-data/avocado/jobs"
)

type poolMigrator struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func (m poolMigrator) Up(ctx context.Context) ([]string, error) {
	return migrations.Up(ctx, m.pool, m.logger)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	if len(args) > 0 && args[0] != "serve" {
		if !cli.IsCommand(args[0]) {
			os.Exit(cli.NewManagement(cli.Deps{}, cli.Options{}).Run(ctx, args))
		}
		os.Exit(runManagement(ctx, cfg, logger, args))
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("serve", slog.Any("error", err))
		os.Exit(1)
	}
}

func runManagement(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	registry, err := app.BuildRegistry(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("build registry", slog.Any("error", err))
		return 1
	}
	defer registry.Close()

	deps := cli.Deps{
		Index:            registry.Index,
		Permissions:      registry.Permissions,
		Users:            registry.Users,
		Fixtures:         registry.Fixtures,
		DefaultNamespace: cfg.SyncNamespace,
	}
	if syncer, err := registry.Syncer(); err != nil {
		deps.SyncUnavailable = err
	} else {
		deps.Syncer = syncer
	}
	if registry.Pool != nil {
		deps.Migrator = poolMigrator{pool: registry.Pool, logger: logger}
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		logger.Warn("jobs cli unavailable", slog.Any("error", err))
	} else {
		deps.Jobs = jobsCLI
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
	}
	return cli.NewManagement(deps, cli.Options{}).Run(ctx, args)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	registry, err := app.BuildRegistry(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		return err
	}
	defer registry.Close()

	if err := registry.Index.Load(); errors.Is(err, search.ErrNoSnapshot) {
		logger.Info("no search snapshot, run rebuild_index to populate it")
	} else if err != nil {
		logger.Warn("load search snapshot", slog.Any("error", err))
	}
	go reloadSnapshots(ctx, registry.Index, cfg.SearchReloadInterval, logger)
	if cfg.BootstrapFixture != "" {
		res, err := registry.Fixtures.LoadFile(ctx, cfg.BootstrapFixture)
		if err != nil {
			return err
		}
		logger.Info("bootstrap fixture loaded", slog.String("path", cfg.BootstrapFixture), slog.Int("objects", res.Objects))
	}
	if err := registry.Cache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	var jobHandler *jobs.Handler
	if registry.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Authenticator: registry.Users,
		APIHandler:    api.NewHandler(logger, registry.Fields, registry.Concepts, registry.Categories, registry.Index),
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// reloadSnapshots picks up index builds written by the worker.
func reloadSnapshots(ctx context.Context, index *search.Index, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := index.Stats().BuildID
			if err := index.Load(); err != nil {
				if !errors.Is(err, search.ErrNoSnapshot) {
					logger.Warn("reload search snapshot", slog.Any("error", err))
				}
				continue
			}
			if after := index.Stats().BuildID; after != before {
				logger.Info("search snapshot reloaded", slog.String("build_id", after))
			}
		}
	}
}
