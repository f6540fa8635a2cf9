package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/omniport-systems/omniport/internal/audit"
	"github.com/omniport-systems/omniport/internal/breaker"
	"github.com/omniport-systems/omniport/internal/classifier"
	"github.com/omniport-systems/omniport/internal/config"
	"github.com/omniport-systems/omniport/internal/dispatcher"
	"github.com/omniport-systems/omniport/internal/dlq"
	"github.com/omniport-systems/omniport/internal/gateway"
	"github.com/omniport-systems/omniport/internal/handlers"
	"github.com/omniport-systems/omniport/internal/idempotency"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/metrics"
	"github.com/omniport-systems/omniport/internal/normalizer"
	"github.com/omniport-systems/omniport/internal/repository"
	"github.com/omniport-systems/omniport/internal/scheduler"
	"github.com/omniport-systems/omniport/internal/server"
	"github.com/omniport-systems/omniport/internal/sinks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingress gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("omniport"))
	logging.SetDefault(logger)

	ctx := context.Background()

	repo, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	store, err := buildIdempotencyStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cls, err := buildClassifier(cfg, logger)
	if err != nil {
		return err
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})

	disp := dispatcher.New(repo, breakers, logger,
		dispatcher.WithTimeout(cfg.Gateway.HandlerTimeout),
	)
	sinks.RegisterDefaults(disp, logger)

	dlqOpts := []dlq.Option{
		dlq.WithMaxAttempts(cfg.DLQ.MaxAttempts),
		dlq.WithMaxPending(cfg.DLQ.MaxPending),
		dlq.WithBaseBackoff(cfg.DLQ.BaseBackoff),
	}
	if cfg.NATS.Enabled {
		mirror, err := dlq.NewJetStreamMirror(ctx, cfg.NATS.URL, logger)
		if err != nil {
			return fmt.Errorf("connect dlq mirror: %w", err)
		}
		defer mirror.Close()
		dlqOpts = append(dlqOpts, dlq.WithMirror(mirror))
	}
	dlqProc := dlq.NewProcessor(repo, disp, logger, dlqOpts...)

	gwOpts := []gateway.Option{
		gateway.WithWorkers(cfg.Gateway.Workers),
		gateway.WithQueueSize(cfg.Gateway.QueueSize),
	}
	if cfg.OpenSearch.Enabled {
		archive, err := audit.NewArchive(audit.Config{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.Insecure,
			Index:         cfg.OpenSearch.Index,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect audit archive: %w", err)
		}
		gwOpts = append(gwOpts, gateway.WithArchive(archive))
	}

	norm := normalizer.New(store, normalizer.WithBucket(cfg.Gateway.IdempotencyBucket))
	gw := gateway.New(repo, norm, cls, disp, breakers, dlqProc, metrics.NewAggregator(), logger, gwOpts...)
	defer gw.Close()

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	sched := scheduler.New(dlqProc, cfg.DLQ.Interval, logger)
	go sched.Start(schedCtx)
	defer sched.Stop()

	h := handlers.New(gw, repo, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// buildRepository selects Postgres when a database URL is configured and
// runs pending migrations first; otherwise the in-memory repository serves.
func buildRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, error) {
	if cfg.Database.URL == "" {
		logger.Info("using in-memory repository")
		return repository.NewInMemoryRepository(), nil
	}

	logger.Info("running database migrations")
	m, err := migrate.New("file://"+cfg.Database.MigrationsPath, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return repo, nil
}

func buildIdempotencyStore(cfg *config.Config, logger *logging.Logger) (idempotency.Store, error) {
	if !cfg.Redis.Enabled {
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(cfg.Gateway.IdempotencyTTL), nil
	}

	store, err := idempotency.NewRedisStore(cfg.Redis.URL, cfg.Gateway.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to redis idempotency store")
	return store, nil
}

func buildClassifier(cfg *config.Config, logger *logging.Logger) (*classifier.Classifier, error) {
	if cfg.Classifier.PatternsFile == "" {
		return classifier.New(), nil
	}

	patterns, err := classifier.LoadPatterns(cfg.Classifier.PatternsFile)
	if err != nil {
		return nil, fmt.Errorf("load classifier patterns: %w", err)
	}
	logger.Info("loaded classifier patterns", "file", cfg.Classifier.PatternsFile, "count", len(patterns))
	return classifier.NewWithPatterns(patterns), nil
}
