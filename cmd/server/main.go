package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/goledger-velocity/internal/adapter/http"
	"github.com/iho/goledger-velocity/internal/adapter/http/handler"
	"github.com/iho/goledger-velocity/internal/adapter/http/middleware"
	postgresRepo "github.com/iho/goledger-velocity/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/goledger-velocity/internal/adapter/repository/redis"
	"github.com/iho/goledger-velocity/internal/infrastructure/config"
	"github.com/iho/goledger-velocity/internal/infrastructure/logger"
	"github.com/iho/goledger-velocity/internal/infrastructure/metrics"
	"github.com/iho/goledger-velocity/internal/infrastructure/postgres"
	"github.com/iho/goledger-velocity/internal/infrastructure/redis"
	"github.com/iho/goledger-velocity/internal/usecase"
)

const rateLimiterCleanupInterval = 10 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// Connect to PostgreSQL
	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	if err := postgres.NewMigrator(cfg.DatabaseURL, cfg.MigrationsPath, logger.Component(log, "migrator")).Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	m := metrics.New()

	routerCfg := httpAdapter.RouterConfig{
		IdempotencyTTL: cfg.IdempotencyTTL,
		RateLimiter:    newRateLimiter(cfg),
		Metrics:        m,
		Logger:         logger.Component(log, "http"),
	}

	// Redis backs request idempotency only; without it the endpoint still serves.
	var redisPinger handler.RedisPinger
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClientWithConfig(ctx, redis.ClientConfig{
			URL:         cfg.RedisURL,
			PoolSize:    cfg.RedisPoolSize,
			PingTimeout: 5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		log.Info().Msg("connected to redis")

		redisPinger = redisClient
		routerCfg.IdempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
	} else {
		log.Warn().Msg("REDIS_URL is empty, idempotency keys are ignored")
	}

	// Velocity enforcement
	txManager := postgresRepo.NewTxManager(pool)
	balanceRepo := postgresRepo.NewVelocityBalanceRepository(cfg.VelocityLockTimeout)
	retrier := postgresRepo.NewRetrier(cfg.RetryMaxAttempts, logger.Component(log, "retrier"))
	velocityLog := logger.Component(log, "velocity")
	velocity := usecase.NewVelocityBalances(balanceRepo, postgresRepo.NewULIDGenerator(), m, velocityLog)
	operations := usecase.NewOperationUseCase(txManager, velocity, retrier, m, velocityLog, cfg.TransactionTimeout)

	routerCfg.VelocityHandler = handler.NewVelocityHandler(operations, routerCfg.Logger)
	routerCfg.HealthHandler = handler.NewHealthHandler(pool, redisPinger)

	done := make(chan struct{})
	defer close(done)
	if routerCfg.RateLimiter != nil {
		go routerCfg.RateLimiter.RunCleanup(done, rateLimiterCleanupInterval)
	}

	server := newServer(cfg, httpAdapter.NewRouter(routerCfg))

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// newRateLimiter returns nil when HTTP_RATE_LIMIT is not positive.
func newRateLimiter(cfg *config.Config) *middleware.RateLimiter {
	if cfg.HTTPRateLimit <= 0 {
		return nil
	}
	burst := cfg.HTTPRateBurst
	if burst <= 0 {
		burst = 1
	}
	return middleware.NewRateLimiter(cfg.HTTPRateLimit, burst)
}

func newServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      h,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
}
