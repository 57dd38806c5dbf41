package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/api"
	"github.com/tutorlane/payroll-engine/internal/api/middleware"
	"github.com/tutorlane/payroll-engine/internal/config"
	"github.com/tutorlane/payroll-engine/internal/db"
	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/idempotency"
	"github.com/tutorlane/payroll-engine/internal/lock"
	"github.com/tutorlane/payroll-engine/internal/observability"
	"github.com/tutorlane/payroll-engine/internal/repository"
	"github.com/tutorlane/payroll-engine/internal/service"
	"github.com/tutorlane/payroll-engine/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	repoStore := repository.NewStore(pool)
	if err := repoStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	idemStore := idempotency.NewStore(redisClient, repoStore, cfg.IdempotencyTTL)
	locker := lock.NewRedisLocker(redisClient)
	clock := domain.RealClock{}

	// Upstream integrations (class platform, teacher directory, rate
	// feeds, notifications) run against in-process fakes until the real
	// services are connected.
	aggregator := gateway.NewMockHourAggregator()
	directory := gateway.NewMockTeacherDirectory()
	notifier := &gateway.MockNotifier{}
	sources := []gateway.RateSource{
		&gateway.MockRateSource{SourceName: "central_bank", Reliable: domain.ReliabilityHigh, Rate: decimal.RequireFromString("31.50")},
		&gateway.MockRateSource{SourceName: "market_feed", Reliable: domain.ReliabilityMedium, Rate: decimal.RequireFromString("31.80")},
	}

	auditSvc := service.NewAuditService(repoStore, clock)
	settingsSvc := service.NewSettingsService(repoStore, auditSvc, clock)
	currencySvc := service.NewCurrencyService(repoStore, auditSvc, clock, sources, cfg.UpstreamTimeout)
	invoiceSvc := service.NewInvoiceService(repoStore, auditSvc, settingsSvc, currencySvc, directory, aggregator, notifier, clock)
	generationSvc := service.NewGenerationService(repoStore, invoiceSvc, auditSvc, directory, locker, cfg.GenerationLockTTL, clock)

	generationWorker := worker.NewGenerationWorker(generationSvc, clock, cfg.GenerationDay, cfg.GenerationHour)
	stopGeneration := generationWorker.Run(ctx)
	logger.Info("generation worker started",
		zap.Int("day", cfg.GenerationDay),
		zap.Int("hour", cfg.GenerationHour))

	ratesWorker := worker.NewRatesWorker(currencySvc, clock).WithInterval(cfg.RateRefreshInterval)
	stopRates := ratesWorker.Run(ctx)
	logger.Info("rate refresh worker started", zap.Duration("interval", cfg.RateRefreshInterval))

	router := api.NewRouter(cfg, logger, pool, redisClient, idemStore,
		settingsSvc, currencySvc, invoiceSvc, generationSvc, auditSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopGeneration()
	stopRates()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
