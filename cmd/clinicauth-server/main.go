// Command clinicauth-server serves the clinic authentication API.
//
// Environment, besides the CLINICAUTH_* engine settings:
//
//	DATABASE_URL                 Postgres DSN (required)
//	REDIS_ADDR                   host:port of redis (default localhost:6379)
//	REDIS_PASSWORD, REDIS_DB
//	HTTP_ADDR                    listen address (default :8080)
//	MIGRATE_ON_START             "true" applies the embedded schema
//	OTEL_EXPORTER_OTLP_ENDPOINT  enables tracing
//	LOG_LEVEL, LOG_DEV
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrEthical07/clinicauth"
	"github.com/MrEthical07/clinicauth/httpapi"
	"github.com/MrEthical07/clinicauth/internal/logging"
	"github.com/MrEthical07/clinicauth/internal/telemetry"
	"github.com/MrEthical07/clinicauth/metrics/export/otel"
	"github.com/MrEthical07/clinicauth/metrics/export/prometheus"
	"github.com/MrEthical07/clinicauth/middleware"
	"github.com/MrEthical07/clinicauth/migrations"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const serviceName = "clinicauth"

type serverConfig struct {
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	HTTPAddr       string
	MigrateOnStart bool
}

func serverConfigFromEnv() (serverConfig, error) {
	cfg := serverConfig{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		MigrateOnStart: os.Getenv("MIGRATE_ON_START") == "true",
	}
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "clinicauth-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Loads .env before anything reads the environment.
	authCfg, err := clinicauth.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	srvCfg, err := serverConfigFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	pool, err := pgxpool.New(ctx, srvCfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	if srvCfg.MigrateOnStart {
		applied, err := migrations.Apply(ctx, pool, logger)
		if err != nil {
			return err
		}
		logger.Info("schema up to date", zap.Int("applied", len(applied)))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     srvCfg.RedisAddr,
		Password: srvCfg.RedisPassword,
		DB:       srvCfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	engine, err := clinicauth.New().
		WithConfig(authCfg).
		WithDB(pool).
		WithRedis(rdb).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	otelMetrics, err := otel.NewExporter(otelglobal.Meter(serviceName), engine)
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}
	defer func() { _ = otelMetrics.Close() }()

	var metricsHandler http.Handler
	if authCfg.Metrics.Enabled {
		metricsHandler = prometheus.NewExporter(engine).Handler()
	}

	api := httpapi.NewHandler(httpapi.Config{
		Service:   engine,
		Logger:    logger.Named("http"),
		Metrics:   metricsHandler,
		RouteMode: clinicauth.ModeInherit,
	})
	root := httpapi.Chain(api.Routes(),
		httpapi.RequestIDMiddleware,
		httpapi.LoggingMiddleware(logger.Named("access")),
		httpapi.ClientMiddleware,
		tenant.Middleware(tenant.MiddlewareConfig{
			Resolver:       engine.TenantResolver(),
			Logger:         logger.Named("tenant"),
			BypassPrefixes: authCfg.Tenant.BypassPrefixes,
			WriteError:     middleware.WriteError,
			OnConflict:     engine.TenantSourceConflict,
		}),
	)

	server := &http.Server{
		Addr:              srvCfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(root, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go runCleanup(ctx, engine, authCfg.Session.CleanupInterval, logger.Named("cleanup"))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return nil
}

// runCleanup deactivates expired sessions and reset tokens of every active
// practice until ctx ends.
func runCleanup(ctx context.Context, engine *clinicauth.Engine, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		logger.Info("cleanup disabled")
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := engine.CleanupAllTenants(ctx)
			if err != nil {
				logger.Warn("cleanup failed", zap.Error(err))
				continue
			}
			logger.Info("cleanup done",
				zap.Int("sessions", res.Sessions),
				zap.Int("tokens", res.Tokens),
				zap.Int("reset_tokens", res.ResetTokens))
		}
	}
}
