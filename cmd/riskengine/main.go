// Command riskengine serves the transaction risk and compliance engine:
// rolling-window limit checks, risk analysis, directory and case
// administration, and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianpay/riskengine/internal/api"
	"github.com/meridianpay/riskengine/internal/compliance"
	"github.com/meridianpay/riskengine/internal/config"
	"github.com/meridianpay/riskengine/internal/directory"
	"github.com/meridianpay/riskengine/internal/geo"
	"github.com/meridianpay/riskengine/internal/kyc"
	"github.com/meridianpay/riskengine/internal/metrics"
	"github.com/meridianpay/riskengine/internal/scoring"
	"github.com/meridianpay/riskengine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	flag.Parse()

	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, logger, sugar); err != nil {
		sugar.Fatalw("engine exited with error", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.Logger, sugar *zap.SugaredLogger) error {
	st, err := buildStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	sugar.Infow("store opened", "backend", cfg.Store.Backend)

	cache := buildCache(cfg.Cache)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	opts := compliance.Options{
		Scoring: scoring.Config{
			FailOpen:         cfg.Scoring.FailOpen,
			DirectoryTimeout: cfg.Scoring.DirectoryTimeout,
		},
		FuzzyThreshold: cfg.Directory.FuzzyThreshold,
		HistoryCap:     cfg.Limits.HistoryCap,
	}

	// Static providers stand in for the KYC and geolocation integrations;
	// both are injection points for real upstreams.
	svc := compliance.New(st, kyc.NewStaticProvider(), geo.NewStaticResolver(), cache, opts, m, sugar)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.RequestLogging(logger)...)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))
	router.GET(cfg.Server.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	handler := api.NewHandler(svc, sugar)
	handler.RegisterRoutes(router, api.JWTAuth(cfg.Auth.JWTSecret))
	if cfg.Auth.JWTSecret == "" {
		sugar.Warnw("admin API authentication disabled: auth.jwt_secret is empty")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("risk engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		sugar.Infow("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	sugar.Infow("shutdown complete")
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "badger":
		return store.NewBadgerStore(cfg.Path)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	case "postgres":
		return store.NewPostgresStore(cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func buildCache(cfg config.CacheConfig) directory.Cache {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return directory.NewRedisCache(client, cfg.TTL)
	default:
		return directory.NewMemoryCache(cfg.TTL)
	}
}
