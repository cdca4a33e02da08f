package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseboard/adinsights/internal/anomaly"
	"github.com/pulseboard/adinsights/internal/api"
	"github.com/pulseboard/adinsights/internal/burnout"
	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/forecast"
	"github.com/pulseboard/adinsights/internal/normalizer"
	"github.com/pulseboard/adinsights/internal/pipeline"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
	"github.com/pulseboard/adinsights/internal/repository/postgres"
	"github.com/pulseboard/adinsights/internal/store"
)

// checkPortAvailable verifies that the target port is not already in use,
// so a stale process on the port fails fast instead of at first request.
func checkPortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use: %v", port, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		logger.Info("DATABASE_URL env override active")
	}

	if err := checkPortAvailable(cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check failed: %v", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	metricsRepo := postgres.NewMetricsRepo(db, cfg.Analytics.PageSize)
	adsRepo := postgres.NewAdsRepo(db, cfg.Analytics.PageSize)
	resultsRepo := postgres.NewResultsRepo(db, cfg.Analytics.PageSize)
	featuresRepo := postgres.NewFeaturesRepo(db, cfg.Analytics.PageSize)
	anomaliesRepo := postgres.NewAnomaliesRepo(db)
	predictionsRepo := postgres.NewPredictionsRepo(db)

	// Redis backs the global elasticity cache only; the forecaster degrades
	// to per-request computation when it is unreachable.
	var elasticityCache forecast.Cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, global elasticity cache disabled",
			"addr", cfg.Redis.Addr, "error", err)
		redisClient.Close()
	} else {
		elasticityCache = forecast.NewRedisCache(redisClient)
		defer redisClient.Close()
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	pingCancel()

	mapping := normalizer.NewFamilyMapping(cfg.Analytics.FamilyOverrides)
	normalizerSvc := normalizer.NewService(metricsRepo, resultsRepo, adsRepo, mapping,
		cfg.Analytics.WriteBatchSize, cfg.Analytics.RetryAttempts, cfg.Analytics.RetryBackoff())
	processor := pipeline.NewProcessor(metricsRepo, resultsRepo, featuresRepo, anomaliesRepo, cfg.Analytics)
	anomalyQuery := anomaly.NewQueryService(anomaliesRepo)
	anomalyStatus := anomaly.NewStatusService(anomaliesRepo)
	burnoutAnalyzer := burnout.NewAnalyzer(featuresRepo, predictionsRepo, cfg.Burnout)
	forecaster := forecast.NewService(resultsRepo, featuresRepo, adsRepo, elasticityCache, cfg.Forecast)

	handlers := api.NewHandlers(normalizerSvc, processor, anomalyQuery, anomalyStatus, burnoutAnalyzer, predictionsRepo, forecaster)
	server := api.NewServer(cfg.Server, handlers)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
}
