package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseboard/adinsights/internal/burnout"
	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/domain"
	"github.com/pulseboard/adinsights/internal/export"
	"github.com/pulseboard/adinsights/internal/forecast"
	"github.com/pulseboard/adinsights/internal/normalizer"
	"github.com/pulseboard/adinsights/internal/pipeline"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
	"github.com/pulseboard/adinsights/internal/repository/postgres"
	"github.com/pulseboard/adinsights/internal/store"
)

// Batch entry point: runs the nightly analytics stages for one account
// without going through the HTTP API. Stages run in pipeline order;
// -stage restricts the run to a subset.
func main() {
	accountID := flag.String("account", "", "ad account to process (required)")
	stages := flag.String("stage", "all", "comma-separated stages: normalize,process,burnout,forecast (or all)")
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	if *accountID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	run := map[string]bool{}
	for _, s := range strings.Split(*stages, ",") {
		run[strings.TrimSpace(s)] = true
	}
	if run["all"] {
		for _, s := range []string{"normalize", "process", "burnout", "forecast"} {
			run[s] = true
		}
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

	ctx := context.Background()

	var elasticityCache forecast.Cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, global elasticity cache disabled",
			"addr", cfg.Redis.Addr, "error", err)
		redisClient.Close()
	} else {
		elasticityCache = forecast.NewRedisCache(redisClient)
		defer redisClient.Close()
	}
	pingCancel()

	exporter, err := export.New(ctx, cfg.Export)
	if err != nil {
		log.Fatalf("Failed to initialize export: %v", err)
	}

	start := time.Now()

	if run["normalize"] {
		mapping := normalizer.NewFamilyMapping(cfg.Analytics.FamilyOverrides)
		svc := normalizer.NewService(metricsRepo, resultsRepo, adsRepo, mapping,
			cfg.Analytics.WriteBatchSize, cfg.Analytics.RetryAttempts, cfg.Analytics.RetryBackoff())
		report, err := svc.NormalizeAccountResults(ctx, *accountID)
		if err != nil {
			log.Fatalf("Normalize stage failed: %v", err)
		}
		added, err := svc.EnsureClickFamily(ctx, *accountID)
		if err != nil {
			log.Fatalf("Click-family backfill failed: %v", err)
		}
		primaries, err := svc.ResolvePrimaryFamilies(ctx, *accountID)
		if err != nil {
			log.Fatalf("Primary-family resolution failed: %v", err)
		}
		logger.Info("normalize stage complete",
			"account_id", *accountID,
			"rows", report.ProcessedRows,
			"click_rows_added", added,
			"primary_families", len(primaries))
	}

	if run["process"] {
		processor := pipeline.NewProcessor(metricsRepo, resultsRepo, featuresRepo, anomaliesRepo, cfg.Analytics)
		report, err := processor.ProcessAccount(ctx, *accountID)
		if err != nil {
			log.Fatalf("Process stage failed: %v", err)
		}
		logger.Info("process stage complete",
			"account_id", *accountID,
			"ads_processed", report.AdsProcessed,
			"ads_failed", report.AdsFailed,
			"anomalies", report.AnomaliesDetected)

		if exporter != nil {
			summary, err := anomaliesRepo.Summary(ctx, *accountID)
			if err != nil {
				logger.Error("anomaly summary export failed", "error", err)
			} else if _, err := exporter.Export(ctx, *accountID, "anomaly-summary", summary); err != nil {
				logger.Error("anomaly summary export failed", "error", err)
			}
		}
	}

	if run["burnout"] {
		analyzer := burnout.NewAnalyzer(featuresRepo, predictionsRepo, cfg.Burnout)
		predictions, err := analyzer.PredictAllAds(ctx, *accountID)
		if err != nil {
			log.Fatalf("Burnout stage failed: %v", err)
		}
		report, err := analyzer.RunQuantileAnalysis(ctx, *accountID)
		if err != nil {
			log.Fatalf("Quantile analysis failed: %v", err)
		}
		logger.Info("burnout stage complete",
			"account_id", *accountID,
			"predictions", len(predictions),
			"dataset_size", report.DatasetSize,
			"insights", len(report.Insights))

		if exporter != nil {
			if _, err := exporter.Export(ctx, *accountID, "burnout-predictions", predictions); err != nil {
				logger.Error("burnout export failed", "error", err)
			}
			if _, err := exporter.Export(ctx, *accountID, "quantile-report", report); err != nil {
				logger.Error("quantile report export failed", "error", err)
			}
		}
	}

	if run["forecast"] {
		forecaster := forecast.NewService(resultsRepo, featuresRepo, adsRepo, elasticityCache, cfg.Forecast)
		ads, err := adsRepo.ListAds(ctx, *accountID)
		if err != nil {
			log.Fatalf("Forecast stage failed: %v", err)
		}

		var forecasts []domain.ForecastResult
		for _, ad := range ads {
			history, err := featuresRepo.ListByAd(ctx, ad.ID)
			if err != nil {
				logger.Error("forecast skipped", "ad_id", ad.ID, "error", err)
				continue
			}
			if len(history) == 0 {
				continue
			}
			family := history[len(history)-1].ResultFamily
			fc, err := forecaster.ForecastAd(ctx, *accountID, ad.ID, family)
			if err != nil {
				logger.Error("forecast failed", "ad_id", ad.ID, "error", err)
				continue
			}
			if fc != nil {
				forecasts = append(forecasts, *fc)
			}
		}
		logger.Info("forecast stage complete",
			"account_id", *accountID, "ads", len(ads), "forecasts", len(forecasts))

		if exporter != nil && len(forecasts) > 0 {
			if _, err := exporter.Export(ctx, *accountID, "forecasts", forecasts); err != nil {
				logger.Error("forecast export failed", "error", err)
			}
		}
	}

	logger.Info("analyzer run finished",
		"account_id", *accountID, "elapsed", time.Since(start).String())
}
