package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Burnout   BurnoutConfig   `yaml:"burnout"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Export    ExportConfig    `yaml:"export"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds redis settings for the global elasticity cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AnalyticsConfig holds feature-engine and anomaly-detector tuning.
type AnalyticsConfig struct {
	BaselineWeeks     int     `yaml:"baseline_weeks"`
	HistoryWeeks      int     `yaml:"history_weeks"`
	SlopeWeeks        int     `yaml:"slope_weeks"`
	MinWeeksWithData  int     `yaml:"min_weeks_with_data"`
	CPRSpikeThreshold float64 `yaml:"cpr_spike_threshold"` // ratio, 1.20 = +20%
	PageSize          int     `yaml:"page_size"`
	WriteBatchSize    int     `yaml:"write_batch_size"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryBackoffSecs  int     `yaml:"retry_backoff_seconds"`

	// Per-family minimum weekly result counts for min_results_met.
	MinResults map[string]float64 `yaml:"min_results"`
	// Raw action type → result family overrides, merged over the defaults.
	FamilyOverrides map[string]string `yaml:"family_overrides"`
}

// BurnoutConfig holds the lead-lag analyzer tuning.
type BurnoutConfig struct {
	MinDatasetSize  int     `yaml:"min_dataset_size"`
	MinAdHistory    int     `yaml:"min_ad_history"`
	SpikeThreshold  float64 `yaml:"spike_threshold"`   // ratio, 1.20 = +20%
	InsightMinDelta float64 `yaml:"insight_min_delta"` // spike-rate gap between extreme quantiles
}

// ForecastConfig holds the budget forecaster tuning.
type ForecastConfig struct {
	SpendGrowthMin    float64 `yaml:"spend_growth_min"` // ratio, 1.15
	MinAdEvents       int     `yaml:"min_ad_events"`
	MinAccountEvents  int     `yaml:"min_account_events"`
	MinGlobalEvents   int     `yaml:"min_global_events"`
	FallbackK         float64 `yaml:"fallback_k"`
	GlobalCacheTTL    int     `yaml:"global_cache_ttl_minutes"`
	MinWeeklySpend    float64 `yaml:"min_weekly_spend"`
	MinWeeklyResults  float64 `yaml:"min_weekly_results"`
	MinSpendWeeks     int     `yaml:"min_spend_weeks"`
	ScalingDeltas     []float64 `yaml:"scaling_deltas"` // percent, default 20/50/100
}

// ExportConfig holds S3 snapshot export settings.
type ExportConfig struct {
	Enabled    bool   `yaml:"enabled"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSProfile string `yaml:"aws_profile"`
}

// RetryBackoff returns the configured retry backoff as a duration.
func (a AnalyticsConfig) RetryBackoff() time.Duration {
	return time.Duration(a.RetryBackoffSecs) * time.Second
}

// CacheTTL returns the global elasticity cache TTL as a duration.
func (f ForecastConfig) CacheTTL() time.Duration {
	return time.Duration(f.GlobalCacheTTL) * time.Minute
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			// No config file is fine: defaults plus env overrides.
			data = nil
		} else if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
		cfg.Export.Enabled = true
	}
	if v := os.Getenv("EXPORT_S3_REGION"); v != "" {
		cfg.Export.S3Region = v
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Analytics.BaselineWeeks == 0 {
		cfg.Analytics.BaselineWeeks = 8
	}
	if cfg.Analytics.HistoryWeeks == 0 {
		cfg.Analytics.HistoryWeeks = 12
	}
	if cfg.Analytics.SlopeWeeks == 0 {
		cfg.Analytics.SlopeWeeks = 4
	}
	if cfg.Analytics.MinWeeksWithData == 0 {
		cfg.Analytics.MinWeeksWithData = 4
	}
	if cfg.Analytics.CPRSpikeThreshold == 0 {
		cfg.Analytics.CPRSpikeThreshold = 1.20
	}
	if cfg.Analytics.PageSize == 0 {
		cfg.Analytics.PageSize = 1000
	}
	if cfg.Analytics.WriteBatchSize == 0 {
		cfg.Analytics.WriteBatchSize = 500
	}
	if cfg.Analytics.RetryAttempts == 0 {
		cfg.Analytics.RetryAttempts = 3
	}
	if cfg.Analytics.RetryBackoffSecs == 0 {
		cfg.Analytics.RetryBackoffSecs = 2
	}
	if cfg.Burnout.MinDatasetSize == 0 {
		cfg.Burnout.MinDatasetSize = 50
	}
	if cfg.Burnout.MinAdHistory == 0 {
		cfg.Burnout.MinAdHistory = 4
	}
	if cfg.Burnout.SpikeThreshold == 0 {
		cfg.Burnout.SpikeThreshold = 1.20
	}
	if cfg.Burnout.InsightMinDelta == 0 {
		cfg.Burnout.InsightMinDelta = 0.10
	}
	if cfg.Forecast.SpendGrowthMin == 0 {
		cfg.Forecast.SpendGrowthMin = 1.15
	}
	if cfg.Forecast.MinAdEvents == 0 {
		cfg.Forecast.MinAdEvents = 3
	}
	if cfg.Forecast.MinAccountEvents == 0 {
		cfg.Forecast.MinAccountEvents = 10
	}
	if cfg.Forecast.MinGlobalEvents == 0 {
		cfg.Forecast.MinGlobalEvents = 30
	}
	if cfg.Forecast.FallbackK == 0 {
		cfg.Forecast.FallbackK = 0.15
	}
	if cfg.Forecast.GlobalCacheTTL == 0 {
		cfg.Forecast.GlobalCacheTTL = 60
	}
	if cfg.Forecast.MinWeeklySpend == 0 {
		cfg.Forecast.MinWeeklySpend = 10
	}
	if cfg.Forecast.MinWeeklyResults == 0 {
		cfg.Forecast.MinWeeklyResults = 3
	}
	if cfg.Forecast.MinSpendWeeks == 0 {
		cfg.Forecast.MinSpendWeeks = 2
	}
	if len(cfg.Forecast.ScalingDeltas) == 0 {
		cfg.Forecast.ScalingDeltas = []float64{20, 50, 100}
	}
	if cfg.Export.S3Prefix == "" {
		cfg.Export.S3Prefix = "pulseboard"
	}
}
