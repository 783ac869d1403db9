package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/site-scorer/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Query   QueryConfig   `yaml:"query" mapstructure:"query"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Intake  IntakeConfig  `yaml:"intake" mapstructure:"intake"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`

	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the object store shards are mirrored from.
// Driver "s3" talks to an S3 compatible endpoint; "ftp" mirrors from an FTP
// server whose Endpoint is ftp://host[:port]/root, logging in with the
// access and secret keys; "dir" reads a local directory laid out like the
// bucket.
type StoreConfig struct {
	Driver            string  `yaml:"driver" mapstructure:"driver"`
	Endpoint          string  `yaml:"endpoint" mapstructure:"endpoint"`
	Region            string  `yaml:"region" mapstructure:"region"`
	Bucket            string  `yaml:"bucket" mapstructure:"bucket"`
	Prefix            string  `yaml:"prefix" mapstructure:"prefix"`
	AccessKey         string  `yaml:"access_key" mapstructure:"access_key"`
	SecretKey         string  `yaml:"secret_key" mapstructure:"secret_key"`
	PathStyle         bool    `yaml:"path_style" mapstructure:"path_style"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	Dir               string  `yaml:"dir" mapstructure:"dir"`
}

// CacheConfig configures the local shard cache.
type CacheConfig struct {
	Dir                  string `yaml:"dir" mapstructure:"dir"`
	Weeks                int    `yaml:"weeks" mapstructure:"weeks"`
	DownloadConcurrency  int    `yaml:"download_concurrency" mapstructure:"download_concurrency"`
	RefreshIntervalHours int    `yaml:"refresh_interval_hours" mapstructure:"refresh_interval_hours"`
}

// QueryConfig configures proximity queries.
type QueryConfig struct {
	Radii           []model.Radius `yaml:"radii" mapstructure:"radii"`
	Workers         int            `yaml:"workers" mapstructure:"workers"`
	TaskTimeoutSecs int            `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
}

// ScoringConfig holds the per-band score weights, smallest radius first.
type ScoringConfig struct {
	BaseWeights          []float64 `yaml:"base_weights" mapstructure:"base_weights"`
	AttributeBandWeights []float64 `yaml:"attribute_band_weights" mapstructure:"attribute_band_weights"`
	AttributeWeight      float64   `yaml:"attribute_weight" mapstructure:"attribute_weight"`
}

// IntakeConfig names the input sheet columns. Matching is case-insensitive.
type IntakeConfig struct {
	GroupColumn     string `yaml:"group_column" mapstructure:"group_column"`
	LatitudeColumn  string `yaml:"latitude_column" mapstructure:"latitude_column"`
	LongitudeColumn string `yaml:"longitude_column" mapstructure:"longitude_column"`
	AttributeColumn string `yaml:"attribute_column" mapstructure:"attribute_column"`
	SourceColumn    string `yaml:"source_column" mapstructure:"source_column"`
	MaxUploadMB     int    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RetryConfig configures retries and the circuit breaker around the object
// store.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// MonitoringConfig configures the run-history health checks.
type MonitoringConfig struct {
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SITESCORER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "s3")
	v.SetDefault("store.region", "us-east-1")
	v.SetDefault("store.prefix", "trees")
	v.SetDefault("store.requests_per_second", 20)
	v.SetDefault("store.burst", 10)
	v.SetDefault("store.path_style", false)
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.access_key", "")
	v.SetDefault("store.secret_key", "")
	v.SetDefault("store.dir", "")

	v.SetDefault("cache.dir", "trees")
	v.SetDefault("cache.weeks", 4)
	v.SetDefault("cache.download_concurrency", 4)
	v.SetDefault("cache.refresh_interval_hours", 24)

	radii := make([]map[string]any, 0, 4)
	for _, r := range model.DefaultRadiusTier() {
		radii = append(radii, map[string]any{"meters": r.Meters, "label": r.Label})
	}
	v.SetDefault("query.radii", radii)
	v.SetDefault("query.workers", 0)
	v.SetDefault("query.task_timeout_secs", 120)

	v.SetDefault("scoring.base_weights", []float64{0.4, 0.3, 0.2, 0.1})
	v.SetDefault("scoring.attribute_band_weights", []float64{0.25, 0.2, 0.15, 0.1})
	v.SetDefault("scoring.attribute_weight", 0.3)

	v.SetDefault("intake.group_column", "city")
	v.SetDefault("intake.latitude_column", "latitude")
	v.SetDefault("intake.longitude_column", "longitude")
	v.SetDefault("intake.attribute_column", "num_chargers")
	v.SetDefault("intake.source_column", "provider")
	v.SetDefault("intake.max_upload_mb", 32)

	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.database_url", "site-scorer.db")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 15)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.breaker_threshold", 5)
	v.SetDefault("retry.breaker_reset_secs", 30)

	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_after_hours", 192)
}

// Validate checks the settings the given command mode depends on. Modes are
// "serve", "score", "refresh", "build" and "runs". Score weights are checked
// by the scorer against the radius count.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "score", "refresh":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateCache()...)
		errs = append(errs, c.validateHistory()...)
		if mode != "refresh" {
			if err := c.Radii().Validate(); err != nil {
				errs = append(errs, "query.radii: "+err.Error())
			}
			if c.Query.Workers < 0 {
				errs = append(errs, "query.workers must be >= 0")
			}
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "build":
		errs = append(errs, c.validateStore()...)
	case "runs":
		errs = append(errs, c.validateHistory()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format must be json or console, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "s3":
		if c.Store.Bucket == "" {
			return []string{"store.bucket is required for the s3 driver"}
		}
	case "ftp":
		if !strings.HasPrefix(c.Store.Endpoint, "ftp://") {
			return []string{"store.endpoint must be an ftp:// url for the ftp driver"}
		}
	case "dir":
		if c.Store.Dir == "" {
			return []string{"store.dir is required for the dir driver"}
		}
	default:
		return []string{fmt.Sprintf("store.driver must be s3, ftp or dir, got %q", c.Store.Driver)}
	}
	return nil
}

func (c *Config) validateCache() []string {
	var errs []string
	if c.Cache.Dir == "" {
		errs = append(errs, "cache.dir is required")
	}
	if c.Cache.Weeks < 1 {
		errs = append(errs, "cache.weeks must be >= 1")
	}
	if c.Cache.DownloadConcurrency < 1 || c.Cache.DownloadConcurrency > 64 {
		errs = append(errs, "cache.download_concurrency must be between 1 and 64")
	}
	return errs
}

func (c *Config) validateHistory() []string {
	switch c.History.Driver {
	case "none", "sqlite":
	case "postgres":
		if c.History.DatabaseURL == "" {
			return []string{"history.database_url is required for postgres"}
		}
	default:
		return []string{fmt.Sprintf("history.driver must be sqlite, postgres or none, got %q", c.History.Driver)}
	}
	return nil
}

// Radii returns the configured radius tier.
func (c *Config) Radii() model.RadiusTier {
	return model.RadiusTier(c.Query.Radii)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
