// Package config provides configuration management for reencodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxOpenConns          = 25
	defaultMaxIdleConns          = 10
	defaultConnMaxIdleTime       = 30 * time.Minute
	defaultAnalyzerRateLimit     = 500
	defaultAnalyzerInterval      = 5 * time.Second
	defaultMediainfoBatchSize    = 8
	defaultCrfSearchRateLimit    = 1
	defaultCrfSearchInterval     = time.Second
	defaultEncoderRateLimit      = 1
	defaultEncoderInterval       = time.Second
	defaultQueueSize             = 100
	defaultEncodeTimeout         = 30 * 24 * time.Hour
	defaultServiceRequestTimeout = 60 * time.Second
)

// Analyzer batch-size and rate-limit override bounds.
const (
	MinAnalyzerRateLimit = 200
	MaxAnalyzerRateLimit = 1500
	MinMediainfoBatch    = 5
	MaxMediainfoBatch    = 25
)

// Config holds all configuration for the application.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Pipelines PipelinesConfig `mapstructure:"pipelines"`
	Services  ServicesConfig  `mapstructure:"services"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds temp-directory configuration for subprocess output.
type StorageConfig struct {
	// TempDir is the directory ab-av1 writes crf-search artifacts and encode
	// output into. Empty means <system_tmp>/ab-av1.
	TempDir string `mapstructure:"temp_dir"`
}

// TempPath returns the effective temp directory.
func (c *StorageConfig) TempPath() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return filepath.Join(os.TempDir(), "ab-av1")
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RateConfig is a producer rate limit: at most Messages admitted per Interval.
type RateConfig struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

// PipelinesConfig holds per-pipeline tuning.
type PipelinesConfig struct {
	QueueSize int            `mapstructure:"queue_size"`
	Analyzer  AnalyzerConfig `mapstructure:"analyzer"`
	CrfSearch CrfSearchConfig `mapstructure:"crf_search"`
	Encoder   EncoderConfig  `mapstructure:"encoder"`
}

// AnalyzerConfig holds analyzer pipeline configuration.
type AnalyzerConfig struct {
	Rate               RateConfig `mapstructure:"rate"`
	MediainfoBatchSize int        `mapstructure:"mediainfo_batch_size"`
}

// CrfSearchConfig holds CRF-searcher pipeline configuration.
type CrfSearchConfig struct {
	Rate RateConfig `mapstructure:"rate"`
	// PresetFallback is appended to the retry argv when a first crf-search
	// yields no samples (e.g. ["--preset", "6"]).
	PresetFallback []string `mapstructure:"preset_fallback"`
}

// EncoderConfig holds encoder pipeline configuration.
type EncoderConfig struct {
	Rate    RateConfig `mapstructure:"rate"`
	Timeout Duration   `mapstructure:"timeout"`
}

// ServicesConfig holds external media-library service configuration.
type ServicesConfig struct {
	Sonarr         ServiceConfig `mapstructure:"sonarr"`
	Radarr         ServiceConfig `mapstructure:"radarr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ServiceConfig holds one Sonarr/Radarr instance's connection settings.
type ServiceConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// Enabled reports whether this service has been configured.
func (c *ServiceConfig) Enabled() bool {
	return c.URL != ""
}

// SchedulerConfig holds maintenance scheduling configuration.
type SchedulerConfig struct {
	// DeleteMissingCron is a 6-field cron expression for the periodic
	// missing-path sweep. Empty disables the job.
	DeleteMissingCron string `mapstructure:"delete_missing_cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REENCODARR_ and use underscores for
// nesting. Example: REENCODARR_DATABASE_DSN=reencodarr.db.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reencodarr")
		v.AddConfigPath("$HOME/.reencodarr")
	}

	v.SetEnvPrefix("REENCODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	// Duration and ByteSize decode through their UnmarshalText methods.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reencodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.temp_dir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Pipeline defaults
	v.SetDefault("pipelines.queue_size", defaultQueueSize)
	v.SetDefault("pipelines.analyzer.rate.messages", defaultAnalyzerRateLimit)
	v.SetDefault("pipelines.analyzer.rate.interval", defaultAnalyzerInterval)
	v.SetDefault("pipelines.analyzer.mediainfo_batch_size", defaultMediainfoBatchSize)
	v.SetDefault("pipelines.crf_search.rate.messages", defaultCrfSearchRateLimit)
	v.SetDefault("pipelines.crf_search.rate.interval", defaultCrfSearchInterval)
	v.SetDefault("pipelines.crf_search.preset_fallback", []string{})
	v.SetDefault("pipelines.encoder.rate.messages", defaultEncoderRateLimit)
	v.SetDefault("pipelines.encoder.rate.interval", defaultEncoderInterval)
	v.SetDefault("pipelines.encoder.timeout", Duration(defaultEncodeTimeout))

	// Service defaults
	v.SetDefault("services.request_timeout", defaultServiceRequestTimeout)

	// Scheduler defaults
	v.SetDefault("scheduler.delete_missing_cron", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Pipelines.QueueSize < 1 {
		return fmt.Errorf("pipelines.queue_size must be at least 1")
	}
	if c.Pipelines.Analyzer.MediainfoBatchSize < 1 {
		return fmt.Errorf("pipelines.analyzer.mediainfo_batch_size must be at least 1")
	}
	for name, rate := range map[string]RateConfig{
		"analyzer":   c.Pipelines.Analyzer.Rate,
		"crf_search": c.Pipelines.CrfSearch.Rate,
		"encoder":    c.Pipelines.Encoder.Rate,
	} {
		if rate.Messages < 1 {
			return fmt.Errorf("pipelines.%s.rate.messages must be at least 1", name)
		}
		if rate.Interval <= 0 {
			return fmt.Errorf("pipelines.%s.rate.interval must be positive", name)
		}
	}
	if time.Duration(c.Pipelines.Encoder.Timeout) <= 0 {
		return fmt.Errorf("pipelines.encoder.timeout must be positive")
	}

	return nil
}

// ClampAnalyzerOverride clamps a manual analyzer override to the supported
// ranges and returns the effective values.
func ClampAnalyzerOverride(rateLimit, batchSize int) (int, int) {
	if rateLimit < MinAnalyzerRateLimit {
		rateLimit = MinAnalyzerRateLimit
	}
	if rateLimit > MaxAnalyzerRateLimit {
		rateLimit = MaxAnalyzerRateLimit
	}
	if batchSize < MinMediainfoBatch {
		batchSize = MinMediainfoBatch
	}
	if batchSize > MaxMediainfoBatch {
		batchSize = MaxMediainfoBatch
	}
	return rateLimit, batchSize
}
