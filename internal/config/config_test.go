package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "reencodarr.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 500, cfg.Pipelines.Analyzer.Rate.Messages)
	assert.Equal(t, 8, cfg.Pipelines.Analyzer.MediainfoBatchSize)
	assert.Equal(t, 30*24*time.Hour, cfg.Pipelines.Encoder.Timeout.Duration())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  driver: sqlite
  dsn: /data/reencodarr.db
logging:
  level: debug
  format: text
storage:
  temp_dir: /scratch/ab-av1
pipelines:
  encoder:
    timeout: 7d
  crf_search:
    preset_fallback: ["--preset", "6"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/reencodarr.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/scratch/ab-av1", cfg.Storage.TempDir)
	assert.Equal(t, "/scratch/ab-av1", cfg.Storage.TempPath())
	assert.Equal(t, 7*24*time.Hour, cfg.Pipelines.Encoder.Timeout.Duration())
	assert.Equal(t, []string{"--preset", "6"}, cfg.Pipelines.CrfSearch.PresetFallback)
}

func TestTempPath_Default(t *testing.T) {
	cfg := StorageConfig{}
	assert.Equal(t, filepath.Join(os.TempDir(), "ab-av1"), cfg.TempPath())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("bad driver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty dsn", func(t *testing.T) {
		cfg := base()
		cfg.Database.DSN = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := base()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero rate", func(t *testing.T) {
		cfg := base()
		cfg.Pipelines.Encoder.Rate.Messages = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero timeout", func(t *testing.T) {
		cfg := base()
		cfg.Pipelines.Encoder.Timeout = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestClampAnalyzerOverride(t *testing.T) {
	rate, batch := ClampAnalyzerOverride(100, 1)
	assert.Equal(t, MinAnalyzerRateLimit, rate)
	assert.Equal(t, MinMediainfoBatch, batch)

	rate, batch = ClampAnalyzerOverride(9999, 100)
	assert.Equal(t, MaxAnalyzerRateLimit, rate)
	assert.Equal(t, MaxMediainfoBatch, batch)

	rate, batch = ClampAnalyzerOverride(800, 10)
	assert.Equal(t, 800, rate)
	assert.Equal(t, 10, batch)
}

func TestDuration_Unmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("30d")))
	assert.Equal(t, 30*24*time.Hour, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("1w2d12h")))
	assert.Equal(t, 9*24*time.Hour+12*time.Hour, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestByteSize_Unmarshal(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("60 GB")))
	assert.Equal(t, int64(60)<<30, b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`"5MB"`)))
	assert.Equal(t, int64(5)<<20, b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`1024`)))
	assert.Equal(t, int64(1024), b.Bytes())
}
