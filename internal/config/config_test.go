package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, 203, cfg.DPI)
	assert.Equal(t, 22.0, cfg.MinMatrixMM)
	assert.Equal(t, model.ModeStrict, cfg.BatchMode)
	assert.Equal(t, model.NumberingNone, cfg.Numbering)
	assert.Equal(t, "memory", cfg.LedgerBackend)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Len(t, cfg.SigningSecret, 32)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LABELDROP_DPI", "300")
	t.Setenv("LABELDROP_MIN_MATRIX_MM", "24.5")
	t.Setenv("LABELDROP_BATCH_MODE", "Partial")
	t.Setenv("LABELDROP_NUMBERING", "global")
	t.Setenv("LABELDROP_DATABASE_URL", "postgres://localhost/labeldrop")
	t.Setenv("LABELDROP_LEDGER_BACKEND", "postgres")
	t.Setenv("LABELDROP_COUNTER_BACKEND", "postgres")
	t.Setenv("LABELDROP_S3_USE_SSL", "true")
	t.Setenv("LABELDROP_SIGNING_SECRET", "s3cret")
	t.Setenv("LABELDROP_WORKERS", "-2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.DPI)
	assert.Equal(t, 24.5, cfg.MinMatrixMM)
	assert.Equal(t, model.ModePartial, cfg.BatchMode)
	assert.Equal(t, model.NumberingGlobal, cfg.Numbering)
	assert.Equal(t, "postgres", cfg.LedgerBackend)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, []byte("s3cret"), cfg.SigningSecret)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"batch mode", map[string]string{"LABELDROP_BATCH_MODE": "lenient"}},
		{"numbering", map[string]string{"LABELDROP_NUMBERING": "roman"}},
		{"unknown cache", map[string]string{"LABELDROP_CACHE_BACKEND": "memcached"}},
		{"redis cache without addr", map[string]string{"LABELDROP_CACHE_BACKEND": "redis"}},
		{"postgres ledger without dsn", map[string]string{"LABELDROP_LEDGER_BACKEND": "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_DatabaseSharesLedger(t *testing.T) {
	t.Setenv("LABELDROP_DATABASE_URL", "postgres://localhost/labeldrop")
	t.Setenv("LABELDROP_REDIS_ADDR", "localhost:6379")
	t.Setenv("LABELDROP_S3_ENDPOINT", "localhost:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.LedgerBackend)
	assert.Equal(t, "postgres", cfg.CounterBackend)
	assert.NoError(t, cfg.RequireShared())
}

func TestRequireShared(t *testing.T) {
	shared := Config{
		RedisAddr:      "localhost:6379",
		DatabaseURL:    "postgres://localhost/labeldrop",
		S3Endpoint:     "localhost:9000",
		LedgerBackend:  "postgres",
		CounterBackend: "redis",
	}
	require.NoError(t, shared.RequireShared())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no redis", func(c *Config) { c.RedisAddr = "" }, "LABELDROP_REDIS_ADDR"},
		{"no database", func(c *Config) { c.DatabaseURL = "" }, "LABELDROP_DATABASE_URL"},
		{"no object store", func(c *Config) { c.S3Endpoint = "" }, "LABELDROP_S3_ENDPOINT"},
		{"memory ledger", func(c *Config) { c.LedgerBackend = "memory" }, "LABELDROP_LEDGER_BACKEND"},
		{"memory counter", func(c *Config) { c.CounterBackend = "memory" }, "LABELDROP_COUNTER_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := shared
			tt.mutate(&cfg)
			err := cfg.RequireShared()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
