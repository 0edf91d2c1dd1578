// Package config reads the LABELDROP_* environment variables into typed values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/LabelDrop/internal/model"
)

// Config is the runtime configuration shared by the server, worker and CLI.
// Empty DatabaseURL, RedisAddr or S3Endpoint select the in-process fallbacks.
type Config struct {
	Address       string
	MaxFileSize   int64
	Workers       int
	SigningSecret []byte
	SignedURLTTL  time.Duration

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Region        string
	S3UseSSL        bool
	RawBucket       string
	ProcessedBucket string

	DPI            int
	MinMatrixMM    float64
	BatchMode      model.BatchMode
	Numbering      model.Numbering
	CacheBackend   string
	CacheTTL       time.Duration
	LedgerBackend  string
	CounterBackend string
	ReservationTTL time.Duration
	TemplatesFile  string
	DefaultLayout  string
	DefaultSize    string
	DailyQuota     int
	MonthlyQuota   int

	LogMode string
	Tracing string
}

const (
	defaultAddress     = ":8080"
	defaultMaxFileSize = 25 << 20 // 25 MiB
	defaultSignedTTL   = 5 * time.Minute
	defaultWorkerCount = 4
	defaultDPI         = 203
	defaultMinMatrixMM = 22.0
	defaultCacheTTL    = 24 * time.Hour
	defaultReservation = 15 * time.Minute
)

// Load reads configuration from environment variables falling back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Address:       readEnv("LABELDROP_ADDRESS", defaultAddress),
		MaxFileSize:   parseInt64("LABELDROP_MAX_FILE_BYTES", defaultMaxFileSize),
		Workers:       parseInt("LABELDROP_WORKERS", defaultWorkerCount),
		SigningSecret: parseSecret("LABELDROP_SIGNING_SECRET"),
		SignedURLTTL:  parseDuration("LABELDROP_SIGNED_TTL", defaultSignedTTL),

		DatabaseURL:   readEnv("LABELDROP_DATABASE_URL", ""),
		RedisAddr:     readEnv("LABELDROP_REDIS_ADDR", ""),
		RedisPassword: readEnv("LABELDROP_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("LABELDROP_REDIS_DB", 0),

		S3Endpoint:      readEnv("LABELDROP_S3_ENDPOINT", ""),
		S3AccessKey:     readEnv("LABELDROP_S3_ACCESS_KEY", ""),
		S3SecretKey:     readEnv("LABELDROP_S3_SECRET_KEY", ""),
		S3Region:        readEnv("LABELDROP_S3_REGION", "us-east-1"),
		S3UseSSL:        parseBool("LABELDROP_S3_USE_SSL", false),
		RawBucket:       readEnv("LABELDROP_RAW_BUCKET", "labeldrop-inputs"),
		ProcessedBucket: readEnv("LABELDROP_PROCESSED_BUCKET", "labeldrop-labels"),

		DPI:            parseInt("LABELDROP_DPI", defaultDPI),
		MinMatrixMM:    parseFloat("LABELDROP_MIN_MATRIX_MM", defaultMinMatrixMM),
		BatchMode:      model.BatchMode(strings.ToLower(readEnv("LABELDROP_BATCH_MODE", string(model.ModeStrict)))),
		Numbering:      model.Numbering(strings.ToLower(readEnv("LABELDROP_NUMBERING", string(model.NumberingNone)))),
		CacheBackend:   strings.ToLower(readEnv("LABELDROP_CACHE_BACKEND", "memory")),
		CacheTTL:       parseDuration("LABELDROP_CACHE_TTL", defaultCacheTTL),
		LedgerBackend:  strings.ToLower(readEnv("LABELDROP_LEDGER_BACKEND", "")),
		CounterBackend: strings.ToLower(readEnv("LABELDROP_COUNTER_BACKEND", "")),
		ReservationTTL: parseDuration("LABELDROP_RESERVATION_TTL", defaultReservation),
		TemplatesFile:  readEnv("LABELDROP_TEMPLATES_FILE", ""),
		DefaultLayout:  readEnv("LABELDROP_DEFAULT_LAYOUT", "basic"),
		DefaultSize:    readEnv("LABELDROP_DEFAULT_SIZE", "58x40"),
		DailyQuota:     parseInt("LABELDROP_DAILY_QUOTA", 0),
		MonthlyQuota:   parseInt("LABELDROP_MONTHLY_QUOTA", 0),

		LogMode: readEnv("LABELDROP_LOG_MODE", "production"),
		Tracing: strings.ToLower(readEnv("LABELDROP_TRACING", "off")),
	}
	// With a database the ledger and counter default to it, so every process
	// sees the same used codes and serials.
	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = storeDefault(cfg.DatabaseURL)
	}
	if cfg.CounterBackend == "" {
		cfg.CounterBackend = storeDefault(cfg.DatabaseURL)
	}
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if cfg.DPI <= 0 {
		cfg.DPI = defaultDPI
	}
	if cfg.MinMatrixMM <= 0 {
		cfg.MinMatrixMM = defaultMinMatrixMM
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and backends whose store is not configured.
func (c *Config) Validate() error {
	switch c.BatchMode {
	case model.ModeStrict, model.ModePartial:
	default:
		return fmt.Errorf("config: LABELDROP_BATCH_MODE %q is not strict or partial", c.BatchMode)
	}
	switch c.Numbering {
	case model.NumberingNone, model.NumberingLocal, model.NumberingGlobal:
	default:
		return fmt.Errorf("config: LABELDROP_NUMBERING %q is not none, local or global", c.Numbering)
	}
	if err := backend("LABELDROP_CACHE_BACKEND", c.CacheBackend, map[string]bool{"memory": true, "redis": c.RedisAddr != ""}); err != nil {
		return err
	}
	if err := backend("LABELDROP_LEDGER_BACKEND", c.LedgerBackend, map[string]bool{"memory": true, "postgres": c.DatabaseURL != ""}); err != nil {
		return err
	}
	return backend("LABELDROP_COUNTER_BACKEND", c.CounterBackend, map[string]bool{
		"memory":   true,
		"postgres": c.DatabaseURL != "",
		"redis":    c.RedisAddr != "",
	})
}

// RequireShared rejects process-local stores. Queued generations run in
// several processes that must share the code ledger and serial counter.
func (c *Config) RequireShared() error {
	switch {
	case c.RedisAddr == "":
		return fmt.Errorf("config: queued generations need LABELDROP_REDIS_ADDR")
	case c.DatabaseURL == "":
		return fmt.Errorf("config: queued generations need LABELDROP_DATABASE_URL")
	case c.S3Endpoint == "":
		return fmt.Errorf("config: queued generations need LABELDROP_S3_ENDPOINT")
	case c.LedgerBackend != "postgres":
		return fmt.Errorf("config: queued generations need LABELDROP_LEDGER_BACKEND=postgres, got %q", c.LedgerBackend)
	case c.CounterBackend == "memory":
		return fmt.Errorf("config: queued generations need a shared LABELDROP_COUNTER_BACKEND, got %q", c.CounterBackend)
	}
	return nil
}

func storeDefault(databaseURL string) string {
	if databaseURL != "" {
		return "postgres"
	}
	return "memory"
}

func backend(key, value string, allowed map[string]bool) error {
	ok, known := allowed[value]
	if !known {
		return fmt.Errorf("config: %s %q is not a known backend", key, value)
	}
	if !ok {
		return fmt.Errorf("config: %s %q needs its store address", key, value)
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
