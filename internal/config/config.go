package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	LedgerCRDB  = "crdb"
	LedgerRedis = "redis"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	ServiceName  string
	LogLevel     string

	HoldDuration     time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepConcurrency int
	LedgerBackend    string
	ReconcileOnStart bool

	IdempotencyTTL     time.Duration
	RateLimitPerMinute int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:      getString("HTTP_ADDR", ":8080"),
		CRDBDSN:       os.Getenv("CRDB_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDB:       getString("MONGO_DB", "fleet"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:   getString("SERVICE_NAME", "fleet-rental-holds"),
		LogLevel:      getString("LOG_LEVEL", "info"),
		LedgerBackend: getString("LEDGER_BACKEND", LedgerCRDB),
	}

	var err error
	if cfg.HoldDuration, err = getDuration("HOLD_DURATION", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.OutboxPollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = getInt("SWEEP_BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency, err = getInt("SWEEP_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getInt("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.OutboxBatchSize, err = getInt("OUTBOX_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.ReconcileOnStart, err = getBool("RECONCILE_ON_START", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that have no safe fallback.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"HOLD_DURATION":        c.HoldDuration,
		"SWEEP_INTERVAL":       c.SweepInterval,
		"IDEMPOTENCY_TTL":      c.IdempotencyTTL,
		"OUTBOX_POLL_INTERVAL": c.OutboxPollInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return errors.Newf("%s must be positive, got %s", name, d)
		}
	}
	sizes := map[string]int{
		"SWEEP_BATCH_SIZE":      c.SweepBatchSize,
		"SWEEP_CONCURRENCY":     c.SweepConcurrency,
		"RATE_LIMIT_PER_MINUTE": c.RateLimitPerMinute,
		"OUTBOX_BATCH_SIZE":     c.OutboxBatchSize,
	}
	for name, n := range sizes {
		if n <= 0 {
			return errors.Newf("%s must be positive, got %d", name, n)
		}
	}
	if c.LedgerBackend != LedgerCRDB && c.LedgerBackend != LedgerRedis {
		return errors.Newf("LEDGER_BACKEND must be %q or %q, got %q", LedgerCRDB, LedgerRedis, c.LedgerBackend)
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "parse %s", key)
	}
	return b, nil
}
