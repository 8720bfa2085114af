package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "banister.yaml"

// DefaultEnvFile is the optional dotenv file merged below the process environment.
const DefaultEnvFile = ".env"

// CronParser parses the 5-field schedules used by the sweep and retention jobs.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Both files are optional; missing files are not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile, DefaultEnvFile)
}

// LoadFrom returns a Config loaded from the given YAML and dotenv paths.
// An empty envPath skips the dotenv layer.
func LoadFrom(yamlPath, envPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotenv(envPath); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotenv exports the variables of a dotenv file into the process
// environment. Variables that are already set keep their value.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "BANISTER_PORT")
	setString(&cfg.Server.CORSOrigin, "BANISTER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "BANISTER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "BANISTER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "BANISTER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "BANISTER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "BANISTER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "BANISTER_NATS_STREAM")
	setString(&cfg.Logging.Level, "BANISTER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "BANISTER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "BANISTER_LOG_ASYNC")

	// Workers
	setInt(&cfg.Workers.Concurrency, "BANISTER_WORKERS_CONCURRENCY")
	setString(&cfg.Workers.ResultsDir, "BANISTER_RESULTS_DIR")
	setDuration(&cfg.Workers.PollInterval, "BANISTER_WORKERS_POLL_INTERVAL")
	setDuration(&cfg.Workers.StaleAfter, "BANISTER_WORKERS_STALE_AFTER")
	setString(&cfg.Workers.SweepSchedule, "BANISTER_WORKERS_SWEEP_SCHEDULE")
	setInt(&cfg.Workers.MaxConsecutiveFailures, "BANISTER_WORKERS_MAX_BATCH_FAILURES")

	// Retention
	setString(&cfg.Retention.Schedule, "BANISTER_RETENTION_SCHEDULE")
	setDuration(&cfg.Retention.MaxAge, "BANISTER_RETENTION_MAX_AGE")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "BANISTER_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "BANISTER_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "BANISTER_CACHE_L2_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "BANISTER_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "BANISTER_IDEMPOTENCY_TTL")

	setFloat64(&cfg.Rate.RequestsPerSecond, "BANISTER_RATE_RPS")
	setInt(&cfg.Rate.Burst, "BANISTER_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "BANISTER_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "BANISTER_RATE_MAX_IDLE_TIME")
	setInt(&cfg.Breaker.MaxFailures, "BANISTER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BANISTER_BREAKER_TIMEOUT")

	// Telemetry
	setBool(&cfg.OTEL.Enabled, "BANISTER_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "BANISTER_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "BANISTER_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "BANISTER_MCP_ENABLED")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Workers.Concurrency < 1 {
		return errors.New("workers.concurrency must be >= 1")
	}
	if cfg.Workers.ResultsDir == "" {
		return errors.New("workers.results_dir is required")
	}
	if cfg.Workers.MaxConsecutiveFailures < 1 {
		return errors.New("workers.max_consecutive_failures must be >= 1")
	}
	if cfg.Workers.StaleAfter <= 0 {
		return errors.New("workers.stale_after must be positive")
	}
	if _, err := CronParser.Parse(cfg.Workers.SweepSchedule); err != nil {
		return fmt.Errorf("workers.sweep_schedule: %w", err)
	}
	if cfg.Retention.Schedule != "" {
		if _, err := CronParser.Parse(cfg.Retention.Schedule); err != nil {
			return fmt.Errorf("retention.schedule: %w", err)
		}
		if cfg.Retention.MaxAge <= 0 {
			return errors.New("retention.max_age must be positive when pruning is scheduled")
		}
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
