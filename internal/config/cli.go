package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath  *string
	EnvPath     *string
	Port        *string
	LogLevel    *string
	DSN         *string
	NatsURL     *string
	Concurrency *int
	ResultsDir  *string
}

// ParseFlags parses server flags from args (without the program name).
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("banister-workers", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, envPath, port, logLevel, dsn, natsURL, resultsDir string
		concurrency                                                   int
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&envPath, "env-file", "", "path to dotenv file")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.IntVar(&concurrency, "concurrency", 0, "parallel task runtimes")
	fs.StringVar(&resultsDir, "results-dir", "", "artifact directory")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &configPath
		case "env-file":
			out.EnvPath = &envPath
		case "port", "p":
			out.Port = &port
		case "log-level":
			out.LogLevel = &logLevel
		case "dsn":
			out.DSN = &dsn
		case "nats-url":
			out.NatsURL = &natsURL
		case "concurrency":
			out.Concurrency = &concurrency
		case "results-dir":
			out.ResultsDir = &resultsDir
		}
	})
	return out, nil
}

// LoadWithCLI loads configuration with flags on top of every other layer and
// returns the YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}
	envPath := DefaultEnvFile
	if flags.EnvPath != nil {
		envPath = *flags.EnvPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	if err := loadDotenv(envPath); err != nil {
		return nil, "", fmt.Errorf("config dotenv: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, yamlPath, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
	if f.Concurrency != nil {
		cfg.Workers.Concurrency = *f.Concurrency
	}
	if f.ResultsDir != nil {
		cfg.Workers.ResultsDir = *f.ResultsDir
	}
}
