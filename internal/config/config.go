package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/dspacecfg"
	"github.com/SteelMorgan/dspace-editlog/internal/retry"
)

const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Config holds all configuration for the parser.
// Sources in increasing precedence: defaults, YAML file, environment, command-line flags.
type Config struct {
	// Input
	LogGlob    string `yaml:"log_glob"`
	ParserName string `yaml:"parser_name"`
	Timezone   string `yaml:"timezone"` // Zone of the log timestamps, "Local" by default

	// State store
	Store            string `yaml:"store"` // "bolt" or "postgres"
	StatePath        string `yaml:"state_path"`
	DatabaseURL      string `yaml:"database_url"`
	DatabaseUser     string `yaml:"database_user"`
	DatabasePassword string `yaml:"database_password"`
	DSpaceConfigPath string `yaml:"dspace_config_path"`

	// Technical mode: scan and report, write nothing
	DryRun bool `yaml:"dry_run"`

	// ClickHouse mirror of recorded events
	ClickHouseMirror bool   `yaml:"clickhouse_mirror"`
	ClickHouseHost   string `yaml:"clickhouse_host"`
	ClickHousePort   int    `yaml:"clickhouse_port"`
	ClickHouseDB     string `yaml:"clickhouse_db"`

	// Observability
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPProtocol   string `yaml:"otlp_protocol"`
	PushgatewayURL string `yaml:"pushgateway_url"`

	// Retry
	RetryMaxAttempts    int     `yaml:"retry_max_attempts"`
	RetryInitialDelayMs int     `yaml:"retry_initial_delay_ms"`
	RetryMaxDelayMs     int     `yaml:"retry_max_delay_ms"`
	RetryMultiplier     float64 `yaml:"retry_multiplier"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogGlob:    "/dspace/log/*.log",
		ParserName: "dspace_item_edits",
		Timezone:   "Local",

		Store:            StoreBolt,
		StatePath:        "/var/lib/dspace-editlog/state.db",
		DSpaceConfigPath: dspacecfg.DefaultPath,

		ClickHouseHost: "localhost",
		ClickHousePort: 9000,
		ClickHouseDB:   "logs",

		LogLevel:     "info",
		OTLPProtocol: "grpc",

		RetryMaxAttempts:    3,
		RetryInitialDelayMs: 100,
		RetryMaxDelayMs:     5000,
		RetryMultiplier:     2.0,
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, then validates it
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogGlob = getEnv("DSPACE_EDIT_LOG_GLOB", c.LogGlob)
	c.ParserName = getEnv("EDITLOG_PARSER_NAME", c.ParserName)
	c.Timezone = getEnv("EDITLOG_TIMEZONE", c.Timezone)

	c.Store = strings.ToLower(getEnv("EDITLOG_STORE", c.Store))
	c.StatePath = getEnv("EDITLOG_STATE_PATH", c.StatePath)
	c.DatabaseURL = getEnv("EDITLOG_DATABASE_URL", c.DatabaseURL)
	c.DatabaseUser = getEnv("EDITLOG_DATABASE_USER", c.DatabaseUser)
	c.DatabasePassword = getEnv("EDITLOG_DATABASE_PASSWORD", c.DatabasePassword)
	c.DSpaceConfigPath = getEnv("DSPACE_CONFIG_PATH", c.DSpaceConfigPath)

	c.DryRun = getEnvBool("EDITLOG_DRY_RUN", c.DryRun)

	c.ClickHouseMirror = getEnvBool("CLICKHOUSE_MIRROR", c.ClickHouseMirror)
	c.ClickHouseHost = getEnv("CLICKHOUSE_HOST", c.ClickHouseHost)
	c.ClickHousePort = getEnvInt("CLICKHOUSE_PORT", c.ClickHousePort)
	c.ClickHouseDB = getEnv("CLICKHOUSE_DB", c.ClickHouseDB)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPProtocol = getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", c.OTLPProtocol)
	c.PushgatewayURL = getEnv("PUSHGATEWAY_URL", c.PushgatewayURL)

	c.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	c.RetryInitialDelayMs = getEnvInt("RETRY_INITIAL_DELAY_MS", c.RetryInitialDelayMs)
	c.RetryMaxDelayMs = getEnvInt("RETRY_MAX_DELAY_MS", c.RetryMaxDelayMs)
	c.RetryMultiplier = getEnvFloat("RETRY_MULTIPLIER", c.RetryMultiplier)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.LogGlob) == "" {
		errs = append(errs, errors.New("DSPACE_EDIT_LOG_GLOB is required"))
	}
	if strings.TrimSpace(c.ParserName) == "" {
		errs = append(errs, errors.New("EDITLOG_PARSER_NAME is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.Store {
	case StoreBolt:
		if c.StatePath == "" {
			errs = append(errs, errors.New("EDITLOG_STATE_PATH is required for the bolt store"))
		}
	case StorePostgres:
		// URL may still come from the DSpace config at open time
	default:
		errs = append(errs, fmt.Errorf("EDITLOG_STORE must be %q or %q, got %q", StoreBolt, StorePostgres, c.Store))
	}

	if c.ClickHouseMirror {
		if c.ClickHouseHost == "" {
			errs = append(errs, errors.New("CLICKHOUSE_HOST is required when the mirror is enabled"))
		}
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			errs = append(errs, errors.New("CLICKHOUSE_PORT must be between 1 and 65535"))
		}
	}

	if c.TracingEnabled && c.OTLPProtocol != "grpc" && c.OTLPProtocol != "http" {
		errs = append(errs, fmt.Errorf("OTEL_EXPORTER_OTLP_PROTOCOL must be grpc or http, got %q", c.OTLPProtocol))
	}

	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetryInitialDelayMs < 0 || c.RetryMaxDelayMs < c.RetryInitialDelayMs {
		errs = append(errs, errors.New("RETRY_MAX_DELAY_MS must not be less than RETRY_INITIAL_DELAY_MS"))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, errors.New("RETRY_MULTIPLIER must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Location returns the time zone log timestamps are written in
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("EDITLOG_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Retry returns the retry policy for store and mirror writes
func (c *Config) Retry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.RetryMaxAttempts
	cfg.InitialDelay = time.Duration(c.RetryInitialDelayMs) * time.Millisecond
	cfg.MaxDelay = time.Duration(c.RetryMaxDelayMs) * time.Millisecond
	cfg.Multiplier = c.RetryMultiplier
	return cfg
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
