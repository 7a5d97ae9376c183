package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domainconfig "topicgrader/domain/config"
	"topicgrader/pkg/utils"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StoreBadger   = "badger"
	StoreSQLite   = "sqlite"
)

// Scoring backends
const (
	ScoringHeuristic = "heuristic"
	ScoringOpenAI    = "openai"
)

// ConfigFileEnv names the optional YAML or JSON file read before the environment
const ConfigFileEnv = "TOPICGRADER_CONFIG"

// Config holds all application configuration
type Config struct {
	Environment string `yaml:"environment" json:"environment" validate:"oneof=development production test"`
	LogLevel    string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	// Persistence
	StoreBackend  string `yaml:"store_backend" json:"store_backend" validate:"oneof=memory dynamodb badger sqlite"`
	AWSRegion     string `yaml:"aws_region" json:"aws_region"`
	DynamoDBTable string `yaml:"dynamodb_table" json:"dynamodb_table"`
	BadgerDir     string `yaml:"badger_dir" json:"badger_dir"`
	SQLiteDSN     string `yaml:"sqlite_dsn" json:"sqlite_dsn"`
	RestoreMode   string `yaml:"restore_mode" json:"restore_mode" validate:"oneof=replay snapshot"`

	// Events
	EventBusName string `yaml:"event_bus_name" json:"event_bus_name"`

	// Scoring
	ScoringBackend   string        `yaml:"scoring_backend" json:"scoring_backend" validate:"oneof=heuristic openai"`
	OpenAIAPIKey     string        `yaml:"openai_api_key" json:"openai_api_key"`
	OpenAIModel      string        `yaml:"openai_model" json:"openai_model"`
	OpenAIBaseURL    string        `yaml:"openai_base_url" json:"openai_base_url" validate:"omitempty,url"`
	ScoringTimeout   time.Duration `yaml:"scoring_timeout" json:"scoring_timeout" validate:"gt=0"`
	ScoringRateLimit float64       `yaml:"scoring_rate_limit" json:"scoring_rate_limit" validate:"gt=0"`

	// Sessions
	SessionMaxAge   time.Duration `yaml:"session_max_age" json:"session_max_age" validate:"gt=0"`
	CleanupSchedule string        `yaml:"cleanup_schedule" json:"cleanup_schedule"`

	// Feature flags
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Environment:      "development",
		LogLevel:         "info",
		StoreBackend:     StoreMemory,
		AWSRegion:        "us-west-2",
		DynamoDBTable:    "topicgrader-sessions",
		SQLiteDSN:        "file:topicgrader.db",
		RestoreMode:      "replay",
		ScoringBackend:   ScoringHeuristic,
		OpenAIModel:      "gpt-4o-mini",
		ScoringTimeout:   10 * time.Second,
		ScoringRateLimit: 2,
		SessionMaxAge:    24 * time.Hour,
		CleanupSchedule:  "@every 10m",
	}
}

// LoadConfig loads configuration: defaults, then the optional file named by
// TOPICGRADER_CONFIG, then environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv(ConfigFileEnv))
}

// LoadConfigFile is LoadConfig with an explicit file; an empty path skips
// the file layer.
func LoadConfigFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("config file %s: unsupported extension", path)
	}
	if err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.DynamoDBTable = getEnv("DYNAMODB_TABLE", c.DynamoDBTable)
	c.BadgerDir = getEnv("BADGER_DIR", c.BadgerDir)
	c.SQLiteDSN = getEnv("SQLITE_DSN", c.SQLiteDSN)
	c.RestoreMode = getEnv("RESTORE_MODE", c.RestoreMode)

	c.EventBusName = getEnv("EVENT_BUS_NAME", c.EventBusName)

	c.ScoringBackend = getEnv("SCORING_BACKEND", c.ScoringBackend)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.ScoringTimeout = getEnvDuration("SCORING_TIMEOUT", c.ScoringTimeout)
	c.ScoringRateLimit = getEnvFloat("SCORING_RATE_LIMIT", c.ScoringRateLimit)

	c.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", c.SessionMaxAge)
	c.CleanupSchedule = getEnv("CLEANUP_SCHEDULE", c.CleanupSchedule)

	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTracing = getEnvBool("ENABLE_TRACING", c.EnableTracing)
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	if c.StoreBackend == StoreDynamoDB && c.DynamoDBTable == "" {
		return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb store")
	}
	if c.StoreBackend == StoreSQLite && c.SQLiteDSN == "" {
		return fmt.Errorf("SQLITE_DSN is required for the sqlite store")
	}
	if c.ScoringBackend == ScoringOpenAI && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for openai scoring")
	}
	return nil
}

// DomainConfig returns the domain rules for this environment with the
// process-level overrides applied
func (c *Config) DomainConfig() *domainconfig.DomainConfig {
	dc := domainconfig.LoadDomainConfig(c.Environment)
	dc.ScoringTimeout = c.ScoringTimeout
	dc.SessionMaxAge = c.SessionMaxAge
	return dc
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
