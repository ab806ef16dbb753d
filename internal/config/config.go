// Package config provides configuration management for Argus.
// Settings come from an optional YAML file plus environment variables
// with the ARGUS_ prefix; environment variables take precedence over
// the file, and the file over the built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Argus application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reprocess ReprocessConfig `yaml:"reprocess"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 6380)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"storage_engine"` // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`      // Path to data directory for SQLite (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"`   // PostgreSQL connection string
}

// EmbeddingConfig contains embedding gateway configuration.
type EmbeddingConfig struct {
	GatewayURL     string        `yaml:"gateway_url"`     // Embedding gateway base URL (default: http://localhost:8091)
	Model          string        `yaml:"model"`           // Model name requested from the gateway (default: clip-vit-b32)
	Timeout        time.Duration `yaml:"timeout"`         // Per-request timeout (default: 30s)
	BreakerMaxFail int           `yaml:"breaker_maxfail"` // Consecutive failures before the circuit opens (default: 5)
	BreakerCooloff time.Duration `yaml:"breaker_cooloff"` // Open-state duration before a probe (default: 30s)
}

// ReprocessConfig contains bulk reprocessing configuration.
type ReprocessConfig struct {
	BatchSize        int           `yaml:"batch_size"`        // Events per batch (default: 100)
	ProgressInterval time.Duration `yaml:"progress_interval"` // Minimum time between progress broadcasts (default: 2s)
	ProgressEvery    int           `yaml:"progress_every"`    // Processed-count delta that forces a broadcast (default: 500)
	MatchThreshold   float64       `yaml:"match_threshold"`   // Cosine similarity threshold for entity matching (default: 0.82)
	CandidateLimit   int           `yaml:"candidate_limit"`   // Max candidate entities scored per event (default: 50)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string `yaml:"security_mode"` // Security mode: development, production (default: development)
	APIToken     string `yaml:"api_token"`     // API authentication token
}

// LoadConfig loads configuration from defaults, then the YAML file
// named by ARGUS_CONFIG_FILE (if set and present), then environment
// variables with the ARGUS_ prefix.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("ARGUS_CONFIG_FILE"); path != "" {
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

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}
	if c.Storage.StorageEngine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres storage engine requires ARGUS_POSTGRES_DSN")
	}
	if c.Reprocess.BatchSize <= 0 {
		return fmt.Errorf("config: batch size must be positive, got %d", c.Reprocess.BatchSize)
	}
	if c.Reprocess.MatchThreshold <= 0 || c.Reprocess.MatchThreshold > 1 {
		return fmt.Errorf("config: match threshold must be in (0, 1], got %g", c.Reprocess.MatchThreshold)
	}
	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("config: production security mode requires ARGUS_API_TOKEN")
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("ARGUS_PORT", c.Server.Port)
	c.Server.Host = getEnv("ARGUS_HOST", c.Server.Host)

	c.Storage.StorageEngine = getEnv("ARGUS_STORAGE_ENGINE", c.Storage.StorageEngine)
	c.Storage.DataPath = getEnv("ARGUS_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("ARGUS_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Embedding.GatewayURL = getEnv("ARGUS_EMBEDDING_URL", c.Embedding.GatewayURL)
	c.Embedding.Model = getEnv("ARGUS_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Timeout = getEnvDuration("ARGUS_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.BreakerMaxFail = getEnvInt("ARGUS_BREAKER_MAXFAIL", c.Embedding.BreakerMaxFail)
	c.Embedding.BreakerCooloff = getEnvDuration("ARGUS_BREAKER_COOLOFF", c.Embedding.BreakerCooloff)

	c.Reprocess.BatchSize = getEnvInt("ARGUS_REPROCESS_BATCH_SIZE", c.Reprocess.BatchSize)
	c.Reprocess.ProgressInterval = getEnvDuration("ARGUS_PROGRESS_INTERVAL", c.Reprocess.ProgressInterval)
	c.Reprocess.ProgressEvery = getEnvInt("ARGUS_PROGRESS_EVERY", c.Reprocess.ProgressEvery)
	c.Reprocess.MatchThreshold = getEnvFloat("ARGUS_MATCH_THRESHOLD", c.Reprocess.MatchThreshold)
	c.Reprocess.CandidateLimit = getEnvInt("ARGUS_CANDIDATE_LIMIT", c.Reprocess.CandidateLimit)

	c.Security.SecurityMode = getEnv("ARGUS_SECURITY_MODE", c.Security.SecurityMode)
	c.Security.APIToken = getEnv("ARGUS_API_TOKEN", c.Security.APIToken)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 6380,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		Embedding: EmbeddingConfig{
			GatewayURL:     "http://localhost:8091",
			Model:          "clip-vit-b32",
			Timeout:        30 * time.Second,
			BreakerMaxFail: 5,
			BreakerCooloff: 30 * time.Second,
		},
		Reprocess: ReprocessConfig{
			BatchSize:        100,
			ProgressInterval: 2 * time.Second,
			ProgressEvery:    500,
			MatchThreshold:   0.82,
			CandidateLimit:   50,
		},
		Security: SecurityConfig{
			SecurityMode: "development",
			APIToken:     "",
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
