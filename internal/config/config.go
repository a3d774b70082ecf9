// Package config provides configuration management for the screening service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backend constants.
const (
	// BackendMemory keeps all records in process memory.
	BackendMemory = "memory"
	// BackendFile persists records to a JSON file on local disk.
	BackendFile = "file"
	// BackendPostgres persists records to a PostgreSQL table.
	BackendPostgres = "postgres"
)

// Config holds all configuration for the screening service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Store contains entity store settings.
	Store StoreConfig `mapstructure:"store"`
	// Database contains PostgreSQL connection settings for the postgres backend.
	Database DatabaseConfig `mapstructure:"database"`
	// Upload contains uploaded file storage settings.
	Upload UploadConfig `mapstructure:"upload"`
	// LLM contains model provider client settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Admin contains admin verification queue settings.
	Admin AdminConfig `mapstructure:"admin"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// BaseURL is the externally reachable base URL, used to build file URLs.
	BaseURL string `mapstructure:"base_url"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig holds entity store configuration.
type StoreConfig struct {
	// Backend selects the persistence backend (memory, file, postgres).
	Backend string `mapstructure:"backend"`
	// Dir is the directory the file backend writes to.
	Dir string `mapstructure:"dir"`
	// StorageKey is the key the store blob is persisted under.
	StorageKey string `mapstructure:"storage_key"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
}

// UploadConfig holds uploaded file storage configuration.
type UploadConfig struct {
	// Dir is the directory uploaded images are stored under. When empty,
	// uploads are embedded as data URLs instead of stored on disk.
	Dir string `mapstructure:"dir"`
}

// LLMConfig holds model provider client configuration.
type LLMConfig struct {
	// Model is the model identifier (default: gpt-4o-mini).
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is loaded exclusively from the environment (see loadSecrets).
	APIKey string `mapstructure:"-"`
	// Timeout is the HTTP client timeout for model calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the number of retries for transient errors.
	MaxRetries int `mapstructure:"max_retries"`
	// RequestsPerSecond caps the sustained request rate. Zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
}

// AdminConfig holds admin verification queue configuration.
type AdminConfig struct {
	// Email is the address payment claims are announced to.
	Email string `mapstructure:"email"`
	// PaymentAmountINR is the screening fee in rupees.
	PaymentAmountINR int `mapstructure:"payment_amount_inr"`
	// PollInterval is how often the verification queue is re-read.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log output format (json, console, pretty).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log entries.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is exposed.
	Enabled bool `mapstructure:"enabled"`
	// Path is the metrics endpoint path (default: /metrics).
	Path string `mapstructure:"path"`
	// Namespace is the prefix for all metric names.
	Namespace string `mapstructure:"namespace"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// HTTPAddress returns the address the HTTP server binds to.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the address the metrics server binds to.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("OSTEOSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/osteoscope")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	if key := os.Getenv("OSTEOSCOPE_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if pw := os.Getenv("OSTEOSCOPE_DATABASE_PASSWORD"); pw != "" {
		cfg.Database.Password = pw
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Store
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.dir", "./data")
	v.SetDefault("store.storage_key", "osteoscope_db_v1")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "osteoscope")
	v.SetDefault("database.name", "osteoscope")
	v.SetDefault("database.ssl_mode", "require")

	// Upload
	v.SetDefault("upload.dir", "./data/uploads")

	// LLM
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 2)
	// API keys are loaded exclusively from environment variables (see loadSecrets).

	// Admin
	v.SetDefault("admin.email", "admin@osteoscope.example")
	v.SetDefault("admin.payment_amount_inr", 199)
	v.SetDefault("admin.poll_interval", "15s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "osteoscope")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Metrics.Enabled {
		if c.Server.MetricsPort < 1 || c.Server.MetricsPort > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
		}
		if c.Server.MetricsPort == c.Server.HTTPPort {
			return fmt.Errorf("metrics port must differ from http port")
		}
	}

	// Validate store backend
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendPostgres:
	default:
		return fmt.Errorf("invalid store backend: %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendFile && c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required for the file backend")
	}
	if c.Store.StorageKey == "" {
		return fmt.Errorf("store.storage_key must not be empty")
	}

	// Validate database config when the postgres backend is selected
	if c.Store.Backend == BackendPostgres {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for the postgres backend")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required for the postgres backend")
		}
	}

	// Validate log level
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	// Validate LLM config
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must not be empty")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}

	// Validate admin config
	if c.Admin.PaymentAmountINR <= 0 {
		return fmt.Errorf("admin.payment_amount_inr must be positive")
	}
	if c.Admin.PollInterval <= 0 {
		return fmt.Errorf("admin.poll_interval must be positive")
	}

	return nil
}
