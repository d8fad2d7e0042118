// Package config loads dispatcher and server configuration from environment
// variables and an optional YAML file. Environment values take precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Dispatch DispatchConfig `yaml:"dispatch" envconfig:"DISPATCH"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DispatchConfig contains the dispatcher tuning knobs.
type DispatchConfig struct {
	AllowedMethods      []string      `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	DependencyRetries   int           `yaml:"dependency_retries" envconfig:"DEPENDENCY_RETRIES"`
	DependencyRetryBase time.Duration `yaml:"dependency_retry_base" envconfig:"DEPENDENCY_RETRY_BASE"`
	HandlerTimeout      time.Duration `yaml:"handler_timeout" envconfig:"HANDLER_TIMEOUT"`
	EnableRouteCache    bool          `yaml:"enable_route_cache" envconfig:"ENABLE_ROUTE_CACHE"`
	MaxRouteCacheSize   int           `yaml:"max_route_cache_size" envconfig:"MAX_ROUTE_CACHE_SIZE"`
	EnableVersioning    bool          `yaml:"enable_versioning" envconfig:"ENABLE_VERSIONING"`
	ParallelHandlers    bool          `yaml:"parallel_handlers" envconfig:"PARALLEL_HANDLERS"`
	DebugMode           bool          `yaml:"debug_mode" envconfig:"DEBUG_MODE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// defaultConfig is the baseline every other source layers on top of.
// Defaults live here rather than in envconfig tags so that file values are
// not clobbered when the corresponding env var is unset.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			AllowedMethods:      []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
			DependencyRetries:   2,
			DependencyRetryBase: 150 * time.Millisecond,
			HandlerTimeout:      30 * time.Second,
			EnableRouteCache:    true,
			MaxRouteCacheSize:   256,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/relayd.log",
		},
	}
}

// Load loads configuration in precedence order: built-in defaults, then the
// file named by RELAY_CONFIG_FILE (default "config.yaml") when it exists,
// then environment variables.
func Load() (*Config, error) {
	configFile := os.Getenv("RELAY_CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	cfg := defaultConfig()
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment overrides anything the file set.
	if err := envconfig.Process("RELAY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Dispatch.DependencyRetries < 0 {
		return fmt.Errorf("dependency_retries must be >= 0, got %d", c.Dispatch.DependencyRetries)
	}
	if c.Dispatch.EnableRouteCache && c.Dispatch.MaxRouteCacheSize < 1 {
		return fmt.Errorf("max_route_cache_size must be >= 1 when the route cache is enabled, got %d", c.Dispatch.MaxRouteCacheSize)
	}
	if len(c.Dispatch.AllowedMethods) == 0 {
		return fmt.Errorf("allowed_methods must not be empty")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
