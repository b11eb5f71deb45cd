// Package config loads the agentflow process configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
)

// StoreDriver selects the persistence backend
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreDynamoDB StoreDriver = "dynamodb"
	StorePostgres StoreDriver = "postgres"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen          string        `toml:"listen"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// EngineConfig holds orchestrator settings.
type EngineConfig struct {
	DefaultTimeout       time.Duration `toml:"default_timeout"`
	DefaultMaxIterations int           `toml:"default_max_iterations"`
	MaxParallelBranches  int           `toml:"max_parallel_branches"` // 0 = unlimited
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Driver   StoreDriver `toml:"driver"`
	Table    string      `toml:"table"`  // DynamoDB table
	Region   string      `toml:"region"` // optional, falls back to the AWS default chain
	DSN      string      `toml:"dsn"`    // PostgreSQL connection string
	MaxConns int32       `toml:"max_conns"`
}

// InvokerConfig holds the argv templates used to run work units.
type InvokerConfig struct {
	Skill []string          `toml:"skill"`
	Agent []string          `toml:"agent"`
	Team  []string          `toml:"team"`
	Dir   string            `toml:"dir"`
	Env   map[string]string `toml:"env"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	Endpoint    string `toml:"endpoint"`
}

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Engine  EngineConfig  `toml:"engine"`
	Store   StoreConfig   `toml:"store"`
	Invoker InvokerConfig `toml:"invoker"`
	Logging LoggingConfig `toml:"logging"`
	Tracing TracingConfig `toml:"tracing"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			DefaultTimeout:       agentflow.DefaultEngineConfig.DefaultTimeout,
			DefaultMaxIterations: agentflow.DefaultMaxIterations,
		},
		Store: StoreConfig{
			Driver:   StoreMemory,
			Table:    "agentflow",
			MaxConns: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			ServiceName: "agentflow",
		},
	}
}

// Load loads configuration from file, merging with defaults, then applies
// environment overrides. An empty or missing path means defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			md, err := toml.Decode(string(data), cfg)
			if err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("parsing config: unknown keys %s", strings.Join(keys, ", "))
			}
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("AGENTFLOW_LISTEN"); ok && v != "" {
		c.Server.Listen = v
	}
	if v, ok := lookup("AGENTFLOW_STORE"); ok && v != "" {
		c.Store.Driver = StoreDriver(strings.ToLower(v))
	}
	if v, ok := lookup("DYNAMODB_TABLE"); ok && v != "" {
		c.Store.Table = v
	}
	if v, ok := lookup("DB_URL"); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.default_timeout must be positive")
	}
	if c.Engine.DefaultMaxIterations <= 0 {
		return fmt.Errorf("engine.default_max_iterations must be positive")
	}
	if c.Engine.MaxParallelBranches < 0 {
		return fmt.Errorf("engine.max_parallel_branches must not be negative")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreDynamoDB:
		if c.Store.Table == "" {
			return fmt.Errorf("store.table is required for the dynamodb driver")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
		if c.Store.MaxConns <= 0 {
			return fmt.Errorf("store.max_conns must be positive")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory, dynamodb or postgres)", c.Store.Driver)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "console" && f != "json" {
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return fmt.Errorf("tracing.service_name is required when tracing is enabled")
	}
	return nil
}

// EngineSettings converts the engine section for engine.WithConfig
func (c *Config) EngineSettings() agentflow.EngineConfig {
	return agentflow.EngineConfig{
		DefaultTimeout:       c.Engine.DefaultTimeout,
		DefaultMaxIterations: c.Engine.DefaultMaxIterations,
		MaxParallelBranches:  c.Engine.MaxParallelBranches,
	}
}
