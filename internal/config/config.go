// Package config loads the hub configuration from defaults, an optional
// .env file, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the hub process.
type Config struct {
	Host string `yaml:"host" envconfig:"WEBSOCKET_HOST" validate:"required"`
	Port int    `yaml:"port" envconfig:"WEBSOCKET_PORT" validate:"min=1,max=65535"`

	// DBPath is the connection journal location; empty disables the journal.
	DBPath string `yaml:"db_path" envconfig:"DB_PATH"`

	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=text json"`

	// PathIdentity serves /mcp/:agent_id, where agents choose their identity.
	PathIdentity bool `yaml:"path_identity" envconfig:"PATH_IDENTITY"`
	// GeneratedIdentity serves /mcp, where the hub assigns the identity.
	GeneratedIdentity bool `yaml:"generated_identity" envconfig:"GENERATED_IDENTITY"`
	// DefaultAgentID binds every /mcp connection to one fixed identity.
	DefaultAgentID string `yaml:"default_agent_id" envconfig:"DEFAULT_AGENT_ID"`

	SendQueueSize        int           `yaml:"send_queue_size" envconfig:"SEND_QUEUE_SIZE" validate:"min=1"`
	WriteTimeout         time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"min=1ms"`
	PongTimeout          time.Duration `yaml:"pong_timeout" envconfig:"PONG_TIMEOUT" validate:"min=1s"`
	MaxFrameBytes        int64         `yaml:"max_frame_bytes" envconfig:"MAX_FRAME_BYTES" validate:"min=1024"`
	BroadcastConcurrency int           `yaml:"broadcast_concurrency" envconfig:"BROADCAST_CONCURRENCY" validate:"min=1"`
	DefaultChunkSize     int           `yaml:"default_chunk_size" envconfig:"DEFAULT_CHUNK_SIZE" validate:"min=1"`
	InboxSize            int           `yaml:"inbox_size" envconfig:"INBOX_SIZE" validate:"min=1"`

	// MCPStdio serves the tool surface over stdin/stdout.
	MCPStdio bool `yaml:"mcp_stdio" envconfig:"MCP_STDIO"`
	// AllowedOrigins restricts WebSocket origins; empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:                 "localhost",
		Port:                 8012,
		DBPath:               "data/hub.db",
		LogLevel:             "info",
		LogFormat:            "text",
		PathIdentity:         true,
		GeneratedIdentity:    true,
		SendQueueSize:        256,
		WriteTimeout:         10 * time.Second,
		PongTimeout:          60 * time.Second,
		MaxFrameBytes:        16 << 20,
		BroadcastConcurrency: 32,
		DefaultChunkSize:     10000,
		InboxSize:            50,
	}
}

var validate = validator.New()

// Load builds the configuration: defaults, then .env, then the YAML file at
// path (if path is not empty), then environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.PathIdentity && !c.GeneratedIdentity {
		return errors.New("invalid config: at least one of path_identity and generated_identity must be enabled")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
