// Package config loads the gateway configuration from YAML.
//
// DESIGN: One Config struct mirrors the YAML file section by section:
//   - server:       listen port and timeouts
//   - upstream:     the basic and plus session pools (fixed at start)
//   - conversation: creation retry bound, fixed backoff, settle delay
//   - models:       model catalog (basic and plus-only names)
//   - pipes:        prompt preprocessing (search, artifacts)
//   - storage:      credential and history backend
//   - admin:        JWT secret for status/audit endpoints
//   - monitoring:   logging and telemetry
//
// ${VAR} references are expanded from the environment before parsing,
// so secrets can stay in .env files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Conversation ConversationConfig `yaml:"conversation"`
	Models       ModelsConfig       `yaml:"models"`
	Pipes        PipesConfig        `yaml:"pipes"`
	Storage      StorageConfig      `yaml:"storage"`
	Admin        AdminConfig        `yaml:"admin"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	StreamFrameTimeout time.Duration `yaml:"stream_frame_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionConfig describes one upstream chat session.
type SessionConfig struct {
	Name       string        `yaml:"name"`
	BaseURL    string        `yaml:"base_url"`
	SessionKey string        `yaml:"session_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

// UpstreamConfig lists the session pool per tier. Index in the list is the
// caller-addressable session index.
type UpstreamConfig struct {
	Basic          []SessionConfig `yaml:"basic"`
	Plus           []SessionConfig `yaml:"plus"`
	CompletionPath string          `yaml:"completion_path"`
}

// ConversationConfig controls conversation creation.
type ConversationConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
}

// ModelsConfig overrides the built-in model catalog.
type ModelsConfig struct {
	Basic []string `yaml:"basic"`
	Plus  []string `yaml:"plus"`
}

// PipesConfig holds prompt preprocessing settings.
type PipesConfig struct {
	Search    SearchConfig    `yaml:"search"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// SearchConfig configures search augmentation.
type SearchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ArtifactsConfig configures artifact-rendering prompts.
// Enabled is the server-side feature flag; callers still opt in per request.
type ArtifactsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TemplatePath string `yaml:"template_path"`
}

// StorageConfig selects the credential and history backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // memory, sqlite, postgres
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresURL   string `yaml:"postgres_url"`
	ValidDays     int    `yaml:"valid_days"`
	TokenEncoding string `yaml:"token_encoding"` // tiktoken encoding for history token counts
}

// AdminConfig protects administrative reads.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// MonitoringConfig holds logging and telemetry settings.
type MonitoringConfig struct {
	LogLevel         string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat        string `yaml:"log_format"` // json, console, auto
	LogOutput        string `yaml:"log_output"` // stdout, stderr, or file path
	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	TelemetryPath    string `yaml:"telemetry_path"`
	LogToStdout      bool   `yaml:"log_to_stdout"`
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses config data, expands environment references,
// applies defaults and validates.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied and no upstream sessions.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Server.StreamFrameTimeout == 0 {
		c.Server.StreamFrameTimeout = DefaultStreamFrameTimeout
	}
	if c.Upstream.CompletionPath == "" {
		c.Upstream.CompletionPath = DefaultCompletionPath
	}
	for i := range c.Upstream.Basic {
		if c.Upstream.Basic[i].Timeout == 0 {
			c.Upstream.Basic[i].Timeout = DefaultUpstreamTimeout
		}
	}
	for i := range c.Upstream.Plus {
		if c.Upstream.Plus[i].Timeout == 0 {
			c.Upstream.Plus[i].Timeout = DefaultUpstreamTimeout
		}
	}
	if c.Conversation.MaxRetries == 0 {
		c.Conversation.MaxRetries = DefaultMaxRetries
	}
	if c.Conversation.RetryInterval == 0 {
		c.Conversation.RetryInterval = DefaultRetryInterval
	}
	if c.Conversation.SettleDelay == 0 {
		c.Conversation.SettleDelay = DefaultSettleDelay
	}
	if c.Pipes.Search.MaxResults == 0 {
		c.Pipes.Search.MaxResults = DefaultSearchMaxResults
	}
	if c.Pipes.Search.Timeout == 0 {
		c.Pipes.Search.Timeout = DefaultSearchTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = DefaultSQLitePath
	}
	if c.Storage.ValidDays == 0 {
		c.Storage.ValidDays = DefaultValidDays
	}
	if c.Storage.TokenEncoding == "" {
		c.Storage.TokenEncoding = DefaultTokenEncoding
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "auto"
	}
	if c.Monitoring.LogOutput == "" {
		c.Monitoring.LogOutput = "stdout"
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Conversation.MaxRetries < 1 {
		return fmt.Errorf("conversation.max_retries must be >= 1, got %d", c.Conversation.MaxRetries)
	}
	if c.Conversation.RetryInterval < 0 {
		return fmt.Errorf("conversation.retry_interval must be >= 0, got %s", c.Conversation.RetryInterval)
	}
	if c.Conversation.SettleDelay < 0 {
		return fmt.Errorf("conversation.settle_delay must be >= 0, got %s", c.Conversation.SettleDelay)
	}
	for tier, sessions := range map[string][]SessionConfig{"basic": c.Upstream.Basic, "plus": c.Upstream.Plus} {
		for i, s := range sessions {
			if strings.TrimSpace(s.BaseURL) == "" {
				return fmt.Errorf("upstream.%s[%d].base_url is required", tier, i)
			}
		}
	}
	if c.Pipes.Search.Enabled && c.Pipes.Search.Endpoint == "" {
		return fmt.Errorf("pipes.search.endpoint is required when search is enabled")
	}
	if c.Pipes.Search.MaxResults < 0 {
		return fmt.Errorf("pipes.search.max_results must be >= 0, got %d", c.Pipes.Search.MaxResults)
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.ValidDays < 0 {
		return fmt.Errorf("storage.valid_days must be >= 0, got %d", c.Storage.ValidDays)
	}
	return nil
}
