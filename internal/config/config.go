// ABOUTME: Configuration loading and parsing for research-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by the loader.
const (
	EnvConfigPath = "RESEARCH_GATEWAY_CONFIG"
	EnvDBPath     = "RESEARCH_GATEWAY_DB_PATH"
	EnvReportsDir = "RESEARCH_GATEWAY_REPORTS_DIR"
)

// Engine providers.
const (
	ProviderOpenAI = "openai"
	ProviderFake   = "fake"
)

// Config represents the complete research-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Reports   ReportsConfig   `yaml:"reports" toml:"reports"`
	Engine    EngineConfig    `yaml:"engine" toml:"engine"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Workers   WorkersConfig   `yaml:"workers" toml:"workers"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// StaticDir, if set, is served at / (the web frontend build).
	StaticDir string `yaml:"static_dir" toml:"static_dir"`
	// AllowedOrigins limits WebSocket upgrades and CORS. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS on :443 with a tailnet certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds transcript database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
}

// ReportsConfig holds report archive configuration
type ReportsConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// ModelConfig describes one model slot of the research engine
type ModelConfig struct {
	Name      string `yaml:"name" toml:"name"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`
}

// EngineConfig selects and configures the research engine
type EngineConfig struct {
	Provider         string      `yaml:"provider" toml:"provider"`
	ResearchModel    ModelConfig `yaml:"research_model" toml:"research_model"`
	FinalReportModel ModelConfig `yaml:"final_report_model" toml:"final_report_model"`

	// Timeout bounds one research run. Zero means no limit.
	Timeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// SessionsConfig tunes per-connection sessions
type SessionsConfig struct {
	TokenBufferSize    int     `yaml:"token_buffer_size" toml:"token_buffer_size"`
	WriteQueueSize     int     `yaml:"write_queue_size" toml:"write_queue_size"`
	MaxFramesPerSecond float64 `yaml:"max_frames_per_second" toml:"max_frames_per_second"`
	FrameBurst         int     `yaml:"frame_burst" toml:"frame_burst"`

	WriteTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
}

// WorkersConfig sizes the persistence worker pool
type WorkersConfig struct {
	PoolSize int `yaml:"pool_size" toml:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults returns a configuration that runs locally without a config file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8000",
		},
		Tailscale: TailscaleConfig{
			Hostname: "research-gateway",
		},
		Database: DatabaseConfig{
			Path:   "research_chats.db",
			Driver: "sqlite",
		},
		Reports: ReportsConfig{
			Dir: "research_reports",
		},
		Engine: EngineConfig{
			Provider:         ProviderFake,
			TimeoutRaw:       "0s",
			ResearchModel:    ModelConfig{MaxTokens: 8192},
			FinalReportModel: ModelConfig{MaxTokens: 16384},
		},
		Sessions: SessionsConfig{
			TokenBufferSize: 1000,
			WriteQueueSize:  256,
			WriteTimeoutRaw: "10s",
			FrameBurst:      5,
		},
		Workers: WorkersConfig{
			PoolSize: 8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Values missing from the file keep their Defaults. Environment variables in the
// format ${VAR_NAME} are expanded. A ".toml" extension selects TOML; anything else
// is read as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadDefaults returns Defaults with environment overrides applied, for
// running without a config file.
func LoadDefaults() (*Config, error) {
	return finish(Defaults())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath returns the config file to load.
// Priority: explicit flag > RESEARCH_GATEWAY_CONFIG env var >
// XDG_CONFIG_HOME/research-gateway/gateway.yaml > ~/.config/research-gateway/gateway.yaml
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "research-gateway", "gateway.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvReportsDir); v != "" {
		cfg.Reports.Dir = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Reports.Dir == "" {
		return fmt.Errorf("reports.dir is required")
	}

	switch c.Engine.Provider {
	case ProviderFake:
	case ProviderOpenAI:
		if c.Engine.ResearchModel.Name == "" {
			return fmt.Errorf("engine.research_model.name is required for the openai provider")
		}
	default:
		return fmt.Errorf("engine.provider must be openai or fake, got %q", c.Engine.Provider)
	}
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("engine.timeout must not be negative")
	}

	if c.Sessions.TokenBufferSize < 1 {
		return fmt.Errorf("sessions.token_buffer_size must be at least 1")
	}
	if c.Sessions.WriteQueueSize < 1 {
		return fmt.Errorf("sessions.write_queue_size must be at least 1")
	}
	if c.Sessions.MaxFramesPerSecond < 0 {
		return fmt.Errorf("sessions.max_frames_per_second must not be negative")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("workers.pool_size must be at least 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Engine.TimeoutRaw != "" {
		cfg.Engine.Timeout, err = time.ParseDuration(cfg.Engine.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing engine.timeout %q: %w", cfg.Engine.TimeoutRaw, err)
		}
	}

	if cfg.Sessions.WriteTimeoutRaw != "" {
		cfg.Sessions.WriteTimeout, err = time.ParseDuration(cfg.Sessions.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.write_timeout %q: %w", cfg.Sessions.WriteTimeoutRaw, err)
		}
	}

	return nil
}
