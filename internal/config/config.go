// Package config handles TuringLab configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/turinglab/config.yaml, /etc/turinglab/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "turinglab", "config.yaml"))
	}

	paths = append(paths, "/etc/turinglab/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and none of the default search paths exist. Callers may fall back to
// [Default] in that case.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all TuringLab configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	Ollama    OllamaConfig   `yaml:"ollama"`
	Agent     AgentConfig    `yaml:"agent"`
	Tools     ToolsConfig    `yaml:"tools"`
	Search    SearchConfig   `yaml:"search"`
	Database  DatabaseConfig `yaml:"database"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: 127.0.0.1)
	Port    int    `yaml:"port"`
	// MaxConns caps simultaneous client connections. Zero means unlimited.
	MaxConns int `yaml:"max_conns"`
	// APIKeyHash is a bcrypt hash of the API key clients must present as
	// a bearer token. Empty disables authentication.
	APIKeyHash string `yaml:"api_key_hash"`
}

// OllamaConfig defines the text-generation backend.
type OllamaConfig struct {
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the backend request timeout as a duration.
func (c OllamaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	// HistoryLimit is how many prior turns the request handler passes to
	// the agent. Older turns are dropped.
	HistoryLimit int `yaml:"history_limit"`
}

// ToolsConfig configures the built-in tool catalog.
type ToolsConfig struct {
	// WorkDir is the only directory file_operations can list or read.
	WorkDir string `yaml:"work_dir"`
}

// SearchConfig selects the web_search backend. An empty provider keeps
// web_search in its "not configured" mode.
type SearchConfig struct {
	Provider    string `yaml:"provider"` // "", searxng, brave
	SearXNGURL  string `yaml:"searxng_url"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

// DatabaseConfig defines conversation persistence. An empty path
// disables persistence.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig defines the optional MQTT event export.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883; empty disables
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file. Values not present in the
// file keep their [Default] values, ${VAR} references are expanded, and
// the OLLAMA_URL, HOST and PORT environment variables override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Address: "127.0.0.1", Port: 4000},
		Ollama: OllamaConfig{
			URL:        "http://localhost:11434",
			Model:      "gemma3:1b",
			TimeoutSec: 300,
		},
		Agent: AgentConfig{
			MaxIterations: 5,
			Temperature:   0.7,
			MaxTokens:     1024,
			HistoryLimit:  10,
		},
		Tools: ToolsConfig{WorkDir: "."},
		MQTT:  MQTTConfig{TopicPrefix: "turinglab"},
	}
}

// ApplyEnv overrides settings from the environment variables honored by
// the original deployment scripts. getenv is usually [os.Getenv].
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := getenv("HOST"); v != "" {
		c.Listen.Address = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Listen.Port = port
	}
	return nil
}

// Validate checks the configuration for values the rest of the program
// cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Listen.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("listen.max_conns must not be negative"))
	}
	if c.Ollama.URL == "" {
		errs = append(errs, fmt.Errorf("ollama.url is required"))
	}
	if c.Ollama.Model == "" {
		errs = append(errs, fmt.Errorf("ollama.model is required"))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be at least 1"))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f out of range [0, 2]", c.Agent.Temperature))
	}
	if c.Agent.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("agent.max_tokens must be positive"))
	}
	if c.Agent.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("agent.history_limit must be at least 1"))
	}

	switch c.Search.Provider {
	case "":
	case "searxng":
		if c.Search.SearXNGURL == "" {
			errs = append(errs, fmt.Errorf("search.searxng_url is required for provider searxng"))
		}
	case "brave":
		if c.Search.BraveAPIKey == "" {
			errs = append(errs, fmt.Errorf("search.brave_api_key is required for provider brave"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown search.provider %q (valid: searxng, brave)", c.Search.Provider))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}
