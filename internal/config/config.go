// Package config handles Kiwi configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/kiwi/config.yaml, /etc/kiwi/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kiwi", "config.yaml"))
	}

	paths = append(paths, "/etc/kiwi/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Kiwi configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Sessions  []SessionConfig `yaml:"sessions"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GeminiConfig defines the Gemini model API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// MaxOutputTokens bounds each model response. Zero means the
	// built-in default (24000).
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// DisableThinking turns off the model's extended reasoning phase.
	// Kiwi is tuned for short tool-augmented replies, so the default
	// config enables this.
	DisableThinking bool `yaml:"disable_thinking"`
}

// SessionConfig maps a bearer token to an identity-provider subject.
// Exactly one of Token or TokenHash should be set; TokenHash is a
// bcrypt hash and takes precedence when both are present.
type SessionConfig struct {
	Token     string `yaml:"token"`
	TokenHash string `yaml:"token_hash"`
	Subject   string `yaml:"subject"`
	Email     string `yaml:"email"`
	Name      string `yaml:"name"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8080},
		Database: DatabaseConfig{Path: "kiwi.db"},
		Gemini: GeminiConfig{
			Model:           "gemini-2.5-flash",
			MaxOutputTokens: 24000,
			DisableThinking: true,
		},
	}
}

// Validate checks for configuration mistakes that would otherwise only
// surface later as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	for i, s := range c.Sessions {
		if s.Subject == "" {
			return fmt.Errorf("sessions[%d]: subject is required", i)
		}
		if s.Email == "" {
			return fmt.Errorf("sessions[%d]: email is required", i)
		}
		if s.Token == "" && s.TokenHash == "" {
			return fmt.Errorf("sessions[%d]: token or token_hash is required", i)
		}
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
