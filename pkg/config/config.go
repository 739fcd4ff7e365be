// Package config loads tablex settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "tablex"

// Config represents the application configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Run     RunConfig     `yaml:"run"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

type LLMConfig struct {
	// Provider is gemini, openai or scripted.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	// Script is the responses file replayed by the scripted provider.
	Script string `yaml:"script"`

	// keyProvider is the provider APIKey was configured for.
	keyProvider string
}

var apiKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// APIKeyEnv names the environment variable holding the provider's key.
func APIKeyEnv(provider string) string { return apiKeyEnv[provider] }

// Credential returns the API key for the current provider. A key from the
// config file only applies to the provider it was configured with. Otherwise
// the provider's environment variable is read, so a provider changed after
// Load still gets its own key.
func (c LLMConfig) Credential() string {
	if c.APIKey != "" && (c.keyProvider == "" || c.keyProvider == c.Provider) {
		return c.APIKey
	}
	if env := apiKeyEnv[c.Provider]; env != "" {
		return os.Getenv(env)
	}
	return ""
}

type SandboxConfig struct {
	DockerfilePath string        `yaml:"dockerfile_path"`
	Timeout        time.Duration `yaml:"timeout"`
	MemoryMB       int64         `yaml:"memory_mb"`
}

type RunConfig struct {
	TurnLimit          int `yaml:"turn_limit"`
	OutputTokenBudget  int `yaml:"output_token_budget"`
	PreviewTokenBudget int `yaml:"preview_token_budget"`
	PreviewRows        int `yaml:"preview_rows"`
}

type StoreConfig struct {
	// Driver is sqlite, jsonl or none.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{Provider: "gemini"},
		Sandbox: SandboxConfig{
			Timeout:  2 * time.Minute,
			MemoryMB: 1024,
		},
		Run: RunConfig{
			TurnLimit:          25,
			OutputTokenBudget:  4000,
			PreviewTokenBudget: 10,
			PreviewRows:        5,
		},
		Store:   StoreConfig{Driver: "sqlite", Path: filepath.Join(DataDir(), "runs.db")},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/tablex/config.yaml or its platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("."+appName, "config.yaml")
	}
	return filepath.Join(dir, appName, "config.yaml")
}

// DataDir is where stores keep their files by default.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

// Load reads configuration from path on top of the defaults. A missing
// file is not an error. Environment variables override file values. API
// keys are resolved later by LLMConfig.Credential.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("No config file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if cfg.LLM.APIKey != "" {
		cfg.LLM.keyProvider = cfg.LLM.Provider
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if p := os.Getenv("TABLEX_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
	if m := os.Getenv("TABLEX_MODEL"); m != "" {
		c.LLM.Model = m
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai", "scripted":
	default:
		return fmt.Errorf("llm.provider must be 'gemini', 'openai' or 'scripted', got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "scripted" && c.LLM.Script == "" {
		return fmt.Errorf("llm.script is required for the scripted provider")
	}
	switch c.Store.Driver {
	case "sqlite", "jsonl":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
	case "none":
	default:
		return fmt.Errorf("store.driver must be 'sqlite', 'jsonl' or 'none', got %q", c.Store.Driver)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if c.Sandbox.MemoryMB < 0 {
		return fmt.Errorf("sandbox.memory_mb must not be negative")
	}
	if c.Run.TurnLimit <= 0 {
		return fmt.Errorf("run.turn_limit must be positive")
	}
	if c.Run.OutputTokenBudget <= 0 || c.Run.PreviewTokenBudget <= 0 {
		return fmt.Errorf("run token budgets must be positive")
	}
	if c.Run.PreviewRows <= 0 {
		return fmt.Errorf("run.preview_rows must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
}
