// Package config handles aztriage configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./aztriage.yaml, ~/.config/aztriage/aztriage.yaml, /etc/aztriage/aztriage.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"aztriage.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aztriage", "aztriage.yaml"))
	}

	paths = append(paths, "/etc/aztriage/aztriage.yaml")
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

// Config holds all aztriage configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	LLM      LLMConfig      `yaml:"llm"`
	Azure    AzureConfig    `yaml:"azure"`
	Auth     AuthConfig     `yaml:"auth"`
	Safety   SafetyConfig   `yaml:"safety"`
	Sessions SessionsConfig `yaml:"sessions"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines which model provider drives investigations.
// Provider is one of "anthropic", "azure_openai", "openai", or "rules"
// (the deterministic built-in used when no API credentials exist).
type LLMConfig struct {
	Provider    string            `yaml:"provider"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	AzureOpenAI AzureOpenAIConfig `yaml:"azure_openai"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureOpenAIConfig defines Azure OpenAI deployment settings.
type AzureOpenAIConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Deployment string `yaml:"deployment"`
}

// OpenAIConfig defines OpenAI API settings.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureConfig defines the Azure Resource Manager connection.
type AzureConfig struct {
	// ManagementEndpoint overrides the ARM base URL. Defaults to
	// https://management.azure.com when empty. Tests point this at a
	// local httptest server.
	ManagementEndpoint string `yaml:"management_endpoint"`
	// SubscriptionID scopes queries when the caller provides none.
	SubscriptionID string `yaml:"subscription_id"`
	// RequestsPerSecond throttles outbound ARM calls. Zero means 5/s.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// AuthConfig defines JWT issuance settings.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	ExpirationHours int    `yaml:"expiration_hours"` // Default: 24
}

// SafetyConfig bounds a single investigation session. Zero values fall
// back to the package defaults in internal/safety.
type SafetyConfig struct {
	MaxTotalTime         time.Duration `yaml:"max_total_time"`
	MaxFunctionTime      time.Duration `yaml:"max_function_time"`
	MaxFunctionCalls     int           `yaml:"max_function_calls"`
	MaxAPICallsPerMinute int           `yaml:"max_api_calls_per_minute"`
	MaxMemoryUsageMB     float64       `yaml:"max_memory_usage_mb"`
	MaxDepth             int           `yaml:"max_depth"`
	MaxRetryAttempts     int           `yaml:"max_retry_attempts"`
	MaxRepeatedFunctions int           `yaml:"max_repeated_functions"`
}

// SessionsConfig bounds the in-memory session store.
type SessionsConfig struct {
	MaxSessions int           `yaml:"max_sessions"` // Default: 100
	IdleTimeout time.Duration `yaml:"idle_timeout"` // Default: 1h
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can live in the environment
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration. The rule-based provider is
// the default so the service runs without any API credentials.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8443},
		LLM:      LLMConfig{Provider: "rules"},
		Auth:     AuthConfig{ExpirationHours: 24},
		Sessions: SessionsConfig{MaxSessions: 100, IdleTimeout: time.Hour},
	}
}
