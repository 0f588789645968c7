// Package config defines service configuration and its layered loading.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Metrics server configuration
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	MetricsHost    string `koanf:"metrics_host"`
	MetricsPort    int    `koanf:"metrics_port"`

	// Database configuration
	DatabasePath string `koanf:"database_path"`

	// Fitness provider API configuration
	ProviderClientID     string `koanf:"provider_client_id"`
	ProviderClientSecret string `koanf:"provider_client_secret"`
	ProviderVerifyToken  string `koanf:"provider_verify_token"`
	ProviderBaseURL      string `koanf:"provider_base_url"`
	ProviderTokenURL     string `koanf:"provider_token_url"`
	ProviderAuthURL      string `koanf:"provider_auth_url"`

	// TokenSecret keys token encryption at rest: 64 hex chars (32 bytes)
	TokenSecret string `koanf:"token_secret"`

	// Notifier gateway (chat-bot collaborator)
	NotifierURL   string `koanf:"notifier_url"`
	NotifierToken string `koanf:"notifier_token"`

	// Internal API configuration (sibling services)
	InternalAPIKey string `koanf:"internal_api_key"`

	// Public domain used to build OAuth redirect URLs
	Domain string `koanf:"domain"`

	// Webhook retry cap before an event goes terminal
	RetryCap int `koanf:"retry_cap"`

	// Logging configuration
	LogLevel string `koanf:"log_level"`
}

// defaults returns a Config with default values for optional settings
func defaults() *Config {
	return &Config{
		Host:             "localhost",
		Port:             4201,
		MetricsEnabled:   true,
		MetricsHost:      "localhost",
		MetricsPort:      4202,
		DatabasePath:     "./data.db",
		ProviderBaseURL:  "https://www.strava.com/api/v3",
		ProviderTokenURL: "https://www.strava.com/oauth/token",
		ProviderAuthURL:  "https://www.strava.com/oauth/authorize",
		RetryCap:         5,
		LogLevel:         "info",
	}
}

// Load builds a Config by layering defaults, an optional YAML file, and
// environment variables. Order of precedence (low -> high):
//  1. defaults
//  2. file (YAML) if CLUBSYNC_CONFIG is set
//  3. env (prefix CLUBSYNC_)
//
// It fails fast if required secrets are missing.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("CLUBSYNC_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// CLUBSYNC_PROVIDER_CLIENT_ID -> provider_client_id
	envProvider := env.Provider("CLUBSYNC_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "clubsync_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := *defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks required values. Missing secrets are configuration errors,
// fatal at startup and never retried.
func (c *Config) validate() error {
	var missing []string
	if c.ProviderClientID == "" {
		missing = append(missing, "provider_client_id")
	}
	if c.ProviderClientSecret == "" {
		missing = append(missing, "provider_client_secret")
	}
	if c.ProviderVerifyToken == "" {
		missing = append(missing, "provider_verify_token")
	}
	if c.TokenSecret == "" {
		missing = append(missing, "token_secret")
	}
	if c.InternalAPIKey == "" {
		missing = append(missing, "internal_api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}

	key, err := hex.DecodeString(c.TokenSecret)
	if err != nil {
		return fmt.Errorf("token_secret must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("token_secret must decode to 32 bytes, got %d", len(key))
	}

	return nil
}

// TokenKey returns the decoded 32-byte token encryption key.
// Only valid after a successful Load.
func (c *Config) TokenKey() []byte {
	key, _ := hex.DecodeString(c.TokenSecret)
	return key
}
