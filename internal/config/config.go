// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the fully resolved server configuration.
type Config struct {
	Port         int
	Bind         string
	RepoRoot     string
	DBPath       string
	RateLimitRPM int
	LogLevel     string
	StrictMode   bool
	AuthEnabled  bool
	APIKeys      []string

	MetricsEnabled bool
	WatcherEnabled bool
}

// Load resolves configuration from environment variables with defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 4177)
	v.SetDefault("BIND", "127.0.0.1")
	v.SetDefault("REPO_ROOT", "")
	v.SetDefault("DB_PATH", "scrum.db")
	v.SetDefault("RATE_LIMIT_RPM", 300)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STRICT_MODE", true)
	v.SetDefault("AUTH_ENABLED", false)
	v.SetDefault("API_KEYS", "")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("WATCHER_ENABLED", true)

	cfg := &Config{
		Port:           v.GetInt("PORT"),
		Bind:           v.GetString("BIND"),
		RepoRoot:       v.GetString("REPO_ROOT"),
		DBPath:         v.GetString("DB_PATH"),
		RateLimitRPM:   v.GetInt("RATE_LIMIT_RPM"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
		StrictMode:     v.GetBool("STRICT_MODE"),
		AuthEnabled:    v.GetBool("AUTH_ENABLED"),
		MetricsEnabled: v.GetBool("METRICS_ENABLED"),
		WatcherEnabled: v.GetBool("WATCHER_ENABLED"),
	}

	for _, key := range strings.Split(v.GetString("API_KEYS"), ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			cfg.APIKeys = append(cfg.APIKeys, key)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"fatal": true, "error": true, "warn": true, "info": true,
	"debug": true, "trace": true, "silent": true,
}

// Validate checks ranges and cross-field consistency.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if strings.TrimSpace(c.Bind) == "" {
		return fmt.Errorf("BIND must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative: %d", c.RateLimitRPM)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL %q is not one of fatal|error|warn|info|debug|trace|silent", c.LogLevel)
	}
	if c.AuthEnabled && len(c.APIKeys) == 0 {
		return fmt.Errorf("AUTH_ENABLED is set but API_KEYS is empty")
	}
	return nil
}

// Addr returns the bind address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}
