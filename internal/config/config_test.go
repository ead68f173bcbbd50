package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 4177, cfg.Port)
	require.Equal(t, "127.0.0.1", cfg.Bind)
	require.Equal(t, "scrum.db", cfg.DBPath)
	require.Equal(t, 300, cfg.RateLimitRPM)
	require.Equal(t, "info", cfg.LogLevel)
	require.True(t, cfg.StrictMode)
	require.False(t, cfg.AuthEnabled)
	require.Equal(t, "127.0.0.1:4177", cfg.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BIND", "0.0.0.0")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STRICT_MODE", "false")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("API_KEYS", "key-one, key-two ,")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "0.0.0.0", cfg.Bind)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.StrictMode)
	require.True(t, cfg.AuthEnabled)
	require.Equal(t, []string{"key-one", "key-two"}, cfg.APIKeys)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"empty bind", func(c *Config) { c.Bind = " " }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"negative rate limit", func(c *Config) { c.RateLimitRPM = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"auth without keys", func(c *Config) { c.AuthEnabled = true; c.APIKeys = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Port: 4177, Bind: "127.0.0.1", DBPath: "scrum.db",
				RateLimitRPM: 300, LogLevel: "info",
			}
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
