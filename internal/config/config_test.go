package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DatabaseURL:    "postgres://localhost/test",
		JWTSecret:      "secret",
		JobWorkers:     2,
		JobMaxAttempts: 3,
		AuthRate:       1,
		AuthBurst:      5,
		RateLimit: RateLimit{
			Backend: "memory", Default: 300, Admin: 1000, IP: 600,
			Burst: 50, AdminBurst: 150, IPBurst: 100,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"no workers", func(c *Config) { c.JobWorkers = 0 }, "JOB_WORKERS"},
		{"admin below default", func(c *Config) { c.RateLimit.Admin = 100 }, "ADMIN_RATE_LIMIT"},
		{"admin burst below burst", func(c *Config) { c.RateLimit.AdminBurst = 10 }, "ADMIN_BURST_LIMIT"},
		{"admin equal default", func(c *Config) { c.RateLimit.Admin = 300 }, ""},
		{"zero ip limit", func(c *Config) { c.RateLimit.IP = 0 }, "IP_RATE_LIMIT"},
		{"bad backend", func(c *Config) { c.RateLimit.Backend = "memcached" }, "RATE_LIMIT_BACKEND"},
		{"no auth burst", func(c *Config) { c.AuthBurst = 0 }, "AUTH_BURST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_RATE_LIMIT", "120")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.JWTSecret)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, 120, c.RateLimit.Default)
	assert.Equal(t, 1000, c.RateLimit.Admin)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.Origins())
}
