package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QUEENBOOKS_EMAIL", "buyer@example.com")
	t.Setenv("QUEENBOOKS_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://www.queenbooks.com.br", cfg.Site.BaseURL)
	assert.Equal(t, 9999999, cfg.Probe.SentinelQuantity)
	assert.Equal(t, 10, cfg.Probe.MaxBatch)
	assert.Equal(t, 2*time.Second, cfg.Probe.InterRequestDelay)
	assert.Equal(t, 3, cfg.Auth.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "pt-BR", cfg.Browser.Locale)
	assert.Empty(t, cfg.Watch.IDs)
	assert.Equal(t, "stock-consumer-group", cfg.Consumer.Group)
	assert.Equal(t, 5*time.Second, cfg.Consumer.Block)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUEENBOOKS_EMAIL", "buyer@example.com")
	t.Setenv("QUEENBOOKS_PASSWORD", "secret")
	t.Setenv("PROBE_MAX_BATCH", "5")
	t.Setenv("PROBE_INTER_REQUEST_DELAY", "500ms")
	t.Setenv("WATCH_IDS", " 177776045, ,209942088 ")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("BROWSER_HEADLESS", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Probe.MaxBatch)
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.InterRequestDelay)
	assert.Equal(t, []string{"177776045", "209942088"}, cfg.Watch.IDs)
	assert.Equal(t, "redis", cfg.Session.Store)
	assert.False(t, cfg.Browser.Headless)
}

func TestValidate(t *testing.T) {
	t.Setenv("QUEENBOOKS_EMAIL", "buyer@example.com")
	t.Setenv("QUEENBOOKS_PASSWORD", "secret")

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing credentials", func(c *Config) { c.Site.Password = "" }},
		{"zero batch", func(c *Config) { c.Probe.MaxBatch = 0 }},
		{"small sentinel", func(c *Config) { c.Probe.SentinelQuantity = 10 }},
		{"no attempts", func(c *Config) { c.Auth.MaxAttempts = 0 }},
		{"bad store", func(c *Config) { c.Session.Store = "memcached" }},
		{"negative delay", func(c *Config) { c.Probe.InterRequestDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStockConfig(t *testing.T) {
	t.Setenv("QUEENBOOKS_EMAIL", "buyer@example.com")
	t.Setenv("QUEENBOOKS_PASSWORD", "secret")
	t.Setenv("AUTH_MAX_ATTEMPTS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	sc := cfg.StockConfig()
	assert.Equal(t, "buyer@example.com", sc.Credentials.Email)
	assert.Equal(t, 4, sc.MaxLoginAttempts)
	assert.Equal(t, "https://www.queenbooks.com.br/produtos/177776045", sc.Site.ProductURL("177776045"))
	assert.Equal(t, "https://www.queenbooks.com.br/entrar", sc.Site.LoginURL())
	assert.NoError(t, sc.Validate())

	opts := cfg.BrowserOptions()
	assert.Equal(t, "America/Sao_Paulo", opts.TimezoneID)
}
