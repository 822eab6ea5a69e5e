package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
	"github.com/maltedev/queenbooks-stock/internal/stock"
)

type Config struct {
	Server   ServerConfig
	Site     SiteConfig
	Browser  BrowserConfig
	Probe    ProbeConfig
	Auth     AuthConfig
	Session  SessionConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Consumer ConsumerConfig
	Snapshot SnapshotConfig
	Cache    CacheConfig
	Watch    WatchConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type SiteConfig struct {
	BaseURL     string
	ProductPath string
	LoginPath   string
	Email       string
	Password    string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ExecutablePath string
}

type ProbeConfig struct {
	SentinelQuantity  int
	NavigationTimeout time.Duration
	MessageTimeout    time.Duration
	Timeout           time.Duration
	InterRequestDelay time.Duration
	AdaptivePacing    bool
	MaxBatch          int
}

type AuthConfig struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	LoginTimeout time.Duration
}

type SessionConfig struct {
	Store string
	File  string
	TTL   time.Duration
	Key   string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type ConsumerConfig struct {
	Group string
	Name  string
	Block time.Duration
}

type SnapshotConfig struct {
	Dir string
}

type CacheConfig struct {
	TTL  time.Duration
	Size int
}

type WatchConfig struct {
	IDs      []string
	Schedule string
	Timezone string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Minute),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Site: SiteConfig{
			BaseURL:     getEnvOrDefault("SITE_BASE_URL", "https://www.queenbooks.com.br"),
			ProductPath: getEnvOrDefault("SITE_PRODUCT_PATH", "/produtos/"),
			LoginPath:   getEnvOrDefault("SITE_LOGIN_PATH", "/entrar"),
			Email:       os.Getenv("QUEENBOOKS_EMAIL"),
			Password:    os.Getenv("QUEENBOOKS_PASSWORD"),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1366),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 768),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Sao_Paulo"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "pt-BR"),
			ExecutablePath: os.Getenv("BROWSER_EXECUTABLE_PATH"),
		},
		Probe: ProbeConfig{
			SentinelQuantity:  getIntOrDefault("PROBE_SENTINEL_QUANTITY", 9999999),
			NavigationTimeout: getDurationOrDefault("PROBE_NAVIGATION_TIMEOUT", 30*time.Second),
			MessageTimeout:    getDurationOrDefault("PROBE_MESSAGE_TIMEOUT", 5*time.Second),
			Timeout:           getDurationOrDefault("PROBE_TIMEOUT", 90*time.Second),
			InterRequestDelay: getDurationOrDefault("PROBE_INTER_REQUEST_DELAY", 2*time.Second),
			AdaptivePacing:    getBoolOrDefault("PROBE_ADAPTIVE_PACING", false),
			MaxBatch:          getIntOrDefault("PROBE_MAX_BATCH", 10),
		},
		Auth: AuthConfig{
			MaxAttempts:  getIntOrDefault("AUTH_MAX_ATTEMPTS", 3),
			RetryDelay:   getDurationOrDefault("AUTH_RETRY_DELAY", 2*time.Second),
			LoginTimeout: getDurationOrDefault("AUTH_LOGIN_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			Store: getEnvOrDefault("SESSION_STORE", "file"),
			File:  getEnvOrDefault("SESSION_FILE", "data/session.json"),
			TTL:   getDurationOrDefault("SESSION_TTL", 24*time.Hour),
			Key:   getEnvOrDefault("SESSION_REDIS_KEY", "queenbooks:session"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "queenbooks_stock"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Consumer: ConsumerConfig{
			Group: getEnvOrDefault("CONSUMER_GROUP", "stock-consumer-group"),
			Name:  getEnvOrDefault("CONSUMER_NAME", "consumer-1"),
			Block: getDurationOrDefault("CONSUMER_BLOCK", 5*time.Second),
		},
		Snapshot: SnapshotConfig{
			Dir: getEnvOrDefault("SNAPSHOT_DIR", "data/snapshots"),
		},
		Cache: CacheConfig{
			TTL:  getDurationOrDefault("CACHE_TTL", 5*time.Minute),
			Size: getIntOrDefault("CACHE_SIZE", 256),
		},
		Watch: WatchConfig{
			IDs:      getStringSliceOrDefault("WATCH_IDS", nil),
			Schedule: getEnvOrDefault("WATCH_SCHEDULE", "0 */6 * * *"),
			Timezone: getEnvOrDefault("WATCH_TIMEZONE", "America/Sao_Paulo"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Site.Email == "" || c.Site.Password == "" {
		return fmt.Errorf("QUEENBOOKS_EMAIL and QUEENBOOKS_PASSWORD are required")
	}

	if c.Probe.MaxBatch < 1 {
		return fmt.Errorf("PROBE_MAX_BATCH must be at least 1")
	}

	if c.Probe.SentinelQuantity < 1000 {
		return fmt.Errorf("PROBE_SENTINEL_QUANTITY must be far above any real stock, got %d", c.Probe.SentinelQuantity)
	}

	if c.Auth.MaxAttempts < 1 {
		return fmt.Errorf("AUTH_MAX_ATTEMPTS must be at least 1")
	}

	switch c.Session.Store {
	case "none", "file", "redis":
	default:
		return fmt.Errorf("SESSION_STORE must be one of none, file, redis")
	}

	if c.Probe.InterRequestDelay < 0 {
		return fmt.Errorf("PROBE_INTER_REQUEST_DELAY cannot be negative")
	}

	return nil
}

// BrowserOptions maps the browser section onto driver options.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ExecutablePath = c.Browser.ExecutablePath
	return opts
}

// StockConfig maps site, probe and auth settings onto the checker config.
// Store, Metrics and Logger are left for the caller to wire.
func (c *Config) StockConfig() stock.Config {
	cfg := stock.DefaultConfig()
	cfg.Site = stock.Site{
		BaseURL:     c.Site.BaseURL,
		ProductPath: c.Site.ProductPath,
		LoginPath:   c.Site.LoginPath,
	}
	cfg.Credentials = stock.Credentials{Email: c.Site.Email, Password: c.Site.Password}
	cfg.SentinelQuantity = c.Probe.SentinelQuantity
	cfg.NavigationTimeout = c.Probe.NavigationTimeout
	cfg.MessageTimeout = c.Probe.MessageTimeout
	cfg.ProbeTimeout = c.Probe.Timeout
	cfg.InterRequestDelay = c.Probe.InterRequestDelay
	cfg.AdaptivePacing = c.Probe.AdaptivePacing
	cfg.MaxBatchSize = c.Probe.MaxBatch
	cfg.MaxLoginAttempts = c.Auth.MaxAttempts
	cfg.LoginRetryDelay = c.Auth.RetryDelay
	cfg.LoginTimeout = c.Auth.LoginTimeout
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
