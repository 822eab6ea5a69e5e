package stock

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// Site describes where product and login pages live.
type Site struct {
	BaseURL     string
	ProductPath string
	LoginPath   string
}

// ProductURL builds the detail page URL for a product id.
func (s Site) ProductURL(productID string) string {
	return strings.TrimRight(s.BaseURL, "/") + strings.TrimRight(s.ProductPath, "/") + "/" + url.PathEscape(productID)
}

func (s Site) LoginURL() string {
	return strings.TrimRight(s.BaseURL, "/") + s.LoginPath
}

// IsLoginPage reports whether u points at the login form.
func (s Site) IsLoginPage(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Path == "" {
		return strings.Contains(u, s.LoginPath)
	}
	return strings.HasPrefix(parsed.Path, s.LoginPath)
}

// Credentials are the account used for the login flow.
type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) valid() bool {
	return c.Email != "" && c.Password != ""
}

// CookieStore persists session cookies between process runs.
type CookieStore interface {
	Load(ctx context.Context) ([]browser.Cookie, error)
	Save(ctx context.Context, cookies []browser.Cookie) error
	Clear(ctx context.Context) error
}

// Config tunes the session, the probe and the batch loop.
type Config struct {
	Site        Site
	Credentials Credentials
	Selectors   Selectors

	SentinelQuantity  int
	NavigationTimeout time.Duration
	MessageTimeout    time.Duration
	ProbeTimeout      time.Duration
	LoginTimeout      time.Duration
	MaxLoginAttempts  int
	LoginRetryDelay   time.Duration
	InterRequestDelay time.Duration
	AdaptivePacing    bool
	MaxBatchSize      int

	Store   CookieStore
	Metrics *Metrics
	Logger  *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Site: Site{
			BaseURL:     "https://www.queenbooks.com.br",
			ProductPath: "/produtos",
			LoginPath:   "/entrar",
		},
		Selectors:         DefaultSelectors(),
		SentinelQuantity:  9999999,
		NavigationTimeout: 30 * time.Second,
		MessageTimeout:    5 * time.Second,
		ProbeTimeout:      90 * time.Second,
		LoginTimeout:      10 * time.Second,
		MaxLoginAttempts:  3,
		LoginRetryDelay:   2 * time.Second,
		InterRequestDelay: 2 * time.Second,
		MaxBatchSize:      10,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Site.BaseURL == "" {
		c.Site.BaseURL = d.Site.BaseURL
	}
	if c.Site.ProductPath == "" {
		c.Site.ProductPath = d.Site.ProductPath
	}
	if c.Site.LoginPath == "" {
		c.Site.LoginPath = d.Site.LoginPath
	}
	if len(c.Selectors.QuantityField) == 0 {
		c.Selectors = d.Selectors
	}
	if c.SentinelQuantity <= 0 {
		c.SentinelQuantity = d.SentinelQuantity
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = d.NavigationTimeout
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = d.MessageTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = d.LoginTimeout
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = d.MaxLoginAttempts
	}
	if c.LoginRetryDelay < 0 {
		c.LoginRetryDelay = 0
	}
	if c.InterRequestDelay < 0 {
		c.InterRequestDelay = 0
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the fields that have no sensible default.
func (c Config) Validate() error {
	if !c.Credentials.valid() {
		return fmt.Errorf("credentials are required")
	}
	if _, err := url.Parse(c.Site.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	return nil
}
