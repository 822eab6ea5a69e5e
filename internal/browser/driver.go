package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a navigation, wait or element action runs
	// past its deadline.
	ErrTimeout = errors.New("browser: timeout")
	// ErrDisconnected is returned when the browser process, context or page
	// is gone. It is not recoverable without opening a new driver.
	ErrDisconnected = errors.New("browser: driver disconnected")
	// ErrNotFound is returned by element actions when the selector matches nothing.
	ErrNotFound = errors.New("browser: element not found")
)

// Cookie is a browser cookie detached from the automation library so it can
// be persisted and restored.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// Driver is the page automation surface the stock prober needs. A Driver
// owns exactly one page and is not safe for concurrent use.
type Driver interface {
	// Navigate loads url and waits for the network to settle.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	CurrentURL() string
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector, key string) error
	Evaluate(ctx context.Context, script string) (any, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// WaitForURL polls the current URL until match reports true.
	WaitForURL(ctx context.Context, match func(url string) bool, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	ClearCookies(ctx context.Context) error
	// Reset closes the current page and opens a fresh one in the same
	// browser context. Cookies survive.
	Reset(ctx context.Context) error
	Close() error
}

// IsFatal reports whether err means the driver can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDisconnected)
}

// effectiveTimeout returns the smaller of fallback and the time left on ctx.
func effectiveTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	left := time.Until(deadline)
	if left < fallback {
		if left < time.Millisecond {
			return time.Millisecond
		}
		return left
	}
	return fallback
}
