package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const urlPollInterval = 250 * time.Millisecond

// PageDriver implements Driver on top of a single playwright page.
type PageDriver struct {
	browser *Browser
	page    playwright.Page
	timeout time.Duration
}

// Open launches a browser, creates its context and one page.
// The caller must Close the returned driver on every exit path.
func Open(opts *Options) (*PageDriver, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	b, err := New(opts)
	if err != nil {
		return nil, err
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, err
	}

	b.logger.Info("browser opened", "headless", opts.Headless, "locale", opts.Locale)

	return &PageDriver{
		browser: b,
		page:    page,
		timeout: opts.Timeout,
	}, nil
}

func (d *PageDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   millis(effectiveTimeout(ctx, timeout)),
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, classify(err))
	}
	return nil
}

func (d *PageDriver) CurrentURL() string {
	return d.page.URL()
}

func (d *PageDriver) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}

	count, err := d.page.Locator(selector).Count()
	if err != nil {
		return false, fmt.Errorf("query %q: %w", selector, classify(err))
	}
	return count > 0, nil
}

func (d *PageDriver) Click(ctx context.Context, selector string) error {
	loc, err := d.first(ctx, selector)
	if err != nil {
		return err
	}

	if err := loc.Click(playwright.LocatorClickOptions{
		Timeout: millis(effectiveTimeout(ctx, d.timeout)),
	}); err != nil {
		return fmt.Errorf("click %q: %w", selector, classify(err))
	}
	return nil
}

func (d *PageDriver) Fill(ctx context.Context, selector, text string) error {
	loc, err := d.first(ctx, selector)
	if err != nil {
		return err
	}

	if err := loc.Fill(text, playwright.LocatorFillOptions{
		Timeout: millis(effectiveTimeout(ctx, d.timeout)),
	}); err != nil {
		return fmt.Errorf("fill %q: %w", selector, classify(err))
	}
	return nil
}

func (d *PageDriver) Press(ctx context.Context, selector, key string) error {
	loc, err := d.first(ctx, selector)
	if err != nil {
		return err
	}

	if err := loc.Press(key, playwright.LocatorPressOptions{
		Timeout: millis(effectiveTimeout(ctx, d.timeout)),
	}); err != nil {
		return fmt.Errorf("press %s on %q: %w", key, selector, classify(err))
	}
	return nil
}

func (d *PageDriver) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	v, err := d.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", classify(err))
	}
	return v, nil
}

func (d *PageDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	err := d.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(effectiveTimeout(ctx, timeout)),
	})
	if err != nil {
		return fmt.Errorf("wait for %q: %w", selector, classify(err))
	}
	return nil
}

func (d *PageDriver) WaitForURL(ctx context.Context, match func(url string) bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()

	for {
		if d.page.IsClosed() {
			return ErrDisconnected
		}
		if match(d.page.URL()) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for url (last %s): %w", d.page.URL(), ctxErr(ctx))
		case <-ticker.C:
		}
	}
}

func (d *PageDriver) Content(ctx context.Context) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}

	html, err := d.page.Content()
	if err != nil {
		return "", fmt.Errorf("content: %w", classify(err))
	}
	return html, nil
}

func (d *PageDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	raw, err := d.browser.Context().Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", classify(err))
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (d *PageDriver) SetCookies(ctx context.Context, cookies []Cookie) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}

	opts := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			s := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &s
		}
		opts = append(opts, oc)
	}

	if err := d.browser.Context().AddCookies(opts); err != nil {
		return fmt.Errorf("restore cookies: %w", classify(err))
	}
	return nil
}

func (d *PageDriver) ClearCookies(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := d.browser.Context().ClearCookies(); err != nil {
		return fmt.Errorf("clear cookies: %w", classify(err))
	}
	return nil
}

func (d *PageDriver) Reset(ctx context.Context) error {
	if d.page != nil && !d.page.IsClosed() {
		if err := d.page.Close(); err != nil {
			d.browser.logger.Warn("failed to close page during reset", "error", err)
		}
	}

	page, err := d.browser.NewPage()
	if err != nil {
		return fmt.Errorf("reset page: %w", classify(err))
	}
	d.page = page
	d.browser.logger.Info("page recreated")
	return nil
}

func (d *PageDriver) Close() error {
	return d.browser.Close()
}

func (d *PageDriver) first(ctx context.Context, selector string) (playwright.Locator, error) {
	ok, err := d.Exists(ctx, selector)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%q: %w", selector, ErrNotFound)
	}
	return d.page.Locator(selector).First(), nil
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed), isDisconnectMessage(err.Error()):
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	default:
		return err
	}
}

func isDisconnectMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"target closed", "browser has been closed", "connection closed", "has been disconnected"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return nil
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
