package stock

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// fakeProduct is one scripted product page.
type fakeProduct struct {
	title     string
	price     string
	stock     int
	hasQty    bool
	hasBuy    bool
	failLoad  bool
	fatal     bool
	message   string
	noMessage bool
	capsInput bool
}

func purchasable(title string, stock int) *fakeProduct {
	return &fakeProduct{title: title, price: "R$ 149,90 info_outline", stock: stock, hasQty: true, hasBuy: true}
}

// fakeSite is an in-memory browser.Driver that behaves like the bookstore:
// a login button on product pages while logged out, a login form, and a
// cart that rejects oversized quantities with the real stock count.
type fakeSite struct {
	mu sync.Mutex

	site     Site
	sel      Selectors
	products map[string]*fakeProduct

	loggedIn           bool
	noCredentialFields bool
	rejectCredentials  bool
	buttonNoRedirect   bool
	expireOn           string
	expired            bool
	missing            map[string]bool

	url            string
	productID      string
	onLogin        bool
	qtyValue       string
	messagePending bool
	messageShown   bool
	cookies        []browser.Cookie
	closed         bool

	navigations map[string]int
	buttonClick int
	submits     int
	resets      int
}

func newFakeSite() *fakeSite {
	cfg := DefaultConfig()
	return &fakeSite{
		site:        cfg.Site,
		sel:         cfg.Selectors,
		products:    make(map[string]*fakeProduct),
		missing:     make(map[string]bool),
		navigations: make(map[string]int),
	}
}

func (f *fakeSite) visits(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.navigations[f.site.ProductURL(productID)]
}

func (f *fakeSite) product() *fakeProduct {
	if f.productID == "" {
		return nil
	}
	p := f.products[f.productID]
	if p == nil || p.failLoad {
		return nil
	}
	return p
}

func (f *fakeSite) Navigate(ctx context.Context, url string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return browser.ErrDisconnected
	}

	f.navigations[url]++
	f.url = url
	f.productID = ""
	f.onLogin = false
	f.qtyValue = ""
	f.messagePending = false
	f.messageShown = false

	switch {
	case url == f.site.LoginURL():
		f.onLogin = true
	case strings.HasPrefix(url, f.site.ProductURL("")):
		id := strings.TrimPrefix(url, f.site.ProductURL(""))
		p := f.products[id]
		if p != nil && p.fatal {
			f.closed = true
			return fmt.Errorf("navigate %s: %w", url, browser.ErrDisconnected)
		}
		f.productID = id
		if p == nil || p.failLoad {
			return fmt.Errorf("navigate %s: %w", url, browser.ErrTimeout)
		}
		if id == f.expireOn && !f.expired && f.loggedIn {
			f.expired = true
			f.loggedIn = false
		}
	}
	return nil
}

func (f *fakeSite) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakeSite) Exists(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.closed {
		return false, browser.ErrDisconnected
	}
	if f.missing[selector] {
		return false, nil
	}

	p := f.product()
	switch {
	case contains(f.sel.LoginAffordance, selector):
		return p != nil && !f.loggedIn, nil
	case contains(f.sel.EmailField, selector), contains(f.sel.PasswordField, selector):
		return f.onLogin && !f.noCredentialFields, nil
	case contains(f.sel.QuantityField, selector):
		return p != nil && f.loggedIn && p.hasQty, nil
	case contains(f.sel.PurchaseButton, selector):
		return p != nil && f.loggedIn && p.hasBuy, nil
	}
	return false, nil
}

func (f *fakeSite) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case contains(f.sel.LoginAffordance, selector):
		f.buttonClick++
		if !f.buttonNoRedirect {
			f.url = f.site.LoginURL()
			f.productID = ""
			f.onLogin = true
		}
		return nil
	case contains(f.sel.PurchaseButton, selector):
		if f.qtyValue != "" {
			p := f.product()
			f.messagePending = p != nil && !p.noMessage && !p.capsInput
		}
		return nil
	}
	return browser.ErrNotFound
}

func (f *fakeSite) Fill(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if contains(f.sel.QuantityField, selector) {
		f.qtyValue = text
		if p := f.product(); p != nil && p.capsInput {
			f.qtyValue = "1"
		}
	}
	return nil
}

func (f *fakeSite) Press(ctx context.Context, selector, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if key != "Enter" || !f.onLogin {
		return nil
	}
	f.submits++
	if f.rejectCredentials {
		return nil
	}
	f.loggedIn = true
	f.cookies = []browser.Cookie{{Name: "session", Value: "token", Domain: ".queenbooks.com.br", Path: "/"}}
	f.onLogin = false
	f.url = f.site.BaseURL + "/"
	return nil
}

// Evaluate answers the quantity read-back script only.
func (f *fakeSite) Evaluate(ctx context.Context, script string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, browser.ErrDisconnected
	}
	if !strings.Contains(script, ".value") || f.qtyValue == "" {
		return nil, nil
	}
	return f.qtyValue, nil
}

// WaitForSelector renders a pending validation message, so a check that
// never waits properly never sees it. Like playwright, it rejects a
// selector list with an engine prefix in any part.
func (f *fakeSite) WaitForSelector(ctx context.Context, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := checkSelectorList(selector); err != nil {
		return err
	}
	if f.messagePending {
		f.messageShown = true
		return nil
	}
	return browser.ErrTimeout
}

var selectorEngines = []string{"text=", "css=", "xpath=", "id=", "data-testid=", "role=", "internal:", "//"}

func checkSelectorList(selector string) error {
	parts := strings.Split(selector, ",")
	if len(parts) == 1 {
		return nil
	}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		for _, engine := range selectorEngines {
			if strings.HasPrefix(part, engine) {
				return fmt.Errorf("unexpected token in selector %q", selector)
			}
		}
	}
	return nil
}

func (f *fakeSite) WaitForURL(ctx context.Context, match func(string) bool, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if match(f.url) {
		return nil
	}
	return browser.ErrTimeout
}

func (f *fakeSite) Content(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", browser.ErrDisconnected
	}
	p := f.product()
	if p == nil {
		return "<html><body></body></html>", nil
	}

	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, `<h1 class="ProductName__title">%s</h1>`, p.title)
	fmt.Fprintf(&b, `<h3 class="AddToCartContainer__price">%s</h3>`, p.price)
	if f.messageShown {
		msg := p.message
		if msg == "" {
			msg = fmt.Sprintf("Quantidade indisponível. Apenas %d disponíveis para compra", p.stock)
		}
		fmt.Fprintf(&b, `<div class="AddToCartError__container"><p class="AddToCartError__message">%s</p></div>`, msg)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (f *fakeSite) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.Cookie(nil), f.cookies...), nil
}

func (f *fakeSite) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cookies = append(f.cookies, cookies...)
	for _, c := range cookies {
		if c.Name == "session" {
			f.loggedIn = true
		}
	}
	return nil
}

func (f *fakeSite) ClearCookies(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = nil
	f.loggedIn = false
	return nil
}

func (f *fakeSite) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.url, f.productID, f.onLogin = "", "", false
	return nil
}

func (f *fakeSite) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func contains(c Chain, selector string) bool {
	for _, s := range c {
		if s.Selector == selector {
			return true
		}
	}
	return false
}

// memStore is an in-memory CookieStore.
type memStore struct {
	mu      sync.Mutex
	cookies []browser.Cookie
	saves   int
	clears  int
}

func (m *memStore) Load(ctx context.Context) ([]browser.Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]browser.Cookie(nil), m.cookies...), nil
}

func (m *memStore) Save(ctx context.Context, cookies []browser.Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookies = append([]browser.Cookie(nil), cookies...)
	m.saves++
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookies = nil
	m.clears++
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Credentials = Credentials{Email: "buyer@example.com", Password: "secret"}
	cfg.LoginRetryDelay = 0
	cfg.InterRequestDelay = 0
	cfg.NavigationTimeout = time.Second
	cfg.MessageTimeout = time.Second
	cfg.ProbeTimeout = 5 * time.Second
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}
