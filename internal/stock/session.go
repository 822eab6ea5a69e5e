package stock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// AuthState is the position of a Session in the login state machine.
type AuthState string

const (
	StateUnauthenticated AuthState = "unauthenticated"
	StateLoginInProgress AuthState = "login_in_progress"
	StateAuthenticated   AuthState = "authenticated"
	StateLoginFailed     AuthState = "login_failed"
)

// SessionState is a snapshot of a Session.
type SessionState struct {
	State           AuthState `json:"state"`
	IsAuthenticated bool      `json:"is_authenticated"`
	LoginAttempts   int       `json:"login_attempts"`
	LastError       string    `json:"last_error,omitempty"`
}

// Session keeps one driver logged in. It lives exactly as long as the
// driver it wraps.
type Session struct {
	driver  browser.Driver
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	state    SessionState
	lastErr  error
	retries  int
	restored bool

	// hadSession is set once the browser has held session cookies, either
	// restored or from a successful login.
	hadSession bool
}

func NewSession(driver browser.Driver, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		driver:  driver,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "session"),
		metrics: cfg.Metrics,
		state:   SessionState{State: StateUnauthenticated},
	}
}

// State returns a snapshot of the session.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Grant allows one more login round after a failed one. Callers grant it
// once per external request.
func (s *Session) Grant() {
	s.mu.Lock()
	s.retries = 1
	s.mu.Unlock()
}

// Invalidate marks the session as logged out, typically because the
// unauthenticated buy button showed up again.
func (s *Session) Invalidate(reason string) {
	s.mu.Lock()
	s.state.State = StateUnauthenticated
	s.state.IsAuthenticated = false
	s.state.LastError = reason
	s.mu.Unlock()

	s.metrics.IncExpiration()
	s.logger.Warn("session invalidated", "reason", reason)
}

// Reset drops every cookie, in the browser and in the store, and returns
// the session to Unauthenticated.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.driver.ClearCookies(ctx); err != nil {
		return driverError("clear cookies", err)
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Clear(ctx); err != nil {
			s.logger.Warn("failed to clear stored session", "error", err)
		}
	}

	s.mu.Lock()
	s.state = SessionState{State: StateUnauthenticated}
	s.lastErr = nil
	s.restored = true
	s.hadSession = false
	s.mu.Unlock()

	s.logger.Info("session cleared")
	return nil
}

// EnsureAuthenticated logs in unless the session already is. hint is a
// product id whose page hosts the login button; it may be empty.
//
// A round makes at most MaxLoginAttempts attempts. After a failed round the
// session stays in LoginFailed and only retries once per Grant.
func (s *Session) EnsureAuthenticated(ctx context.Context, hint string) error {
	if err := s.begin(); err != nil {
		return err
	}
	if s.isAuthenticated() {
		return nil
	}

	if err := s.restore(ctx); err != nil {
		return s.failRound(err)
	}

	s.setState(StateLoginInProgress)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxLoginAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, s.cfg.LoginRetryDelay); err != nil {
				return s.failRound(err)
			}
		}

		s.countAttempt()
		err := s.login(ctx, hint)
		if err == nil {
			s.metrics.IncLogin("success")
			s.succeed()
			s.persist(ctx)
			s.logger.Info("authenticated", "attempt", attempt)
			return nil
		}

		kind := KindOf(err)
		s.metrics.IncLogin(string(kind))
		s.logger.Warn("login attempt failed",
			"attempt", attempt,
			"max_attempts", s.cfg.MaxLoginAttempts,
			"kind", kind,
			"error", err)

		if kind == KindDriverFatal || ctx.Err() != nil {
			return s.failRound(err)
		}
		lastErr = err
	}

	return s.failRound(&Error{Kind: KindRetryBudgetExhausted, Op: "login", Err: lastErr})
}

// begin decides whether a login round may start from the current state.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.State != StateLoginFailed {
		return nil
	}
	if s.retries == 0 {
		return s.lastErr
	}
	s.retries--
	s.state.State = StateUnauthenticated
	return nil
}

func (s *Session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.State == StateAuthenticated
}

func (s *Session) setState(state AuthState) {
	s.mu.Lock()
	s.state.State = state
	if state == StateLoginInProgress {
		s.state.LoginAttempts = 0
	}
	s.mu.Unlock()
}

func (s *Session) countAttempt() {
	s.mu.Lock()
	s.state.LoginAttempts++
	s.mu.Unlock()
}

func (s *Session) succeed() {
	s.mu.Lock()
	s.state.State = StateAuthenticated
	s.state.IsAuthenticated = true
	s.state.LastError = ""
	s.lastErr = nil
	s.hadSession = true
	s.mu.Unlock()
}

func (s *Session) sessionSeen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hadSession
}

func (s *Session) failRound(err error) error {
	err = driverError("login", err)

	s.mu.Lock()
	s.state.State = StateLoginFailed
	s.state.IsAuthenticated = false
	s.state.LastError = err.Error()
	s.lastErr = err
	s.mu.Unlock()

	return err
}

// restore loads persisted cookies into the browser the first time a login
// is needed. A broken store is logged and ignored.
func (s *Session) restore(ctx context.Context) error {
	s.mu.Lock()
	done := s.restored
	s.restored = true
	s.mu.Unlock()

	if done || s.cfg.Store == nil {
		return nil
	}

	cookies, err := s.cfg.Store.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load stored session", "error", err)
		return nil
	}
	if len(cookies) == 0 {
		return nil
	}
	if err := s.driver.SetCookies(ctx, cookies); err != nil {
		if browser.IsFatal(err) {
			return err
		}
		s.logger.Warn("failed to restore cookies", "error", err)
		return nil
	}

	s.mu.Lock()
	s.hadSession = true
	s.mu.Unlock()

	s.logger.Info("restored stored session", "cookies", len(cookies))
	return nil
}

func (s *Session) persist(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	cookies, err := s.driver.Cookies(ctx)
	if err != nil {
		s.logger.Warn("failed to read cookies", "error", err)
		return
	}
	if err := s.cfg.Store.Save(ctx, cookies); err != nil {
		s.logger.Warn("failed to store session", "error", err)
	}
}

// login runs one attempt of the click-through login flow.
func (s *Session) login(ctx context.Context, hint string) error {
	site := s.cfg.Site
	sel := s.cfg.Selectors

	if hint != "" {
		err := s.driver.Navigate(ctx, site.ProductURL(hint), s.cfg.NavigationTimeout)
		if err != nil {
			if browser.IsFatal(err) || ctx.Err() != nil {
				return driverError("open landing page", err)
			}
			// A broken product page must not cost the login; verify on
			// the home page instead.
			s.logger.Debug("landing page failed, opening login page directly", "product_id", hint, "error", err)
			hint = ""
		}
	}

	if hint == "" {
		if err := s.driver.Navigate(ctx, site.LoginURL(), s.cfg.NavigationTimeout); err != nil {
			return driverError("open login page", err)
		}
	} else {
		button, found, err := sel.LoginAffordance.Locate(ctx, s.driver)
		if err != nil {
			return driverError("find login button", err)
		}
		switch {
		case found:
			if err := s.openLoginForm(ctx, button); err != nil {
				return err
			}
		case s.sessionSeen():
			// Existing cookies already carry a live session.
			return nil
		default:
			if err := s.driver.Navigate(ctx, site.LoginURL(), s.cfg.NavigationTimeout); err != nil {
				return driverError("open login page", err)
			}
		}
	}

	email, found, err := sel.EmailField.Locate(ctx, s.driver)
	if err != nil {
		return driverError("find email field", err)
	}
	if !found {
		return &Error{Kind: KindCredentialFieldsNotFound, Op: "login", Err: errors.New("email field not found")}
	}
	password, found, err := sel.PasswordField.Locate(ctx, s.driver)
	if err != nil {
		return driverError("find password field", err)
	}
	if !found {
		return &Error{Kind: KindCredentialFieldsNotFound, Op: "login", Err: errors.New("password field not found")}
	}

	if err := s.driver.Fill(ctx, email.Selector, s.cfg.Credentials.Email); err != nil {
		return driverError("fill email", err)
	}
	if err := s.driver.Fill(ctx, password.Selector, s.cfg.Credentials.Password); err != nil {
		return driverError("fill password", err)
	}
	if err := s.driver.Press(ctx, password.Selector, "Enter"); err != nil {
		return driverError("submit login", err)
	}

	leftLogin := func(u string) bool { return !site.IsLoginPage(u) }
	if err := s.driver.WaitForURL(ctx, leftLogin, s.cfg.LoginTimeout); err != nil {
		if browser.IsFatal(err) || ctx.Err() != nil {
			return driverError("wait for login redirect", err)
		}
		return &Error{Kind: KindCredentialsRejected, Op: "login", Err: errors.New("still on login page after submit")}
	}

	return s.verify(ctx, hint)
}

// openLoginForm clicks the buy button and waits for the login redirect,
// falling back to the login URL when the click goes nowhere.
func (s *Session) openLoginForm(ctx context.Context, button Strategy) error {
	err := s.driver.Click(ctx, button.Selector)
	if err == nil {
		err = s.driver.WaitForURL(ctx, s.cfg.Site.IsLoginPage, s.cfg.LoginTimeout)
	}
	if err == nil {
		return nil
	}
	if browser.IsFatal(err) || ctx.Err() != nil {
		return driverError("open login form", err)
	}

	s.logger.Debug("login button did not redirect, opening login page directly", "button", button.Name, "error", err)
	if err := s.driver.Navigate(ctx, s.cfg.Site.LoginURL(), s.cfg.NavigationTimeout); err != nil {
		return driverError("open login page", err)
	}
	return nil
}

// verify re-opens a page and checks that the unauthenticated buy button is
// gone. Without a hint only the home page can be checked.
func (s *Session) verify(ctx context.Context, hint string) error {
	target := s.cfg.Site.BaseURL
	if hint != "" {
		target = s.cfg.Site.ProductURL(hint)
	}
	if err := s.driver.Navigate(ctx, target, s.cfg.NavigationTimeout); err != nil {
		return driverError("verify login", err)
	}

	_, found, err := s.cfg.Selectors.LoginAffordance.Locate(ctx, s.driver)
	if err != nil {
		return driverError("verify login", err)
	}
	if found {
		return &Error{Kind: KindCredentialsRejected, Op: "login", Err: errors.New("buy button still requires login")}
	}
	return nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
