package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

func TestSession_LoginThroughBuyButton(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	store := &memStore{}
	cfg := testConfig()
	cfg.Store = store

	s := NewSession(site, cfg)
	require.NoError(t, s.EnsureAuthenticated(context.Background(), "P1"))

	state := s.State()
	assert.Equal(t, StateAuthenticated, state.State)
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, 1, state.LoginAttempts)
	assert.Equal(t, 1, site.buttonClick)
	assert.Equal(t, 1, site.submits)
	assert.Equal(t, 1, store.saves)
	require.Len(t, store.cookies, 1)
	assert.Equal(t, "session", store.cookies[0].Name)
}

func TestSession_AlreadyAuthenticatedIsNoop(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	s := NewSession(site, testConfig())

	require.NoError(t, s.EnsureAuthenticated(context.Background(), "P1"))
	require.NoError(t, s.EnsureAuthenticated(context.Background(), "P1"))

	assert.Equal(t, 1, site.submits)
	assert.Equal(t, 2, site.visits("P1"))
}

func TestSession_RetryBudgetWhenFieldsMissing(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	site.noCredentialFields = true

	s := NewSession(site, testConfig())
	err := s.EnsureAuthenticated(context.Background(), "P1")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.ErrorIs(t, err, ErrCredentialFieldsNotFound)
	assert.Equal(t, KindRetryBudgetExhausted, KindOf(err))
	assert.Equal(t, 3, site.buttonClick)
	assert.Equal(t, 0, site.submits)

	state := s.State()
	assert.Equal(t, StateLoginFailed, state.State)
	assert.False(t, state.IsAuthenticated)
	assert.Equal(t, 3, state.LoginAttempts)
	assert.NotEmpty(t, state.LastError)
}

func TestSession_CustomRetryBudget(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	site.noCredentialFields = true
	cfg := testConfig()
	cfg.MaxLoginAttempts = 5

	s := NewSession(site, cfg)
	err := s.EnsureAuthenticated(context.Background(), "P1")

	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.Equal(t, 5, site.buttonClick)
}

func TestSession_RejectedCredentials(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	site.rejectCredentials = true

	s := NewSession(site, testConfig())
	err := s.EnsureAuthenticated(context.Background(), "P1")

	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.ErrorIs(t, err, ErrCredentialsRejected)
	assert.Equal(t, 3, site.submits)
}

func TestSession_FailedRoundRetriesOncePerGrant(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	site.noCredentialFields = true

	s := NewSession(site, testConfig())
	ctx := context.Background()

	require.Error(t, s.EnsureAuthenticated(ctx, "P1"))
	assert.Equal(t, 3, site.buttonClick)

	// No grant: the stored failure is returned without touching the site.
	err := s.EnsureAuthenticated(ctx, "P1")
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.Equal(t, 3, site.buttonClick)

	s.Grant()
	require.Error(t, s.EnsureAuthenticated(ctx, "P1"))
	assert.Equal(t, 6, site.buttonClick)

	require.Error(t, s.EnsureAuthenticated(ctx, "P1"))
	assert.Equal(t, 6, site.buttonClick)
}

func TestSession_GrantAfterFixRecovers(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	site.noCredentialFields = true

	s := NewSession(site, testConfig())
	ctx := context.Background()
	require.Error(t, s.EnsureAuthenticated(ctx, "P1"))

	site.noCredentialFields = false
	s.Grant()
	require.NoError(t, s.EnsureAuthenticated(ctx, "P1"))
	assert.Equal(t, StateAuthenticated, s.State().State)
}

func TestSession_FallsBackToLoginURL(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	site.buttonNoRedirect = true

	s := NewSession(site, testConfig())
	require.NoError(t, s.EnsureAuthenticated(context.Background(), "P1"))

	assert.Equal(t, 1, site.navigations[site.site.LoginURL()])
	assert.Equal(t, 1, site.submits)
}

func TestSession_BrokenLandingPageUsesLoginURL(t *testing.T) {
	site := newFakeSite()
	site.products["P9"] = &fakeProduct{failLoad: true}

	s := NewSession(site, testConfig())
	require.NoError(t, s.EnsureAuthenticated(context.Background(), "P9"))

	assert.Equal(t, StateAuthenticated, s.State().State)
	assert.Equal(t, 1, site.visits("P9"))
	assert.Equal(t, 1, site.navigations[site.site.LoginURL()])
	assert.Equal(t, 1, site.navigations[site.site.BaseURL])
	assert.Equal(t, 1, site.submits)
}

func TestSession_LoginWithoutHint(t *testing.T) {
	site := newFakeSite()
	s := NewSession(site, testConfig())

	require.NoError(t, s.EnsureAuthenticated(context.Background(), ""))

	assert.Equal(t, 1, site.navigations[site.site.LoginURL()])
	assert.Equal(t, 0, site.buttonClick)
	assert.Equal(t, 1, site.submits)
}

func TestSession_RestoresStoredCookies(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	store := &memStore{cookies: []browser.Cookie{{Name: "session", Value: "stored"}}}
	cfg := testConfig()
	cfg.Store = store

	s := NewSession(site, cfg)
	require.NoError(t, s.EnsureAuthenticated(context.Background(), "P1"))

	assert.Equal(t, 0, site.submits)
	assert.Equal(t, 0, site.buttonClick)
	assert.True(t, s.State().IsAuthenticated)
}

func TestSession_InvalidateForcesLogin(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	s := NewSession(site, testConfig())
	ctx := context.Background()

	require.NoError(t, s.EnsureAuthenticated(ctx, "P1"))
	site.loggedIn = false

	s.Invalidate("test")
	assert.Equal(t, StateUnauthenticated, s.State().State)
	assert.Equal(t, "test", s.State().LastError)

	require.NoError(t, s.EnsureAuthenticated(ctx, "P1"))
	assert.Equal(t, 2, site.submits)
}

func TestSession_ResetClearsCookiesAndStore(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	store := &memStore{}
	cfg := testConfig()
	cfg.Store = store

	s := NewSession(site, cfg)
	ctx := context.Background()
	require.NoError(t, s.EnsureAuthenticated(ctx, "P1"))

	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, SessionState{State: StateUnauthenticated}, s.State())
	assert.Empty(t, site.cookies)
	assert.Equal(t, 1, store.clears)
	assert.Empty(t, store.cookies)
}

func TestSession_DriverFatalStopsImmediately(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	site.closed = true

	s := NewSession(site, testConfig())
	err := s.EnsureAuthenticated(context.Background(), "P1")

	assert.ErrorIs(t, err, ErrDriverFatal)
	assert.Equal(t, 1, s.State().LoginAttempts)
}

func TestSession_CancelledContext(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession(site, testConfig())
	err := s.EnsureAuthenticated(ctx, "P1")

	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, 1, s.State().LoginAttempts)
}
