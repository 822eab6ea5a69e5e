package stock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

type openerStub struct {
	sites []*fakeSite
	opens int
	err   error
}

func (o *openerStub) open(ctx context.Context) (browser.Driver, error) {
	if o.err != nil {
		return nil, o.err
	}
	site := o.sites[o.opens]
	o.opens++
	return site, nil
}

func TestChecker_Check(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 7)
	opener := &openerStub{sites: []*fakeSite{site}}

	c := NewChecker(opener.open, testConfig())
	defer c.Close()

	r, err := c.Check(context.Background(), "P1")

	require.NoError(t, err)
	require.NotNil(t, r.AvailableQuantity)
	assert.Equal(t, 7, *r.AvailableQuantity)
	assert.Equal(t, 1, opener.opens)
	assert.True(t, c.SessionState().IsAuthenticated)
}

func TestChecker_BrokenFirstPagesDoNotBlockLogin(t *testing.T) {
	site := newFakeSite()
	site.products["A300"] = &fakeProduct{failLoad: true}
	site.products["A301"] = &fakeProduct{failLoad: true}
	site.products["A100"] = purchasable("Primeiro", 13)
	opener := &openerStub{sites: []*fakeSite{site}}

	c := NewChecker(opener.open, testConfig())
	defer c.Close()

	report, err := c.CheckBatch(context.Background(), []string{"A300", "A301", "A100"})

	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, KindNavigationTimeout, report.Results[0].Error)
	assert.Equal(t, KindNavigationTimeout, report.Results[1].Error)

	a100 := report.Results[2]
	assert.Empty(t, a100.Error)
	require.NotNil(t, a100.AvailableQuantity)
	assert.Equal(t, 13, *a100.AvailableQuantity)
	assert.Equal(t, 1, site.submits)
	assert.Equal(t, StateAuthenticated, c.SessionState().State)
}

func TestChecker_ReusesDriverAcrossCalls(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 7)
	opener := &openerStub{sites: []*fakeSite{site}}

	c := NewChecker(opener.open, testConfig())
	defer c.Close()

	_, err := c.Check(context.Background(), "P1")
	require.NoError(t, err)
	_, err = c.Check(context.Background(), "P1")
	require.NoError(t, err)

	assert.Equal(t, 1, opener.opens)
	assert.Equal(t, 1, site.submits)
}

func TestChecker_ValidatesBatchSize(t *testing.T) {
	c := NewChecker((&openerStub{}).open, testConfig())

	_, err := c.CheckBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoProducts)

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = "P"
	}
	_, err = c.CheckBatch(context.Background(), ids)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Equal(t, 10, c.MaxBatchSize())
}

func TestChecker_ReopensAfterDriverFatal(t *testing.T) {
	first := newFakeSite()
	first.products["P1"] = &fakeProduct{fatal: true}
	second := newFakeSite()
	second.products["P1"] = purchasable("Livro", 2)
	opener := &openerStub{sites: []*fakeSite{first, second}}

	c := NewChecker(opener.open, testConfig())
	defer c.Close()

	r, err := c.Check(context.Background(), "P1")
	assert.True(t, IsDriverFatal(err))
	assert.Equal(t, KindDriverFatal, r.Error)
	assert.Equal(t, SessionState{State: StateUnauthenticated}, c.SessionState())

	r, err = c.Check(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, opener.opens)
	require.NotNil(t, r.AvailableQuantity)
	assert.Equal(t, 2, *r.AvailableQuantity)
}

func TestChecker_OpenFailure(t *testing.T) {
	opener := &openerStub{err: errors.New("playwright not installed")}
	c := NewChecker(opener.open, testConfig())

	report, err := c.CheckBatch(context.Background(), []string{"P1", "P2"})

	assert.True(t, IsDriverFatal(err))
	require.NotNil(t, report)
	assert.True(t, report.Aborted)
	assert.Equal(t, []string{"P1", "P2"}, resultIDs(report))
	for _, r := range report.Results {
		assert.Equal(t, KindDriverFatal, r.Error)
	}
}

func TestChecker_GrantsOneRetryPerCall(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 7)
	site.noCredentialFields = true
	opener := &openerStub{sites: []*fakeSite{site}}

	c := NewChecker(opener.open, testConfig())
	defer c.Close()

	r, err := c.Check(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, KindRetryBudgetExhausted, r.Error)
	assert.Equal(t, 3, site.buttonClick)

	site.noCredentialFields = false
	r, err = c.Check(context.Background(), "P1")
	require.NoError(t, err)
	assert.Empty(t, r.Error)
	assert.Equal(t, 4, site.buttonClick)
}

func TestChecker_ClearSession(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 7)
	store := &memStore{}
	cfg := testConfig()
	cfg.Store = store
	opener := &openerStub{sites: []*fakeSite{site}}

	c := NewChecker(opener.open, cfg)
	defer c.Close()

	_, err := c.Check(context.Background(), "P1")
	require.NoError(t, err)
	require.NotEmpty(t, store.cookies)

	require.NoError(t, c.ClearSession(context.Background()))
	assert.False(t, c.SessionState().IsAuthenticated)
	assert.Empty(t, store.cookies)

	_, err = c.Check(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, site.submits)
}

func TestChecker_ClearSessionWithoutBrowser(t *testing.T) {
	store := &memStore{cookies: []browser.Cookie{{Name: "session"}}}
	cfg := testConfig()
	cfg.Store = store

	c := NewChecker((&openerStub{}).open, cfg)
	require.NoError(t, c.ClearSession(context.Background()))
	assert.Equal(t, 1, store.clears)
}

// gatedSite holds its first navigation until release is closed.
type gatedSite struct {
	*fakeSite
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSite) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fakeSite.Navigate(ctx, url, timeout)
}

func TestChecker_StateAndClearDoNotWaitForBatch(t *testing.T) {
	site := newFakeSite()
	site.products["P1"] = purchasable("Livro", 7)
	gate := &gatedSite{fakeSite: site, entered: make(chan struct{}), release: make(chan struct{})}
	store := &memStore{}
	cfg := testConfig()
	cfg.Store = store

	c := NewChecker(func(ctx context.Context) (browser.Driver, error) { return gate, nil }, cfg)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Check(context.Background(), "P1")
		done <- err
	}()
	<-gate.entered

	state := make(chan SessionState, 1)
	go func() { state <- c.SessionState() }()
	select {
	case st := <-state:
		assert.Equal(t, StateLoginInProgress, st.State)
	case <-time.After(time.Second):
		t.Fatal("SessionState waited for the running batch")
	}

	cleared := make(chan error, 1)
	go func() { cleared <- c.ClearSession(context.Background()) }()
	select {
	case err := <-cleared:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ClearSession waited for the running batch")
	}
	assert.Equal(t, 1, store.clears)

	close(gate.release)
	require.NoError(t, <-done)
	assert.True(t, c.SessionState().IsAuthenticated)

	_, err := c.Check(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.clears, "deferred clear runs before the next batch")
	assert.Equal(t, 2, site.submits)
}
