package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// DriverOpener starts a fresh browser page.
type DriverOpener func(ctx context.Context) (browser.Driver, error)

// Checker owns one driver and its session and serialises every request
// onto them. The driver is opened on first use and replaced after a fatal
// failure.
type Checker struct {
	open   DriverOpener
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	driver     browser.Driver
	session    *Session
	prober     *Prober
	aggregator *Aggregator

	// current mirrors session for readers that must not wait on mu.
	current      atomic.Pointer[Session]
	resetPending atomic.Bool
}

func NewChecker(open DriverOpener, cfg Config) *Checker {
	cfg = cfg.withDefaults()
	return &Checker{
		open:   open,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "checker"),
	}
}

// MaxBatchSize is the largest number of ids CheckBatch accepts.
func (c *Checker) MaxBatchSize() int {
	return c.cfg.MaxBatchSize
}

// Check probes a single product.
func (c *Checker) Check(ctx context.Context, productID string) (Result, error) {
	report, err := c.CheckBatch(ctx, []string{productID})
	if report == nil || len(report.Results) == 0 {
		return Result{}, err
	}
	return report.Results[0], err
}

// CheckBatch probes ids in order with the configured pacing.
func (c *Checker) CheckBatch(ctx context.Context, ids []string) (*BatchReport, error) {
	if len(ids) == 0 {
		return nil, ErrNoProducts
	}
	if len(ids) > c.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrBatchTooLarge, len(ids), c.cfg.MaxBatchSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resetPending.Swap(false) && c.session != nil {
		if err := c.session.Reset(ctx); err != nil {
			c.logger.Warn("deferred session clear failed, reopening browser", "error", err)
			c.releaseDriver()
		}
	}

	if err := c.ensureDriver(ctx); err != nil {
		return c.unreachable(ids, err), err
	}

	c.session.Grant()
	report, err := c.aggregator.RunBatch(ctx, ids, c.cfg.InterRequestDelay)
	if report != nil && report.Aborted {
		c.releaseDriver()
	}
	return report, err
}

// ClearSession forgets the login, both in the browser and in the store.
// While a batch runs only the store is cleared at once; the browser drops
// its cookies before the next batch starts.
func (c *Checker) ClearSession(ctx context.Context) error {
	if !c.mu.TryLock() {
		c.resetPending.Store(true)
		c.logger.Info("batch running, browser session will be cleared after it")
		return c.clearStore(ctx)
	}
	defer c.mu.Unlock()
	c.resetPending.Store(false)

	if c.session != nil {
		if err := c.session.Reset(ctx); err != nil {
			c.releaseDriver()
			return err
		}
		return nil
	}
	return c.clearStore(ctx)
}

func (c *Checker) clearStore(ctx context.Context) error {
	if c.cfg.Store == nil {
		return nil
	}
	if err := c.cfg.Store.Clear(ctx); err != nil {
		return fmt.Errorf("clear stored session: %w", err)
	}
	return nil
}

// SessionState reports the login state without waiting for a running
// batch; a checker without an open browser is unauthenticated.
func (c *Checker) SessionState() SessionState {
	s := c.current.Load()
	if s == nil {
		return SessionState{State: StateUnauthenticated}
	}
	return s.State()
}

// Close releases the browser.
func (c *Checker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseDriver()
}

func (c *Checker) ensureDriver(ctx context.Context) error {
	if c.driver != nil {
		return nil
	}

	d, err := c.open(ctx)
	if err != nil {
		return &Error{Kind: KindDriverFatal, Op: "open browser", Err: err}
	}

	c.driver = d
	c.session = NewSession(d, c.cfg)
	c.prober = NewProber(d, c.session, c.cfg)
	c.aggregator = NewAggregator(c.prober, c.cfg)
	c.current.Store(c.session)
	c.logger.Info("browser ready")
	return nil
}

func (c *Checker) releaseDriver() error {
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close()
	c.driver, c.session, c.prober, c.aggregator = nil, nil, nil, nil
	c.current.Store(nil)
	if err != nil {
		c.logger.Warn("failed to close browser", "error", err)
	}
	c.logger.Info("browser released")
	return err
}

func (c *Checker) unreachable(ids []string, err error) *BatchReport {
	now := time.Now().UTC()
	return &BatchReport{
		Results:    FailedResults(ids, KindDriverFatal, err.Error(), now),
		StartedAt:  now,
		FinishedAt: now,
		Aborted:    true,
	}
}
