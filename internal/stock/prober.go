package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// Prober reads the available quantity of one product at a time by asking
// the cart for far more units than exist and parsing the rejection.
type Prober struct {
	driver  browser.Driver
	session *Session
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewProber(driver browser.Driver, session *Session, cfg Config) *Prober {
	cfg = cfg.withDefaults()
	return &Prober{
		driver:  driver,
		session: session,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "prober"),
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Probe never returns an error; every failure is folded into the Result.
func (p *Prober) Probe(ctx context.Context, productID string) Result {
	start := p.now()
	d := newDraft(productID)

	if err := p.run(ctx, d); err != nil {
		d.fail(ctx, err)
	}

	r := d.finish(p.now())
	p.metrics.ObserveProbe(r, p.now().Sub(start))

	logger := p.logger.With("product_id", productID, "outcome", r.Outcome)
	if q, ok := r.Quantity(); ok {
		logger = logger.With("quantity", q)
	}
	if r.Failed() {
		logger.Warn("probe finished with error", "kind", r.Error, "detail", r.ErrorDetail)
	} else {
		logger.Info("probe finished")
	}
	return r
}

// run walks the probe. A returned error ends the probe; soft failures are
// written to d and run returns nil.
func (p *Prober) run(ctx context.Context, d *draft) error {
	sel := p.cfg.Selectors

	if err := p.session.EnsureAuthenticated(ctx, d.id); err != nil {
		return err
	}

	navTimedOut, err := p.open(ctx, d)
	if err != nil {
		return err
	}

	expired, err := p.loggedOut(ctx)
	if err != nil {
		return err
	}
	if expired {
		p.session.Invalidate("buy button requires login on " + d.id)
		d.note("session expired, re-authenticated")
		if err := p.session.EnsureAuthenticated(ctx, d.id); err != nil {
			return err
		}
		if navTimedOut, err = p.open(ctx, d); err != nil {
			return err
		}
		if expired, err = p.loggedOut(ctx); err != nil {
			return err
		}
		if expired {
			return &Error{Kind: KindCredentialsRejected, Op: "probe", Err: errors.New("still logged out after re-authentication")}
		}
	}

	p.readFacts(ctx, d)

	qty, found, err := sel.QuantityField.Locate(ctx, p.driver)
	if err != nil {
		return driverError("find quantity field", err)
	}
	if !found {
		return p.noQuantityField(ctx, d, navTimedOut)
	}
	d.matched("quantity_field", qty)

	sentinel := strconv.Itoa(p.cfg.SentinelQuantity)
	if err := p.driver.Fill(ctx, qty.Selector, sentinel); err != nil {
		return driverError("fill quantity", err)
	}
	if err := p.checkFilled(ctx, d, qty.Selector, sentinel); err != nil {
		return err
	}

	buy, found, err := sel.PurchaseButton.Locate(ctx, p.driver)
	if err != nil {
		return driverError("find purchase button", err)
	}
	if !found {
		return &Error{Kind: KindElementNotFound, Op: "probe", Err: errors.New("purchase button not found")}
	}
	d.matched("purchase_button", buy)

	if err := p.driver.Click(ctx, buy.Selector); err != nil {
		return driverError("click purchase button", err)
	}

	if err := p.driver.WaitForSelector(ctx, sel.MessageWait.Union(), p.cfg.MessageTimeout); err != nil {
		if browser.IsFatal(err) || ctx.Err() != nil {
			return driverError("wait for validation message", err)
		}
		d.note("validation message wait timed out")
	}

	html, err := p.driver.Content(ctx)
	if err != nil {
		return driverError("read page", err)
	}
	msg, msgStrategy, err := extractMessage(html, sel)
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}
	if msg == "" {
		d.soft(KindElementNotFound, "validation message did not appear")
		return nil
	}
	d.matched("message", msgStrategy)
	d.raw = msg

	n, ok := ParseAvailableQuantity(msg)
	if !ok {
		d.soft(KindMessageUnparsable, "validation message carries no quantity")
		return nil
	}

	if n > 0 {
		d.settle(n, OutcomeInStock)
	} else {
		d.settle(0, OutcomeOutOfStock)
	}
	return nil
}

// open navigates to the product page. A navigation timeout is reported
// through timedOut and the probe carries on with whatever rendered.
func (p *Prober) open(ctx context.Context, d *draft) (timedOut bool, err error) {
	err = p.driver.Navigate(ctx, p.cfg.Site.ProductURL(d.id), p.cfg.NavigationTimeout)
	if err == nil {
		return false, nil
	}
	if KindOf(err) == KindNavigationTimeout && ctx.Err() == nil {
		d.note("product page navigation timed out")
		return true, nil
	}
	return false, driverError("open product page", err)
}

// checkFilled reads the quantity input back. Inputs with a max length or a
// capped max keep a smaller value, and then the cart never complains.
func (p *Prober) checkFilled(ctx context.Context, d *draft, selector, want string) error {
	v, err := p.driver.Evaluate(ctx, inputValueScript(selector))
	if err != nil {
		if browser.IsFatal(err) || ctx.Err() != nil {
			return driverError("read quantity field", err)
		}
		return nil
	}
	if got := fmt.Sprint(v); v != nil && got != want {
		d.note("quantity field kept " + got + " instead of " + want)
	}
	return nil
}

func inputValueScript(selector string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.value : null })()`, strconv.Quote(selector))
}

func (p *Prober) loggedOut(ctx context.Context) (bool, error) {
	_, found, err := p.cfg.Selectors.LoginAffordance.Locate(ctx, p.driver)
	if err != nil {
		return false, driverError("check login state", err)
	}
	return found, nil
}

func (p *Prober) readFacts(ctx context.Context, d *draft) {
	html, err := p.driver.Content(ctx)
	if err != nil {
		d.note("page content unavailable for title and price")
		return
	}
	facts, err := extractFacts(html, p.cfg.Selectors)
	if err != nil {
		d.note("page content unparsable for title and price")
		return
	}

	d.title = facts.title
	if facts.title != "" {
		d.matched("title", facts.titleStrategy)
	}
	d.price = facts.price
	if facts.price != "" {
		d.matched("price", facts.priceStrategy)
	}
}

// noQuantityField settles a page without a quantity input. A page that
// never finished loading is a navigation failure; a purchase button
// without a quantity field leaves the count indeterminate.
func (p *Prober) noQuantityField(ctx context.Context, d *draft, navTimedOut bool) error {
	if navTimedOut {
		return &Error{Kind: KindNavigationTimeout, Op: "probe", Err: errors.New("product page did not load")}
	}

	buy, found, err := p.cfg.Selectors.PurchaseButton.Locate(ctx, p.driver)
	if err != nil {
		return driverError("find purchase button", err)
	}
	if found {
		d.matched("purchase_button", buy)
		d.qty = nil
		d.outcome = OutcomeQuantityIndeterminate
		d.note("purchase button present without a quantity field")
		return nil
	}

	d.settle(0, OutcomeNotPurchasable)
	return nil
}
