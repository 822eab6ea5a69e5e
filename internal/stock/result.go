package stock

import (
	"context"
	"errors"
	"time"
)

// Outcome summarises what a probe concluded about a product.
type Outcome string

const (
	OutcomeInStock               Outcome = "in_stock"
	OutcomeOutOfStock            Outcome = "out_of_stock"
	OutcomeNotPurchasable        Outcome = "not_purchasable"
	OutcomeQuantityIndeterminate Outcome = "quantity_indeterminate"
	OutcomeUnknown               Outcome = "unknown"
	OutcomeFailed                Outcome = "failed"
)

// Result is the outcome of probing one product. A nil AvailableQuantity
// means the count is unknown and is never the same as a confirmed zero.
type Result struct {
	ProductID         string            `json:"product_id"`
	Title             string            `json:"title,omitempty"`
	Price             string            `json:"price,omitempty"`
	AvailableQuantity *int              `json:"available_quantity"`
	IsAvailable       bool              `json:"is_available"`
	Outcome           Outcome           `json:"outcome"`
	RawMessage        string            `json:"raw_message,omitempty"`
	Error             ErrorKind         `json:"error,omitempty"`
	ErrorDetail       string            `json:"error_detail,omitempty"`
	Notes             []string          `json:"notes,omitempty"`
	Strategies        map[string]string `json:"strategies,omitempty"`
	TimestampUTC      time.Time         `json:"timestamp_utc"`
}

// Quantity returns the available quantity and whether it is known.
func (r Result) Quantity() (int, bool) {
	if r.AvailableQuantity == nil {
		return 0, false
	}
	return *r.AvailableQuantity, true
}

// Failed reports whether the probe ended with an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// BatchReport holds one Result per requested id, in request order.
type BatchReport struct {
	Results    []Result  `json:"results"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Aborted    bool      `json:"aborted"`
}

func (b *BatchReport) Len() int {
	return len(b.Results)
}

// Counts returns how many results succeeded and failed.
func (b *BatchReport) Counts() (succeeded, failed int) {
	for _, r := range b.Results {
		if r.Failed() {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

// draft accumulates facts during a probe; finish freezes it into a Result.
type draft struct {
	id         string
	title      string
	price      string
	qty        *int
	outcome    Outcome
	raw        string
	kind       ErrorKind
	detail     string
	notes      []string
	strategies map[string]string
}

func newDraft(id string) *draft {
	return &draft{
		id:         id,
		outcome:    OutcomeUnknown,
		strategies: make(map[string]string),
	}
}

func (d *draft) note(msg string) {
	d.notes = append(d.notes, msg)
}

func (d *draft) matched(role string, s Strategy) {
	d.strategies[role] = s.Name
}

// settle records a confirmed quantity.
func (d *draft) settle(qty int, outcome Outcome) {
	q := qty
	d.qty = &q
	d.outcome = outcome
}

// soft records a failure that leaves the quantity unknown without being fatal
// for the product's page facts.
func (d *draft) soft(kind ErrorKind, detail string) {
	d.qty = nil
	d.kind = kind
	d.detail = detail
	d.outcome = OutcomeUnknown
}

// fail records an error that ended the probe.
func (d *draft) fail(ctx context.Context, err error) {
	kind := KindOf(err)
	if kind != KindDriverFatal && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindProbeTimeout
	}
	d.qty = nil
	d.kind = kind
	d.detail = err.Error()
	d.outcome = OutcomeFailed
}

func (d *draft) finish(now time.Time) Result {
	r := Result{
		ProductID:         d.id,
		Title:             d.title,
		Price:             d.price,
		AvailableQuantity: d.qty,
		IsAvailable:       d.qty != nil && *d.qty > 0,
		Outcome:           d.outcome,
		RawMessage:        d.raw,
		Error:             d.kind,
		ErrorDetail:       d.detail,
		TimestampUTC:      now.UTC(),
	}
	if len(d.notes) > 0 {
		r.Notes = append([]string(nil), d.notes...)
	}
	if len(d.strategies) > 0 {
		r.Strategies = make(map[string]string, len(d.strategies))
		for k, v := range d.strategies {
			r.Strategies[k] = v
		}
	}
	return r
}

// failedResult builds a Result for an id that was never probed.
func failedResult(id string, kind ErrorKind, detail string, now time.Time) Result {
	return Result{
		ProductID:    id,
		Outcome:      OutcomeFailed,
		Error:        kind,
		ErrorDetail:  detail,
		TimestampUTC: now.UTC(),
	}
}

// FailedResults builds a failed Result for every id, for callers that
// must report ids a batch never reached.
func FailedResults(ids []string, kind ErrorKind, detail string, now time.Time) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, failedResult(id, kind, detail, now))
	}
	return out
}
