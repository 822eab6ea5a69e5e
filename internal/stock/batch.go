package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/ratelimit"
)

// Aggregator runs a Prober over a list of ids, one at a time.
type Aggregator struct {
	prober  *Prober
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewAggregator(prober *Prober, cfg Config) *Aggregator {
	cfg = cfg.withDefaults()
	return &Aggregator{
		prober:  prober,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "aggregator"),
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// RunBatch probes ids in order and waits delay between consecutive probes.
// The report always holds one result per id, in input order. A fatal driver
// error stops the loop: the remaining ids are reported as DriverFatal and
// the error is returned along with the report.
func (a *Aggregator) RunBatch(ctx context.Context, ids []string, delay time.Duration) (*BatchReport, error) {
	report := &BatchReport{
		Results:   make([]Result, 0, len(ids)),
		StartedAt: a.now().UTC(),
	}

	pacer := a.pacer(delay)
	feedback, _ := pacer.(ratelimit.Feedback)

	a.logger.Info("batch started", "products", len(ids), "delay", delay)

	var fatal error
	for i, id := range ids {
		if err := pacer.Wait(ctx); err != nil {
			a.fillRemaining(report, ids[i:], KindCancelled, err.Error())
			break
		}

		r := a.probeOne(ctx, id)
		pacer.Touch()
		report.Results = append(report.Results, r)

		if feedback != nil {
			if r.Failed() {
				feedback.RecordError()
			} else {
				feedback.RecordSuccess()
			}
		}

		if r.Error == KindDriverFatal {
			fatal = &Error{Kind: KindDriverFatal, Op: "batch", Err: fmt.Errorf("product %s: %s", id, r.ErrorDetail)}
			a.fillRemaining(report, ids[i+1:], KindDriverFatal, "batch aborted after driver failure")
			report.Aborted = true
			break
		}
		if ctx.Err() != nil {
			a.fillRemaining(report, ids[i+1:], KindCancelled, ctx.Err().Error())
			break
		}
	}

	report.FinishedAt = a.now().UTC()

	succeeded, failed := report.Counts()
	status := "completed"
	if report.Aborted {
		status = "aborted"
	}
	a.metrics.IncBatch(status)
	a.logger.Info("batch finished",
		"status", status,
		"succeeded", succeeded,
		"failed", failed,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	return report, fatal
}

// probeOne bounds a probe by ProbeTimeout and recovers the page when the
// probe overran it.
func (a *Aggregator) probeOne(ctx context.Context, id string) Result {
	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	r := a.prober.Probe(probeCtx, id)

	if r.Error == KindProbeTimeout && ctx.Err() == nil {
		a.logger.Warn("probe timed out, resetting page", "product_id", id)
		resetCtx, cancelReset := context.WithTimeout(ctx, a.cfg.NavigationTimeout)
		defer cancelReset()
		if err := a.prober.driver.Reset(resetCtx); err != nil {
			if KindOf(err) == KindDriverFatal {
				r.Error = KindDriverFatal
				r.ErrorDetail = err.Error()
			}
			a.logger.Error("failed to reset page", "error", err)
		}
	}
	return r
}

func (a *Aggregator) pacer(delay time.Duration) ratelimit.Pacer {
	if a.cfg.AdaptivePacing {
		return ratelimit.NewAdaptiveRateLimiter(delay, delay)
	}
	return ratelimit.NewFixedDelay(delay)
}

func (a *Aggregator) fillRemaining(report *BatchReport, ids []string, kind ErrorKind, detail string) {
	report.Results = append(report.Results, FailedResults(ids, kind, detail, a.now())...)
}

// IsDriverFatal reports whether err aborted a batch.
func IsDriverFatal(err error) bool {
	return errors.Is(err, ErrDriverFatal)
}
