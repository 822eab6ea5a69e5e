package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/maltedev/queenbooks-stock/internal/database"
	"github.com/maltedev/queenbooks-stock/internal/jobs"
	"github.com/maltedev/queenbooks-stock/internal/stock"
	"github.com/maltedev/queenbooks-stock/internal/storage"
)

// StockChecker is the synchronous checking surface.
type StockChecker interface {
	Check(ctx context.Context, productID string) (stock.Result, error)
	CheckBatch(ctx context.Context, ids []string) (*stock.BatchReport, error)
	ClearSession(ctx context.Context) error
	SessionState() stock.SessionState
	MaxBatchSize() int
}

type JobService interface {
	CreateJob(ctx context.Context, ids []string, source string) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context) ([]*jobs.Job, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

type SnapshotStore interface {
	Save(results []stock.Result) (string, error)
	List() ([]storage.SnapshotInfo, error)
}

type OutboxStats interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

type Recorder interface {
	RecordBatch(ctx context.Context, report *stock.BatchReport) (uuid.UUID, error)
}

// Options carries the optional collaborators. Nil members disable the
// features that need them.
type Options struct {
	Jobs      JobService
	Snapshots SnapshotStore
	Recorder  Recorder
	Outbox    OutboxStats
	CacheSize int
	CacheTTL  time.Duration
}

type Handlers struct {
	checker   StockChecker
	jobs      JobService
	snapshots SnapshotStore
	recorder  Recorder
	outbox    OutboxStats
	cache     *expirable.LRU[string, stock.Result]
	logger    *slog.Logger
	started   time.Time
}

func NewHandlers(checker StockChecker, opts Options, logger *slog.Logger) *Handlers {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	return &Handlers{
		checker:   checker,
		jobs:      opts.Jobs,
		snapshots: opts.Snapshots,
		recorder:  opts.Recorder,
		outbox:    opts.Outbox,
		cache:     expirable.NewLRU[string, stock.Result](opts.CacheSize, nil, opts.CacheTTL),
		logger:    logger.With("component", "api"),
		started:   time.Now(),
	}
}

// CheckRequest carries either one id or a list of ids.
type CheckRequest struct {
	ID  string   `json:"id,omitempty"`
	IDs []string `json:"ids,omitempty"`
}

func (c CheckRequest) productIDs() []string {
	var ids []string
	if id := strings.TrimSpace(c.ID); id != "" {
		ids = append(ids, id)
	}
	for _, id := range c.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

type SingleCheckResponse struct {
	Success bool          `json:"success"`
	Elapsed string        `json:"elapsed"`
	Cached  bool          `json:"cached,omitempty"`
	Product *stock.Result `json:"product"`
	Error   string        `json:"error,omitempty"`
}

type BatchCheckResponse struct {
	Success  bool           `json:"success"`
	Elapsed  string         `json:"elapsed"`
	Total    int            `json:"total"`
	Aborted  bool           `json:"aborted,omitempty"`
	Products []stock.Result `json:"products"`
	Snapshot string         `json:"snapshot,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// CheckStock probes one or more products synchronously.
func (h *Handlers) CheckStock(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ids := req.productIDs()
	if len(ids) == 0 {
		h.respondError(w, http.StatusBadRequest, "id or ids is required")
		return
	}
	if limit := h.checker.MaxBatchSize(); len(ids) > limit {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d ids per request, got %d", limit, len(ids)))
		return
	}

	start := time.Now()
	report, err := h.checker.CheckBatch(r.Context(), ids)
	if report == nil {
		h.logger.Error("stock check failed", "ids", ids, "error", err)
		h.respondError(w, statusFor(err), errorMessage(err))
		return
	}

	for _, res := range report.Results {
		if !res.Failed() {
			h.cache.Add(res.ProductID, res)
		}
	}
	h.record(r.Context(), report)

	status := http.StatusOK
	if err != nil {
		h.logger.Error("stock check aborted", "ids", ids, "error", err)
		status = statusFor(err)
	}

	if req.ID != "" && len(req.IDs) == 0 {
		res := report.Results[0]
		h.respondJSON(w, status, SingleCheckResponse{
			Success: err == nil && !res.Failed(),
			Elapsed: elapsed(start),
			Product: &res,
			Error:   errorMessage(err),
		})
		return
	}

	resp := BatchCheckResponse{
		Success:  err == nil,
		Elapsed:  elapsed(start),
		Total:    report.Len(),
		Aborted:  report.Aborted,
		Products: report.Results,
		Error:    errorMessage(err),
	}
	if h.snapshots != nil {
		if path, saveErr := h.snapshots.Save(report.Results); saveErr != nil {
			h.logger.Error("failed to save snapshot", "error", saveErr)
		} else {
			resp.Snapshot = path
		}
	}
	h.respondJSON(w, status, resp)
}

// GetStock answers a quick single check, from the cache when fresh.
func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "product ID is required")
		return
	}

	start := time.Now()
	if r.URL.Query().Get("fresh") != "true" {
		if cached, ok := h.cache.Get(productID); ok {
			h.respondJSON(w, http.StatusOK, SingleCheckResponse{
				Success: true,
				Elapsed: elapsed(start),
				Cached:  true,
				Product: &cached,
			})
			return
		}
	}

	res, err := h.checker.Check(r.Context(), productID)
	if err != nil && res.ProductID == "" {
		h.logger.Error("stock check failed", "product_id", productID, "error", err)
		h.respondError(w, statusFor(err), errorMessage(err))
		return
	}
	if !res.Failed() {
		h.cache.Add(productID, res)
	}
	h.record(r.Context(), &stock.BatchReport{Results: []stock.Result{res}})

	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	h.respondJSON(w, status, SingleCheckResponse{
		Success: err == nil && !res.Failed(),
		Elapsed: elapsed(start),
		Product: &res,
		Error:   errorMessage(err),
	})
}

// ClearSession logs out and forgets persisted cookies.
func (h *Handlers) ClearSession(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.ClearSession(r.Context()); err != nil {
		h.logger.Error("failed to clear session", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	h.cache.Purge()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": h.checker.SessionState(),
	})
}

type CreateJobRequest struct {
	IDs []string `json:"ids"`
}

type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), CheckRequest{IDs: req.IDs}.productIDs(), jobs.SourceAPI)
	if err != nil {
		if errors.Is(err, stock.ErrNoProducts) || errors.Is(err, stock.ErrBatchTooLarge) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

// ListSnapshots lists the most recent snapshot files.
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.respondJSON(w, http.StatusOK, []storage.SnapshotInfo{})
		return
	}

	list, err := h.snapshots.List()
	if err != nil {
		h.logger.Error("failed to list snapshots", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

// Health reports liveness plus outbox backlog when a database is wired.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		} else {
			health["outbox"] = stats
			if stats.Pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if stats.DeadLetter > 100 {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

// Status reports the session state, job counters and available endpoints.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"uptime":         time.Since(h.started).Round(time.Second).String(),
		"session":        h.checker.SessionState(),
		"max_batch_size": h.checker.MaxBatchSize(),
		"cached_results": h.cache.Len(),
		"endpoints": []string{
			"GET /health",
			"GET /status",
			"GET /metrics",
			"POST /api/v1/stock/check",
			"GET /api/v1/stock/{productID}",
			"POST /api/v1/session/clear",
			"POST /api/v1/jobs",
			"GET /api/v1/jobs",
			"GET /api/v1/jobs/{jobID}",
			"GET /api/v1/snapshots",
		},
	}

	if h.jobs != nil {
		if stats, err := h.jobs.GetStats(r.Context()); err == nil {
			resp["jobs"] = stats
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) record(ctx context.Context, report *stock.BatchReport) {
	if h.recorder == nil || report.Len() == 0 {
		return
	}
	if _, err := h.recorder.RecordBatch(ctx, report); err != nil {
		h.logger.Error("failed to record stock checks", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, stock.ErrNoProducts), errors.Is(err, stock.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stock.IsDriverFatal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func elapsed(start time.Time) string {
	return fmt.Sprintf("%.2fs", time.Since(start).Seconds())
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
