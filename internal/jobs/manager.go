package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/queenbooks-stock/internal/queue"
	"github.com/maltedev/queenbooks-stock/internal/stock"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	SourceAPI   = "api"
	SourceWatch = "watch"

	// maxRetained bounds how many finished jobs are kept in memory.
	maxRetained = 200
)

var ErrJobNotFound = errors.New("job not found")

// Checker runs one batch of stock probes.
type Checker interface {
	CheckBatch(ctx context.Context, ids []string) (*stock.BatchReport, error)
	MaxBatchSize() int
}

// Recorder persists a finished batch, for example to Postgres.
type Recorder interface {
	RecordBatch(ctx context.Context, report *stock.BatchReport) (uuid.UUID, error)
}

// SnapshotSaver writes the results of a batch to a dated file.
type SnapshotSaver interface {
	Save(results []stock.Result) (string, error)
}

// Job is an asynchronous stock check of up to one batch of products.
type Job struct {
	ID          string             `json:"id"`
	Source      string             `json:"source"`
	ProductIDs  []string           `json:"product_ids"`
	Status      string             `json:"status"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Report      *stock.BatchReport `json:"report,omitempty"`
	BatchID     string             `json:"batch_id,omitempty"`
	Snapshot    string             `json:"snapshot,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Stats summarises the jobs currently held by the manager.
type Stats struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	QueueSize     int `json:"queue_size"`
}

// Manager queues batch jobs and runs them one at a time.
type Manager struct {
	checker   Checker
	queue     queue.Queue
	recorder  Recorder
	snapshots SnapshotSaver
	logger    *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewManager wires a manager. recorder and snapshots may be nil.
func NewManager(checker Checker, q queue.Queue, recorder Recorder, snapshots SnapshotSaver, logger *slog.Logger) *Manager {
	return &Manager{
		checker:   checker,
		queue:     q,
		recorder:  recorder,
		snapshots: snapshots,
		logger:    logger.With("component", "job_manager"),
		jobs:      make(map[string]*Job),
	}
}

// CreateJob validates ids and queues a job for them.
func (m *Manager) CreateJob(ctx context.Context, ids []string, source string) (*Job, error) {
	if len(ids) == 0 {
		return nil, stock.ErrNoProducts
	}
	if limit := m.checker.MaxBatchSize(); len(ids) > limit {
		return nil, fmt.Errorf("%w: got %d, max %d", stock.ErrBatchTooLarge, len(ids), limit)
	}
	if source == "" {
		source = SourceAPI
	}

	job := &Job{
		ID:         uuid.New().String(),
		Source:     source,
		ProductIDs: append([]string(nil), ids...),
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	priority := queue.PriorityHigh
	if source == SourceWatch {
		priority = queue.PriorityNormal
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.pruneLocked()
	m.mu.Unlock()

	err := m.queue.Push(&queue.Task{
		ID:         job.ID,
		ProductIDs: job.ProductIDs,
		Source:     source,
		Priority:   priority,
		CreatedAt:  job.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "source", source, "products", len(ids))
	return m.snapshot(job), nil
}

// Submit queues a scheduled watch list batch and returns the job id.
func (m *Manager) Submit(ctx context.Context, ids []string) (string, error) {
	job, err := m.CreateJob(ctx, ids, SourceWatch)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// GetJob returns a copy of the job.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return m.snapshot(job), nil
}

// ListJobs returns all retained jobs, newest first, without their reports.
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		j := m.snapshot(job)
		j.Report = nil
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}

func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs), QueueSize: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}
	return stats, nil
}

func (m *Manager) snapshot(job *Job) *Job {
	cp := *job
	cp.ProductIDs = append([]string(nil), job.ProductIDs...)
	return &cp
}

// pruneLocked drops the oldest finished jobs beyond maxRetained.
func (m *Manager) pruneLocked() {
	if len(m.jobs) <= maxRetained {
		return
	}

	finished := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, k int) bool {
		return finished[i].CreatedAt.Before(finished[k].CreatedAt)
	})

	for _, job := range finished {
		if len(m.jobs) <= maxRetained {
			return
		}
		delete(m.jobs, job.ID)
	}
}

func (m *Manager) update(jobID string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		fn(job)
	}
}
