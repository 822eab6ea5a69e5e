package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/queue"
)

// StartWorker processes queued jobs until ctx is done or the queue closes.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to take next job", "error", err)
			continue
		}

		m.processJob(ctx, task)
	}
}

func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	started := time.Now().UTC()
	m.update(task.ID, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})

	m.logger.Info("processing job", "id", task.ID, "source", task.Source, "products", len(task.ProductIDs))

	report, err := m.checker.CheckBatch(ctx, task.ProductIDs)

	var batchID, snapshot string
	if report != nil && report.Len() > 0 {
		if m.recorder != nil {
			id, recErr := m.recorder.RecordBatch(ctx, report)
			if recErr != nil {
				m.logger.Error("failed to record batch", "id", task.ID, "error", recErr)
			} else {
				batchID = id.String()
			}
		}
		if m.snapshots != nil {
			path, saveErr := m.snapshots.Save(report.Results)
			if saveErr != nil {
				m.logger.Error("failed to save snapshot", "id", task.ID, "error", saveErr)
			} else {
				snapshot = path
			}
		}
	}

	completed := time.Now().UTC()
	m.update(task.ID, func(j *Job) {
		j.Report = report
		j.BatchID = batchID
		j.Snapshot = snapshot
		j.CompletedAt = &completed
		if report != nil {
			j.Succeeded, j.Failed = report.Counts()
		}
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusCompleted
	})

	if err != nil {
		m.logger.Error("job failed", "id", task.ID, "error", err)
		return
	}
	m.logger.Info("job completed", "id", task.ID, "duration", completed.Sub(started))
}
