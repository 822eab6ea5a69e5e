package scheduler

import (
	"context"
	"errors"
	"fmt"
)

// WatchJobName is the name the watch list is scheduled under.
const WatchJobName = "watch-list"

// Submitter queues a batch of product ids for checking.
type Submitter interface {
	Submit(ctx context.Context, ids []string) (string, error)
}

// WatchJob queues the watch list in chunks of at most batchSize ids.
func WatchJob(ids []string, batchSize int, submitter Submitter) Job {
	list := dedupe(ids)
	return func(ctx context.Context) error {
		if len(list) == 0 {
			return nil
		}
		var errs []error
		for _, chunk := range Chunk(list, batchSize) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := submitter.Submit(ctx, chunk); err != nil {
				errs = append(errs, fmt.Errorf("submit %v: %w", chunk, err))
			}
		}
		return errors.Join(errs...)
	}
}

// AddWatchList schedules the watch list.
func (s *Scheduler) AddWatchList(schedule string, ids []string, batchSize int, submitter Submitter) error {
	return s.AddJob(WatchJobName, schedule, WatchJob(ids, batchSize, submitter))
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
