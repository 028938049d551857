package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// TaskError accumulates the per-item failures of a bulk run.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// RefreshSummary reports what a bulk run did.
type RefreshSummary struct {
	Processed int
	Degraded  int
	Failed    int
}

// BulkRefresher recomputes and imports trust profiles using a worker pool.
type BulkRefresher struct {
	service *TrustService
	workers int
}

// NewBulkRefresher creates a BulkRefresher with the provided concurrency.
func NewBulkRefresher(service *TrustService, workers int) *BulkRefresher {
	if workers <= 0 {
		workers = 4
	}
	return &BulkRefresher{service: service, workers: workers}
}

// ImportProfiles registers every input concurrently.
func (br *BulkRefresher) ImportProfiles(ctx context.Context, inputs []ProfileInput) (RefreshSummary, error) {
	var summary counters
	err := br.run(ctx, len(inputs), func(idx int) error {
		_, err := br.service.RegisterProfile(ctx, inputs[idx])
		summary.record(err, false)
		return err
	})
	return summary.snapshot(), err
}

// RefreshUsers recomputes the cached score of each listed user.
func (br *BulkRefresher) RefreshUsers(ctx context.Context, userIDs []string) (RefreshSummary, error) {
	var summary counters
	err := br.run(ctx, len(userIDs), func(idx int) error {
		res, err := br.service.Refresh(ctx, userIDs[idx])
		summary.record(err, res.Degraded)
		return err
	})
	return summary.snapshot(), err
}

// RefreshAll recomputes every stored profile.
func (br *BulkRefresher) RefreshAll(ctx context.Context) (RefreshSummary, error) {
	ids, err := br.service.store.ListProfileIDs(ctx)
	if err != nil {
		return RefreshSummary{}, err
	}
	return br.RefreshUsers(ctx, ids)
}

type counters struct {
	processed atomic.Int64
	degraded  atomic.Int64
	failed    atomic.Int64
}

func (c *counters) record(err error, degraded bool) {
	c.processed.Add(1)
	if err != nil {
		c.failed.Add(1)
	}
	if degraded {
		c.degraded.Add(1)
	}
}

func (c *counters) snapshot() RefreshSummary {
	return RefreshSummary{
		Processed: int(c.processed.Load()),
		Degraded:  int(c.degraded.Load()),
		Failed:    int(c.failed.Load()),
	}
}

func (br *BulkRefresher) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				errCh <- err
			}
		}
	}

	for i := 0; i < br.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}

	var taskErr TaskError
	for err := range errCh {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
