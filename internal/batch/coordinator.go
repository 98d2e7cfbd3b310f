// Package batch fans lifecycle operations out over many registrations using
// a bounded worker pool. Every worker owns an exclusive store handle; one
// registration's failure never aborts the batch.
package batch

import (
	"context"
	"log/slog"
	"sync"

	"telbill/internal/lifecycle"
	"telbill/internal/logging"
	"telbill/internal/notifications"
	"telbill/internal/process"
)

// DefaultWidth is the worker pool width used when the configured value is
// not positive.
const DefaultWidth = 10

// StoreOpener hands each worker its own store handle. Handles are never
// shared across workers.
type StoreOpener func() (*process.Store, error)

// Result is one successfully processed registration. Created reports whether
// the operation materialized the process rather than finding it on file.
type Result struct {
	Registration *process.Registration
	Process      *process.Process
	Execution    *process.Execution
	Created      bool
}

// Operation runs one registration against a worker-local manager. Returning
// (nil, nil) marks the registration as skipped; it is omitted from the
// batch result without being counted as a failure.
type Operation func(ctx context.Context, mgr *lifecycle.Manager, reg *process.Registration) (*Result, error)

// Coordinator applies operations over registration sets.
type Coordinator struct {
	width    int
	opener   StoreOpener
	notifier notifications.Service
	logger   *slog.Logger
}

// New constructs a coordinator. A non-positive width falls back to
// DefaultWidth.
func New(width int, opener StoreOpener, notifier notifications.Service, logger *slog.Logger) *Coordinator {
	if width <= 0 {
		width = DefaultWidth
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		width:    width,
		opener:   opener,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "batch"),
	}
}

// Run applies op to every registration and returns the successful results in
// completion order. Per-item errors are logged and dropped; skips are
// omitted silently.
func (c *Coordinator) Run(ctx context.Context, regs []*process.Registration, op Operation) []*Result {
	if len(regs) == 0 {
		return nil
	}

	width := c.width
	if width > len(regs) {
		width = len(regs)
	}

	jobs := make(chan *process.Registration)
	var (
		mu      sync.Mutex
		results []*Result
		wg      sync.WaitGroup
	)

	for i := 0; i < width; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			store, err := c.opener()
			if err != nil {
				c.logger.Error("worker store open failed", logging.Error(err))
				// Drain so the feeder never blocks on a dead worker.
				for range jobs {
				}
				return
			}
			defer store.Close()

			mgr := lifecycle.NewManager(store, c.notifier, c.logger)
			for reg := range jobs {
				result, err := op(ctx, mgr, reg)
				if err != nil {
					c.logger.Error("batch item failed",
						logging.String(logging.FieldRegistration, reg.Hash),
						logging.Error(err),
					)
					continue
				}
				if result == nil {
					continue
				}
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}
		}()
	}

	for _, reg := range regs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results
		case jobs <- reg:
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

// EnsureProcesses materializes the period's process for every registration.
func (c *Coordinator) EnsureProcesses(ctx context.Context, regs []*process.Registration, period string) []*Result {
	return c.Run(ctx, regs, func(ctx context.Context, mgr *lifecycle.Manager, reg *process.Registration) (*Result, error) {
		proc, created, err := mgr.EnsureProcess(ctx, reg.Hash, period)
		if err != nil {
			return nil, err
		}
		return &Result{Registration: reg, Process: proc, Created: created}, nil
	})
}

// StartExecutions opens an execution for every registration's process in the
// period. Already-satisfied processes are skipped.
func (c *Coordinator) StartExecutions(ctx context.Context, regs []*process.Registration, period string, redownload bool) []*Result {
	return c.Run(ctx, regs, func(ctx context.Context, mgr *lifecycle.Manager, reg *process.Registration) (*Result, error) {
		proc, _, err := mgr.EnsureProcess(ctx, reg.Hash, period)
		if err != nil {
			return nil, err
		}
		exec, err := mgr.StartExecution(ctx, proc.ID, redownload)
		if err != nil {
			return nil, err
		}
		if exec == nil {
			return nil, nil
		}
		return &Result{Registration: reg, Process: proc, Execution: exec}, nil
	})
}
