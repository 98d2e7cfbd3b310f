// Package scheduler drives the periodic orchestration passes: monthly
// process materialization, dispatch of pending downloads onto the task
// queue, and the stale-execution sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telbill/internal/batch"
	"telbill/internal/config"
	"telbill/internal/logging"
	"telbill/internal/process"
	"telbill/internal/tasks"
)

// Enqueuer publishes stage jobs for dispatched processes.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue tasks.Queue, payload any) (*tasks.Task, error)
}

// Scheduler owns the ticker loops and exposes each pass for manual runs
// from the CLI.
type Scheduler struct {
	store       *process.Store
	coordinator *batch.Coordinator
	enqueuer    Enqueuer
	logger      *slog.Logger

	materializeEvery time.Duration
	dispatchEvery    time.Duration
	sweepEvery       time.Duration
	staleAfter       time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a scheduler from the workflow configuration.
func New(cfg *config.Config, store *process.Store, coordinator *batch.Coordinator, enqueuer Enqueuer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:            store,
		coordinator:      coordinator,
		enqueuer:         enqueuer,
		logger:           logging.NewComponentLogger(logger, "scheduler"),
		materializeEvery: time.Duration(cfg.Workflow.MaterializeInterval) * time.Second,
		dispatchEvery:    time.Duration(cfg.Workflow.DispatchInterval) * time.Second,
		sweepEvery:       time.Duration(cfg.Workflow.SweepInterval) * time.Second,
		staleAfter:       time.Duration(cfg.Workflow.StaleAfterMinutes) * time.Minute,
	}
}

// RunMonthlyMaterialization ensures one process per active registration for
// the period and returns the number of processes it created. Materialization
// is idempotent: re-running a period finds everything on file, creates
// nothing, and never resurrects failed processes.
func (s *Scheduler) RunMonthlyMaterialization(ctx context.Context, period string) (int, error) {
	if !process.ValidPeriod(period) {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	regs, err := s.store.ListRegistrations(ctx, "", false)
	if err != nil {
		return 0, err
	}
	results := s.coordinator.EnsureProcesses(ctx, regs, period)
	created := 0
	for _, result := range results {
		if result.Created {
			created++
		}
	}
	s.logger.Info("materialization pass complete",
		logging.String(logging.FieldPeriod, period),
		logging.Int("registrations", len(regs)),
		logging.Int("created", created),
	)
	return created, nil
}

// RunPendingDispatch queues a download task for every created or pending
// process and moves created ones to pending. Approved processes whose upload
// has not started yet are re-queued too, so an approval whose enqueue was
// lost to a broker outage still reaches the upload queue. Returns the number
// of tasks queued.
func (s *Scheduler) RunPendingDispatch(ctx context.Context) (int, error) {
	statuses := append(process.DispatchableStatuses(), process.StatusApproved)
	procs, err := s.store.ListProcessesByStatus(ctx, statuses...)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, proc := range procs {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		queue, stage := tasks.QueueDownload, process.StageDownload
		if proc.Status == process.StatusApproved {
			queue, stage = tasks.QueueUpload, process.StageUpload
		}
		if _, err := s.enqueuer.Enqueue(ctx, queue, tasks.StageJob{
			ProcessID:      proc.ID,
			RegistrationID: proc.RegistrationHash,
			Stage:          string(stage),
		}); err != nil {
			s.logger.Error("dispatch failed",
				logging.Int64(logging.FieldProcessID, proc.ID),
				logging.Error(err))
			continue
		}
		if proc.Status == process.StatusCreated {
			proc.Status = process.StatusPending
			proc.Detail = "queued for download"
			if err := s.store.UpdateProcess(ctx, proc); err != nil {
				s.logger.Error("mark pending failed",
					logging.Int64(logging.FieldProcessID, proc.ID),
					logging.Error(err))
			}
		}
		dispatched++
	}
	if dispatched > 0 {
		s.logger.Info("dispatch pass complete", logging.Int("queued", dispatched))
	}
	return dispatched, nil
}

// RunStaleSweep fails executions running longer than the configured
// threshold and resets their processes for a fresh attempt. Returns the
// number of processes reset.
func (s *Scheduler) RunStaleSweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	reset, err := s.store.SweepStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		s.logger.Info("stale sweep complete", logging.Int64("reset", reset))
	}
	return reset, nil
}

// HandleScheduleTask runs one pass on demand from the schedule queue. The
// CLI enqueues these so manual passes execute inside the daemon, with its
// pool and notifier.
func (s *Scheduler) HandleScheduleTask(ctx context.Context, task *tasks.Task) error {
	var job tasks.ScheduleJob
	if err := task.DecodePayload(&job); err != nil {
		return fmt.Errorf("decode schedule job: %w: %w", process.ErrTerminal, err)
	}
	switch job.Pass {
	case tasks.PassMaterialize:
		period := job.Period
		if period == "" {
			period = process.CurrentPeriod(time.Now())
		}
		_, err := s.RunMonthlyMaterialization(ctx, period)
		return err
	case tasks.PassDispatch:
		_, err := s.RunPendingDispatch(ctx)
		return err
	case tasks.PassSweep:
		_, err := s.RunStaleSweep(ctx)
		return err
	default:
		return fmt.Errorf("unknown schedule pass %q: %w", job.Pass, process.ErrTerminal)
	}
}

// Start launches the ticker loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.loop(runCtx, s.materializeEvery, func(ctx context.Context) {
		if _, err := s.RunMonthlyMaterialization(ctx, process.CurrentPeriod(time.Now())); err != nil && ctx.Err() == nil {
			s.logger.Error("materialization pass failed", logging.Error(err))
		}
	})
	go s.loop(runCtx, s.dispatchEvery, func(ctx context.Context) {
		if _, err := s.RunPendingDispatch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("dispatch pass failed", logging.Error(err))
		}
	})
	go s.loop(runCtx, s.sweepEvery, func(ctx context.Context) {
		if _, err := s.RunStaleSweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("stale sweep failed", logging.Error(err))
		}
	})

	s.logger.Info("scheduler started",
		logging.Duration("materialize_every", s.materializeEvery),
		logging.Duration("dispatch_every", s.dispatchEvery),
		logging.Duration("sweep_every", s.sweepEvery),
	)
	return nil
}

// Stop cancels the loops and waits for in-flight passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	defer s.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}
