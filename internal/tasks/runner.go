package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telbill/internal/logging"
	"telbill/internal/process"
)

// Handler executes one task attempt. The context is cancelled at the soft
// time limit, leaving the window up to the hard limit for cleanup; a handler
// still running at the hard limit is abandoned and its task failed.
// Returning a nil error marks the task succeeded; a terminal error fails it
// immediately; any other error retries after the fixed delay until the
// attempt budget is spent.
type Handler func(ctx context.Context, task *Task) error

// Runner drains the named queues and dispatches tasks to registered
// handlers, enforcing the soft and hard time limits.
type Runner struct {
	broker Broker
	policy Policy
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[Queue]Handler

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner creates a runner over the given broker.
func NewRunner(broker Broker, policy Policy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		broker:   broker,
		policy:   policy,
		logger:   logger.With(logging.String("component", "tasks")),
		handlers: make(map[Queue]Handler),
	}
}

// Register installs the handler for a queue, replacing any previous one.
func (r *Runner) Register(queue Queue, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = handler
}

func (r *Runner) handler(queue Queue) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[queue]
	return h, ok
}

// Start launches the consume and retry-promotion loops.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	r.started = true
	queues := make([]Queue, 0, len(r.handlers))
	for queue := range r.handlers {
		queues = append(queues, queue)
	}
	r.mu.Unlock()

	if len(queues) == 0 {
		return errors.New("no handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go r.consumeLoop(runCtx, queues)
	go r.promoteLoop(runCtx)
	r.logger.Info("task runner started", logging.Int("queues", len(queues)))
	return nil
}

// Stop cancels the loops and waits for in-flight work to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

func (r *Runner) consumeLoop(ctx context.Context, queues []Queue) {
	defer r.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := r.broker.Dequeue(ctx, 2*time.Second, queues...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("dequeue failed", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue
		}
		r.runTask(ctx, task)
	}
}

func (r *Runner) promoteLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			promoted, err := r.broker.PromoteDelayed(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("promote delayed tasks failed", logging.Error(err))
				continue
			}
			if promoted > 0 {
				r.logger.Debug("promoted delayed tasks", logging.Int64("count", promoted))
			}
		}
	}
}

func (r *Runner) runTask(ctx context.Context, task *Task) {
	log := r.logger.With(
		logging.String(logging.FieldQueue, string(task.Queue)),
		logging.String(logging.FieldTaskID, task.ID),
		logging.Int("attempt", task.Attempt),
	)

	revoked, err := r.broker.IsRevoked(ctx, task.ID)
	if err != nil {
		log.Warn("revocation check failed", logging.Error(err))
	}
	if revoked {
		log.Info("task revoked before start")
		r.storeResult(ctx, task, ResultRevoked, "revoked before start")
		return
	}

	handler, ok := r.handler(task.Queue)
	if !ok {
		log.Error("no handler for queue")
		r.storeResult(ctx, task, ResultFailed, "no handler registered")
		return
	}

	// The handler context expires at the soft limit so the task can clean
	// up; the hard limit is the point where the runner stops waiting.
	taskCtx, cancel := context.WithTimeout(ctx, r.policy.SoftTimeLimit)
	defer cancel()

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- handler(taskCtx, task)
	}()

	hardTimer := time.NewTimer(r.policy.HardTimeLimit)
	defer hardTimer.Stop()

	select {
	case err = <-done:
	case <-hardTimer.C:
		log.Error("task abandoned at hard time limit",
			logging.Duration("hard_limit", r.policy.HardTimeLimit))
		r.storeResult(ctx, task, ResultFailed,
			fmt.Sprintf("hard time limit exceeded after %s", r.policy.HardTimeLimit))
		return
	}
	elapsed := time.Since(started)

	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		log.Warn("task exceeded soft time limit",
			logging.Duration("soft_limit", r.policy.SoftTimeLimit),
			logging.Duration("elapsed", elapsed))
	}

	if err == nil {
		log.Info("task succeeded", logging.Duration("elapsed", elapsed))
		r.storeResult(ctx, task, ResultSucceeded, "")
		return
	}

	detail := err.Error()
	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		detail = fmt.Sprintf("soft time limit exceeded after %s", elapsed.Round(time.Second))
	}

	if process.Terminal(err) || task.Attempt >= task.MaxAttempts {
		log.Error("task failed",
			logging.Error(err),
			logging.Bool("terminal", process.Terminal(err)))
		r.storeResult(ctx, task, ResultFailed, detail)
		return
	}

	task.Attempt++
	if retryErr := r.broker.RetryLater(ctx, task); retryErr != nil {
		log.Error("retry scheduling failed", logging.Error(retryErr))
		r.storeResult(ctx, task, ResultFailed, detail)
		return
	}
	log.Warn("task will retry",
		logging.Error(err),
		logging.Int("next_attempt", task.Attempt))
}

func (r *Runner) storeResult(ctx context.Context, task *Task, status ResultStatus, detail string) {
	result := &Result{
		TaskID:      task.ID,
		Queue:       task.Queue,
		Status:      status,
		Detail:      detail,
		Attempt:     task.Attempt,
		CompletedAt: time.Now().UTC(),
	}
	if err := r.broker.StoreResult(ctx, result); err != nil {
		r.logger.Warn("store task result failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}
