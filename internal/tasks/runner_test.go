package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"telbill/internal/process"
)

type memoryBroker struct {
	mu      sync.Mutex
	queues  map[Queue][]*Task
	delayed []*Task
	results map[string]*Result
	revoked map[string]bool
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{
		queues:  make(map[Queue][]*Task),
		results: make(map[string]*Result),
		revoked: make(map[string]bool),
	}
}

func (b *memoryBroker) Enqueue(_ context.Context, queue Queue, payload any) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task := &Task{
		ID:          "task-" + string(queue),
		Queue:       queue,
		RoutingKey:  queue.RoutingKey(),
		Attempt:     1,
		MaxAttempts: 3,
		EnqueuedAt:  time.Now().UTC(),
	}
	b.queues[queue] = append(b.queues[queue], task)
	return task, nil
}

func (b *memoryBroker) Dequeue(ctx context.Context, timeout time.Duration, queues ...Queue) (*Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		for _, queue := range queues {
			if len(b.queues[queue]) > 0 {
				task := b.queues[queue][0]
				b.queues[queue] = b.queues[queue][1:]
				b.mu.Unlock()
				return task, nil
			}
		}
		b.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (b *memoryBroker) RetryLater(_ context.Context, task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delayed = append(b.delayed, task)
	return nil
}

func (b *memoryBroker) PromoteDelayed(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var promoted int64
	for _, task := range b.delayed {
		b.queues[task.Queue] = append(b.queues[task.Queue], task)
		promoted++
	}
	b.delayed = nil
	return promoted, nil
}

func (b *memoryBroker) StoreResult(_ context.Context, result *Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.revoked[result.TaskID] {
		result.Status = ResultRevoked
	}
	b.results[result.TaskID] = result
	return nil
}

func (b *memoryBroker) Result(_ context.Context, taskID string) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.results[taskID], nil
}

func (b *memoryBroker) Revoke(_ context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[taskID] = true
	return nil
}

func (b *memoryBroker) IsRevoked(_ context.Context, taskID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[taskID], nil
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		RetryDelay:    time.Millisecond,
		SoftTimeLimit: time.Second,
		HardTimeLimit: 2 * time.Second,
		ResultTTL:     time.Minute,
	}
}

func waitForResult(t *testing.T, broker *memoryBroker, taskID string) *Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := broker.Result(context.Background(), taskID)
		if err != nil {
			t.Fatalf("fetch result: %v", err)
		}
		if result != nil {
			return result
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no result for task %s", taskID)
	return nil
}

func TestRunnerExecutesRegisteredHandler(t *testing.T) {
	broker := newMemoryBroker()
	runner := NewRunner(broker, testPolicy(), nil)

	var mu sync.Mutex
	var handled int
	runner.Register(QueueDownload, func(context.Context, *Task) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start runner: %v", err)
	}
	defer runner.Stop()

	task, err := broker.Enqueue(context.Background(), QueueDownload, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result := waitForResult(t, broker, task.ID)
	if result.Status != ResultSucceeded {
		t.Fatalf("status = %s, want %s", result.Status, ResultSucceeded)
	}
	mu.Lock()
	defer mu.Unlock()
	if handled != 1 {
		t.Fatalf("handler ran %d times, want 1", handled)
	}
}

func TestRunnerRetriesTransientErrors(t *testing.T) {
	broker := newMemoryBroker()
	runner := NewRunner(broker, testPolicy(), nil)

	var mu sync.Mutex
	var attempts int
	runner.Register(QueueDownload, func(context.Context, *Task) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("operator timeout")
	})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start runner: %v", err)
	}
	defer runner.Stop()

	task, err := broker.Enqueue(context.Background(), QueueDownload, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Promote scheduled retries faster than the runner's own ticker.
	promoteDone := make(chan struct{})
	defer close(promoteDone)
	go func() {
		for {
			select {
			case <-promoteDone:
				return
			case <-time.After(10 * time.Millisecond):
				_, _ = broker.PromoteDelayed(context.Background())
			}
		}
	}()

	result := waitForResult(t, broker, task.ID)
	if result.Status != ResultFailed {
		t.Fatalf("status = %s, want %s", result.Status, ResultFailed)
	}
	if result.Attempt != 3 {
		t.Fatalf("final attempt = %d, want 3", result.Attempt)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("handler ran %d times, want 3", attempts)
	}
}

func TestRunnerDoesNotRetryTerminalErrors(t *testing.T) {
	broker := newMemoryBroker()
	runner := NewRunner(broker, testPolicy(), nil)

	var mu sync.Mutex
	var attempts int
	runner.Register(QueueUpload, func(context.Context, *Task) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return process.ErrConflict
	})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start runner: %v", err)
	}
	defer runner.Stop()

	task, err := broker.Enqueue(context.Background(), QueueUpload, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result := waitForResult(t, broker, task.ID)
	if result.Status != ResultFailed {
		t.Fatalf("status = %s, want %s", result.Status, ResultFailed)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Fatalf("handler ran %d times, want 1", attempts)
	}
}

func TestSoftLimitSignalsHandlerForCleanup(t *testing.T) {
	broker := newMemoryBroker()
	policy := testPolicy()
	policy.SoftTimeLimit = 50 * time.Millisecond
	policy.HardTimeLimit = 2 * time.Second
	runner := NewRunner(broker, policy, nil)

	var mu sync.Mutex
	cleanedUp := false
	runner.Register(QueueDownload, func(ctx context.Context, _ *Task) error {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			return errors.New("no cancellation before the hard limit")
		}
		// The window between the soft and hard limits belongs to cleanup.
		mu.Lock()
		cleanedUp = true
		mu.Unlock()
		return nil
	})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start runner: %v", err)
	}
	defer runner.Stop()

	task, err := broker.Enqueue(context.Background(), QueueDownload, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result := waitForResult(t, broker, task.ID)
	if result.Status != ResultSucceeded {
		t.Fatalf("status = %s (%s), want %s", result.Status, result.Detail, ResultSucceeded)
	}
	mu.Lock()
	defer mu.Unlock()
	if !cleanedUp {
		t.Fatal("handler never got to clean up after the soft limit")
	}
}

func TestHardLimitAbandonsUnresponsiveHandler(t *testing.T) {
	broker := newMemoryBroker()
	policy := testPolicy()
	policy.SoftTimeLimit = 20 * time.Millisecond
	policy.HardTimeLimit = 100 * time.Millisecond
	runner := NewRunner(broker, policy, nil)

	release := make(chan struct{})
	defer close(release)
	runner.Register(QueueDownload, func(context.Context, *Task) error {
		// Ignores cancellation entirely.
		<-release
		return nil
	})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start runner: %v", err)
	}
	defer runner.Stop()

	task, err := broker.Enqueue(context.Background(), QueueDownload, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result := waitForResult(t, broker, task.ID)
	if result.Status != ResultFailed {
		t.Fatalf("status = %s, want %s", result.Status, ResultFailed)
	}
	if !strings.Contains(result.Detail, "hard time limit") {
		t.Fatalf("detail = %q, want hard time limit failure", result.Detail)
	}
}

func TestRunnerSkipsRevokedTasks(t *testing.T) {
	broker := newMemoryBroker()
	runner := NewRunner(broker, testPolicy(), nil)

	runner.Register(QueueDownload, func(context.Context, *Task) error {
		t.Error("handler should not run for a revoked task")
		return nil
	})

	task, err := broker.Enqueue(context.Background(), QueueDownload, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := broker.Revoke(context.Background(), task.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start runner: %v", err)
	}
	defer runner.Stop()

	result := waitForResult(t, broker, task.ID)
	if result.Status != ResultRevoked {
		t.Fatalf("status = %s, want %s", result.Status, ResultRevoked)
	}
}
