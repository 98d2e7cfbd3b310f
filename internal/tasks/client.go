package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"telbill/internal/config"
)

// Policy carries the per-task retry and deadline configuration.
type Policy struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	ResultTTL     time.Duration
}

// PolicyFromConfig translates the tasks section of the configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts:   cfg.Tasks.MaxAttempts,
		RetryDelay:    time.Duration(cfg.Tasks.RetryDelay) * time.Second,
		SoftTimeLimit: time.Duration(cfg.Tasks.SoftTimeLimit) * time.Second,
		HardTimeLimit: time.Duration(cfg.Tasks.HardTimeLimit) * time.Second,
		ResultTTL:     time.Duration(cfg.Tasks.ResultTTLMinutes) * time.Minute,
	}
}

// Broker is the queue surface the runner and the approval workflow depend
// on. Client is the Redis implementation; tests substitute an in-memory
// fake.
type Broker interface {
	Enqueue(ctx context.Context, queue Queue, payload any) (*Task, error)
	Dequeue(ctx context.Context, timeout time.Duration, queues ...Queue) (*Task, error)
	RetryLater(ctx context.Context, task *Task) error
	PromoteDelayed(ctx context.Context) (int64, error)
	StoreResult(ctx context.Context, result *Result) error
	Result(ctx context.Context, taskID string) (*Result, error)
	Revoke(ctx context.Context, taskID string) error
	IsRevoked(ctx context.Context, taskID string) (bool, error)
}

// Client is the Redis-backed broker.
type Client struct {
	rdb    *redis.Client
	prefix string
	policy Policy
}

// NewClient connects to the configured Redis broker.
func NewClient(cfg *config.Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return &Client{
		rdb:    rdb,
		prefix: cfg.Redis.KeyPrefix,
		policy: PolicyFromConfig(cfg),
	}
}

// Policy returns the retry and deadline configuration the client enqueues
// with.
func (c *Client) Policy() Policy {
	return c.policy
}

// Ping verifies broker connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) queueKey(queue Queue) string {
	return fmt.Sprintf("%s:queue:%s", c.prefix, queue)
}

func (c *Client) delayedKey() string {
	return c.prefix + ":delayed"
}

func (c *Client) resultKey(taskID string) string {
	return c.prefix + ":result:" + taskID
}

func (c *Client) revokedKey() string {
	return c.prefix + ":revoked"
}

// Enqueue publishes a new task onto a named queue.
func (c *Client) Enqueue(ctx context.Context, queue Queue, payload any) (*Task, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("unknown queue %q", queue)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	task := &Task{
		ID:          uuid.NewString(),
		Queue:       queue,
		RoutingKey:  queue.RoutingKey(),
		Payload:     raw,
		Attempt:     1,
		MaxAttempts: c.policy.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	encoded, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	if err := c.rdb.LPush(ctx, c.queueKey(queue), encoded).Err(); err != nil {
		return nil, fmt.Errorf("enqueue %s task: %w", queue, err)
	}
	return task, nil
}

// Dequeue blocks up to timeout for the next task on any of the given queues.
// Returns (nil, nil) when the timeout elapses without work.
func (c *Client) Dequeue(ctx context.Context, timeout time.Duration, queues ...Queue) (*Task, error) {
	keys := make([]string, len(queues))
	for i, queue := range queues {
		keys[i] = c.queueKey(queue)
	}
	res, err := c.rdb.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply of length %d", len(res))
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// RetryLater schedules the task's next attempt after the fixed retry delay.
func (c *Client) RetryLater(ctx context.Context, task *Task) error {
	encoded, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	readyAt := float64(time.Now().Add(c.policy.RetryDelay).Unix())
	if err := c.rdb.ZAdd(ctx, c.delayedKey(), redis.Z{Score: readyAt, Member: encoded}).Err(); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// PromoteDelayed moves due retries from the delayed set back onto their
// queues. Returns the number of tasks promoted.
func (c *Client) PromoteDelayed(ctx context.Context) (int64, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	members, err := c.rdb.ZRangeByScore(ctx, c.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed tasks: %w", err)
	}

	var promoted int64
	for _, member := range members {
		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			// Unparseable members would loop forever; drop them.
			_ = c.rdb.ZRem(ctx, c.delayedKey(), member).Err()
			continue
		}
		removed, err := c.rdb.ZRem(ctx, c.delayedKey(), member).Result()
		if err != nil {
			return promoted, fmt.Errorf("remove delayed task: %w", err)
		}
		if removed == 0 {
			// Another promoter won the race for this member.
			continue
		}
		if err := c.rdb.LPush(ctx, c.queueKey(task.Queue), member).Err(); err != nil {
			return promoted, fmt.Errorf("promote task %s: %w", task.ID, err)
		}
		promoted++
	}
	return promoted, nil
}

// StoreResult retains a finished task's outcome for the configured window.
// Results for revoked tasks are recorded as revoked regardless of the
// worker-reported status.
func (c *Client) StoreResult(ctx context.Context, result *Result) error {
	revoked, err := c.IsRevoked(ctx, result.TaskID)
	if err != nil {
		return err
	}
	if revoked {
		result.Status = ResultRevoked
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.rdb.Set(ctx, c.resultKey(result.TaskID), encoded, c.policy.ResultTTL).Err(); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

// Result fetches a retained task outcome, or nil when none is stored.
func (c *Client) Result(ctx context.Context, taskID string) (*Result, error) {
	raw, err := c.rdb.Get(ctx, c.resultKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// Revoke marks a task so it is not started, and its result not honored, if
// it is still in flight. Best effort: a worker already executing is not
// interrupted.
func (c *Client) Revoke(ctx context.Context, taskID string) error {
	if err := c.rdb.SAdd(ctx, c.revokedKey(), taskID).Err(); err != nil {
		return fmt.Errorf("revoke task: %w", err)
	}
	// Revocations expire with the result window so the set cannot grow
	// without bound.
	_ = c.rdb.Expire(ctx, c.revokedKey(), c.policy.ResultTTL).Err()
	return nil
}

// IsRevoked reports whether a task id has been revoked.
func (c *Client) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	revoked, err := c.rdb.SIsMember(ctx, c.revokedKey(), taskID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return revoked, nil
}

// QueueDepths returns the number of waiting tasks per named queue.
func (c *Client) QueueDepths(ctx context.Context) (map[Queue]int64, error) {
	depths := make(map[Queue]int64, len(AllQueues()))
	for _, queue := range AllQueues() {
		depth, err := c.rdb.LLen(ctx, c.queueKey(queue)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue depth %s: %w", queue, err)
		}
		depths[queue] = depth
	}
	return depths, nil
}
