package tasks

import (
	"encoding/json"
	"fmt"
	"time"
)

// Queue is a named task queue.
type Queue string

const (
	QueueDownload     Queue = "download"
	QueueUpload       Queue = "upload"
	QueueApproval     Queue = "approval"
	QueueNotification Queue = "notification"
	QueueSchedule     Queue = "schedule"
)

var routingKeys = map[Queue]string{
	QueueDownload:     "acquisition",
	QueueUpload:       "submission",
	QueueApproval:     "decision",
	QueueNotification: "notify",
	QueueSchedule:     "timer",
}

// AllQueues returns every named queue in routing order.
func AllQueues() []Queue {
	return []Queue{QueueDownload, QueueUpload, QueueApproval, QueueNotification, QueueSchedule}
}

// RoutingKey returns the routing key bound to the queue.
func (q Queue) RoutingKey() string {
	return routingKeys[q]
}

// Valid reports whether the queue is one of the named queues.
func (q Queue) Valid() bool {
	_, ok := routingKeys[q]
	return ok
}

// Task is the envelope stored on a queue.
type Task struct {
	ID          string          `json:"id"`
	Queue       Queue           `json:"queue"`
	RoutingKey  string          `json:"routing_key"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// StageJob is the payload for download and upload tasks.
type StageJob struct {
	ProcessID      int64  `json:"process_id"`
	RegistrationID string `json:"registration_id"`
	Stage          string `json:"stage"`
	WorkerConfig   string `json:"worker_config"`
}

// ApprovalJob is the payload for approval tasks.
type ApprovalJob struct {
	ProcessID  int64  `json:"process_id"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
}

// NotifyAwaitingApproval is the notification event delivered through the
// notification queue when a process enters the approval gate.
const NotifyAwaitingApproval = "awaiting_approval"

// NotificationJob is the payload for notification tasks.
type NotificationJob struct {
	ProcessID    int64  `json:"process_id"`
	Event        string `json:"event"`
	InvoiceCount int    `json:"invoice_count,omitempty"`
}

// Schedule queue pass names.
const (
	PassMaterialize = "materialize"
	PassDispatch    = "dispatch"
	PassSweep       = "sweep"
)

// ScheduleJob is the payload for schedule tasks: one on-demand scheduler
// pass, run by the daemon.
type ScheduleJob struct {
	Pass   string `json:"pass"`
	Period string `json:"period,omitempty"`
}

// ResultStatus classifies a stored task outcome.
type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
	ResultRevoked   ResultStatus = "revoked"
)

// Result is the retained outcome of a finished task.
type Result struct {
	TaskID      string       `json:"task_id"`
	Queue       Queue        `json:"queue"`
	Status      ResultStatus `json:"status"`
	Detail      string       `json:"detail,omitempty"`
	Attempt     int          `json:"attempt"`
	CompletedAt time.Time    `json:"completed_at"`
}

// DecodePayload unmarshals the task payload into dst.
func (t *Task) DecodePayload(dst any) error {
	if err := json.Unmarshal(t.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Queue, err)
	}
	return nil
}
