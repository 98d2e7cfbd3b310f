package process

import (
	"regexp"
	"time"
)

// Status represents the lifecycle of a process.
type Status string

const (
	StatusCreated          Status = "created"
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusSubmitted        Status = "submitted"
	StatusFailed           Status = "failed"
)

// Stage identifies which half of the lifecycle an execution serves.
type Stage string

const (
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
)

// ExecutionStatus represents the lifecycle of a single execution attempt.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Decision is a human approval verdict.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// StaleSweepDetail is the detail message written to processes reset by the
// stale sweep.
const StaleSweepDetail = "reset from stale execution"

// Registration is a tracked (client, operator, service) combination keyed by
// its content hash. Registrations are never deleted, only deactivated.
type Registration struct {
	Hash        string
	FilterName  string
	Operator    string
	Service     string
	SATData     string
	Filter      string
	Unit        string
	TaxID       string
	TaxIDMasked string
	AliasHash   string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Process is the unit of work for one registration in one billing period.
type Process struct {
	ID               int64
	RegistrationHash string
	Period           string
	Status           Status
	Detail           string
	ApprovalCycle    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Execution is one timed attempt at a process's download or submission stage.
type Execution struct {
	ID          int64
	ProcessID   int64
	SessionID   string
	Stage       Stage
	Status      ExecutionStatus
	StartedAt   time.Time
	EndedAt     *time.Time
	ErrorDetail string
}

// Finalized reports whether the execution reached a terminal status and must
// no longer be mutated.
func (e *Execution) Finalized() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionFailed
}

// Invoice is the downloaded billing artifact attached to a process.
// Append-only.
type Invoice struct {
	ID          int64
	ProcessID   int64
	StoragePath string
	DueDate     string
	AmountCents int64
	CreatedAt   time.Time
}

// ApprovalDecision records a human verdict for one submission cycle of a
// process.
type ApprovalDecision struct {
	ID        int64
	ProcessID int64
	Cycle     int
	Approver  string
	Decision  Decision
	Reason    string
	DecidedAt time.Time
}

// HealthSummary describes aggregated process counts per key lifecycle state.
type HealthSummary struct {
	Total     int
	Created   int
	Pending   int
	Running   int
	Completed int
	Awaiting  int
	Submitted int
	Failed    int
}

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidPeriod reports whether the string is a YYYY-MM billing period.
func ValidPeriod(period string) bool {
	return periodPattern.MatchString(period)
}

// CurrentPeriod returns the billing period containing the given time.
func CurrentPeriod(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// ValidDueDate reports whether the string is an extractable YYYY-MM-DD due
// date.
func ValidDueDate(dueDate string) bool {
	_, err := time.Parse("2006-01-02", dueDate)
	return err == nil
}
