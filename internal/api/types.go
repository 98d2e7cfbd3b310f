package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RegistrationView describes an invoice registration in a
// transport-friendly format. Tax ids are always masked on the wire.
type RegistrationView struct {
	Hash       string `json:"hash"`
	FilterName string `json:"filterName"`
	Operator   string `json:"operator"`
	Service    string `json:"service"`
	Unit       string `json:"unit"`
	TaxID      string `json:"taxId"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// ProcessView describes one process in a transport-friendly format.
type ProcessView struct {
	ID               int64  `json:"id"`
	RegistrationHash string `json:"registrationHash"`
	Period           string `json:"period"`
	Status           string `json:"status"`
	Detail           string `json:"detail,omitempty"`
	ApprovalCycle    int    `json:"approvalCycle"`
	CreatedAt        string `json:"createdAt,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
	CompletedAt      string `json:"completedAt,omitempty"`
}

// ExecutionView describes one execution attempt.
type ExecutionView struct {
	ID          int64  `json:"id"`
	ProcessID   int64  `json:"processId"`
	SessionID   string `json:"sessionId"`
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	ErrorDetail string `json:"errorDetail,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	EndedAt     string `json:"endedAt,omitempty"`
}

// InvoiceView describes one captured invoice.
type InvoiceView struct {
	ID          int64  `json:"id"`
	ProcessID   int64  `json:"processId"`
	StoragePath string `json:"storagePath"`
	DueDate     string `json:"dueDate"`
	AmountCents int64  `json:"amountCents"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// DecisionView describes one recorded approval decision.
type DecisionView struct {
	ProcessID int64  `json:"processId"`
	Cycle     int    `json:"cycle"`
	Approver  string `json:"approver"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	DecidedAt string `json:"decidedAt,omitempty"`
}

// ProcessDetail aggregates a process with its history for describe calls.
type ProcessDetail struct {
	Process    ProcessView     `json:"process"`
	Executions []ExecutionView `json:"executions"`
	Invoices   []InvoiceView   `json:"invoices"`
	Decisions  []DecisionView  `json:"decisions"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool             `json:"running"`
	PID            int              `json:"pid"`
	DatabasePath   string           `json:"databasePath"`
	LockFilePath   string           `json:"lockFilePath"`
	ProcessCounts  map[string]int   `json:"processCounts"`
	QueueDepths    map[string]int64 `json:"queueDepths,omitempty"`
	TotalProcesses int              `json:"totalProcesses"`
	RunningCount   int              `json:"runningCount"`
	FailedCount    int              `json:"failedCount"`
}

// StartExecutionRequest starts (or skips) an execution for a process. The
// process may be named directly by id or resolved from registration hash
// and period.
type StartExecutionRequest struct {
	ProcessID        int64  `json:"processId,omitempty"`
	RegistrationHash string `json:"registrationHash,omitempty"`
	Period           string `json:"period,omitempty"`
	Redownload       bool   `json:"redownload"`
}

// StartExecutionResponse reports the opened execution, or Skipped when the
// work was already satisfied.
type StartExecutionResponse struct {
	Skipped   bool           `json:"skipped"`
	Execution *ExecutionView `json:"execution,omitempty"`
}

// ExecutionStatusRequest finalizes an execution attempt.
type ExecutionStatusRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// InvoiceRequest records one captured invoice against a process.
type InvoiceRequest struct {
	StoragePath string `json:"storagePath"`
	DueDate     string `json:"dueDate"`
	AmountCents int64  `json:"amountCents"`
}

// ProcessStatusRequest moves a process to a target status.
type ProcessStatusRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DecisionRequest records an approval decision.
type DecisionRequest struct {
	Approver string `json:"approver"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// ProcessListResponse wraps a collection of processes.
type ProcessListResponse struct {
	Processes []ProcessView `json:"processes"`
}
