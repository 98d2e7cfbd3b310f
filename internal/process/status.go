package process

var allStatuses = []Status{
	StatusCreated,
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusAwaitingApproval,
	StatusApproved,
	StatusSubmitted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// processTransitions is the single source of truth for legal process status
// changes. StatusFailed leaves only via explicit retry; StatusSubmitted is
// terminal.
var processTransitions = map[Status][]Status{
	StatusCreated:          {StatusPending, StatusRunning, StatusFailed},
	StatusPending:          {StatusRunning, StatusCreated, StatusFailed},
	StatusRunning:          {StatusCompleted, StatusSubmitted, StatusCreated, StatusFailed},
	StatusCompleted:        {StatusAwaitingApproval, StatusRunning, StatusFailed},
	StatusAwaitingApproval: {StatusApproved, StatusCreated, StatusFailed},
	StatusApproved:         {StatusRunning, StatusSubmitted, StatusFailed},
	StatusSubmitted:        nil,
	StatusFailed:           {StatusCreated},
}

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionRunning:   {ExecutionCompleted, ExecutionFailed},
	ExecutionCompleted: nil,
	ExecutionFailed:    nil,
}

// ValidStatus reports whether the value is a known process status.
func ValidStatus(status Status) bool {
	_, ok := statusSet[status]
	return ok
}

// Terminal reports whether a process status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSubmitted
}

// CanTransition reports whether a process may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, allowed := range processTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionExecution reports whether an execution may move from one
// status to another.
func CanTransitionExecution(from, to ExecutionStatus) bool {
	for _, allowed := range executionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DispatchableStatuses are the process states eligible for a download
// dispatch pass.
func DispatchableStatuses() []Status {
	return []Status{StatusCreated, StatusPending}
}
