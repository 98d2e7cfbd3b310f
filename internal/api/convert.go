package api

import (
	"time"

	"telbill/internal/process"
)

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTime(*value)
}

// FromRegistration converts a registration to its wire form. Only the
// masked tax id ever leaves the store.
func FromRegistration(reg *process.Registration) RegistrationView {
	return RegistrationView{
		Hash:       reg.Hash,
		FilterName: reg.FilterName,
		Operator:   reg.Operator,
		Service:    reg.Service,
		Unit:       reg.Unit,
		TaxID:      reg.TaxIDMasked,
		Active:     reg.Active,
		CreatedAt:  formatTime(reg.CreatedAt),
		UpdatedAt:  formatTime(reg.UpdatedAt),
	}
}

// FromRegistrations converts a registration slice.
func FromRegistrations(regs []*process.Registration) []RegistrationView {
	views := make([]RegistrationView, 0, len(regs))
	for _, reg := range regs {
		views = append(views, FromRegistration(reg))
	}
	return views
}

// FromProcess converts a process to its wire form.
func FromProcess(proc *process.Process) ProcessView {
	return ProcessView{
		ID:               proc.ID,
		RegistrationHash: proc.RegistrationHash,
		Period:           proc.Period,
		Status:           string(proc.Status),
		Detail:           proc.Detail,
		ApprovalCycle:    proc.ApprovalCycle,
		CreatedAt:        formatTime(proc.CreatedAt),
		UpdatedAt:        formatTime(proc.UpdatedAt),
		CompletedAt:      formatTimePtr(proc.CompletedAt),
	}
}

// FromProcesses converts a process slice.
func FromProcesses(procs []*process.Process) []ProcessView {
	views := make([]ProcessView, 0, len(procs))
	for _, proc := range procs {
		views = append(views, FromProcess(proc))
	}
	return views
}

// FromExecution converts an execution to its wire form.
func FromExecution(exec *process.Execution) ExecutionView {
	return ExecutionView{
		ID:          exec.ID,
		ProcessID:   exec.ProcessID,
		SessionID:   exec.SessionID,
		Stage:       string(exec.Stage),
		Status:      string(exec.Status),
		ErrorDetail: exec.ErrorDetail,
		StartedAt:   formatTime(exec.StartedAt),
		EndedAt:     formatTimePtr(exec.EndedAt),
	}
}

// FromExecutions converts an execution slice.
func FromExecutions(execs []*process.Execution) []ExecutionView {
	views := make([]ExecutionView, 0, len(execs))
	for _, exec := range execs {
		views = append(views, FromExecution(exec))
	}
	return views
}

// FromInvoice converts an invoice to its wire form.
func FromInvoice(inv *process.Invoice) InvoiceView {
	return InvoiceView{
		ID:          inv.ID,
		ProcessID:   inv.ProcessID,
		StoragePath: inv.StoragePath,
		DueDate:     inv.DueDate,
		AmountCents: inv.AmountCents,
		CreatedAt:   formatTime(inv.CreatedAt),
	}
}

// FromInvoices converts an invoice slice.
func FromInvoices(invs []*process.Invoice) []InvoiceView {
	views := make([]InvoiceView, 0, len(invs))
	for _, inv := range invs {
		views = append(views, FromInvoice(inv))
	}
	return views
}

// FromDecision converts an approval decision to its wire form.
func FromDecision(decision *process.ApprovalDecision) DecisionView {
	return DecisionView{
		ProcessID: decision.ProcessID,
		Cycle:     decision.Cycle,
		Approver:  decision.Approver,
		Decision:  string(decision.Decision),
		Reason:    decision.Reason,
		DecidedAt: formatTime(decision.DecidedAt),
	}
}

// FromDecisions converts a decision slice.
func FromDecisions(decisions []*process.ApprovalDecision) []DecisionView {
	views := make([]DecisionView, 0, len(decisions))
	for _, decision := range decisions {
		views = append(views, FromDecision(decision))
	}
	return views
}

// MergeProcessStats normalizes per-status counts into string keys for the
// wire.
func MergeProcessStats(stats map[process.Status]int) map[string]int {
	merged := make(map[string]int, len(stats))
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}
