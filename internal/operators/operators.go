// Package operators defines the capability interface for per-carrier
// automation workers and the registry the task runner resolves them from.
// Workers live outside this daemon; the HTTP implementation here fronts
// the configured automation endpoint for each operator code.
package operators

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Known operator codes. The registry accepts any code the configuration
// names; these are the carriers the ingestion pipeline produces today.
const (
	CodeEmbratel = "EMBRATEL"
	CodeOI       = "OI"
	CodeVivo     = "VIVO"
	CodeClaro    = "CLARO"
	CodeTim      = "TIM"
)

// ErrUnknownOperator is returned when no worker is registered for a code.
var ErrUnknownOperator = errors.New("unknown operator")

// Job carries what a worker needs to act on one execution.
type Job struct {
	SessionID  string `json:"session_id"`
	ProcessID  int64  `json:"process_id"`
	Period     string `json:"period"`
	Operator   string `json:"operator"`
	FilterName string `json:"filter_name"`
	SATData    string `json:"sat_data"`
	Filter     string `json:"filter"`
	Unit       string `json:"unit"`
	TaxID      string `json:"tax_id"`
}

// InvoiceResult is one invoice a download run produced.
type InvoiceResult struct {
	StoragePath string `json:"storage_path"`
	DueDate     string `json:"due_date"`
	AmountCents int64  `json:"amount_cents"`
}

// Result is the outcome of a worker run. Download runs populate Invoices;
// upload runs populate Protocol.
type Result struct {
	Invoices []InvoiceResult `json:"invoices,omitempty"`
	Protocol string          `json:"protocol,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// Worker is the capability surface for one operator's automation.
type Worker interface {
	Download(ctx context.Context, job Job) (Result, error)
	Upload(ctx context.Context, job Job) (Result, error)
}

// Registry resolves workers by operator code. Codes are matched
// case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// Register installs a worker for a code, replacing any previous one.
func (r *Registry) Register(code string, worker Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[normalizeCode(code)] = worker
}

// Worker resolves the worker for a code.
func (r *Registry) Worker(code string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	worker, ok := r.workers[normalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, code)
	}
	return worker, nil
}

// Codes lists the registered operator codes, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.workers))
	for code := range r.workers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
