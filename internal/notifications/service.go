package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"telbill/internal/config"
	"telbill/internal/process"
)

const userAgent = "telbill/0.1.0"

// Service defines the notification surface exposed to lifecycle components.
type Service interface {
	NotifyProcessCompleted(ctx context.Context, proc *process.Process) error
	NotifyProcessSubmitted(ctx context.Context, proc *process.Process) error
	NotifyProcessFailed(ctx context.Context, proc *process.Process, detail string) error
	NotifyAwaitingApproval(ctx context.Context, proc *process.Process, invoiceCount int) error
	NotifyDecision(ctx context.Context, proc *process.Process, decision *process.ApprovalDecision) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	perMinute := cfg.Notifications.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		events:   cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	events   config.Notifications
}

func (n *ntfyService) NotifyProcessCompleted(ctx context.Context, proc *process.Process) error {
	if !n.events.Completed {
		return nil
	}
	data := payload{
		title:   "telbill - Download Complete",
		message: fmt.Sprintf("Invoice acquired for %s (%s)", shortHash(proc.RegistrationHash), proc.Period),
		tags:    []string{"telbill", "download", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyProcessSubmitted(ctx context.Context, proc *process.Process) error {
	if !n.events.Submitted {
		return nil
	}
	data := payload{
		title:    "telbill - Submitted",
		message:  fmt.Sprintf("Invoice submitted for %s (%s)", shortHash(proc.RegistrationHash), proc.Period),
		tags:     []string{"telbill", "upload", "submitted"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyProcessFailed(ctx context.Context, proc *process.Process, detail string) error {
	if !n.events.Failed {
		return nil
	}
	message := fmt.Sprintf("Process failed for %s (%s)", shortHash(proc.RegistrationHash), proc.Period)
	if detail = strings.TrimSpace(detail); detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}
	data := payload{
		title:    "telbill - Failed",
		message:  message,
		tags:     []string{"telbill", "process", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAwaitingApproval(ctx context.Context, proc *process.Process, invoiceCount int) error {
	if !n.events.Approval {
		return nil
	}
	data := payload{
		title:   "telbill - Awaiting Approval",
		message: fmt.Sprintf("%d invoice(s) for %s (%s) need a decision", invoiceCount, shortHash(proc.RegistrationHash), proc.Period),
		tags:    []string{"telbill", "approval", "pending"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDecision(ctx context.Context, proc *process.Process, decision *process.ApprovalDecision) error {
	if !n.events.Approval {
		return nil
	}
	verdict := "approved"
	if decision.Decision == process.DecisionRejected {
		verdict = "rejected"
	}
	message := fmt.Sprintf("%s %s the invoices for %s (%s)", decision.Approver, verdict, shortHash(proc.RegistrationHash), proc.Period)
	if reason := strings.TrimSpace(decision.Reason); reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	data := payload{
		title:   "telbill - Decision Recorded",
		message: message,
		tags:    []string{"telbill", "approval", verdict},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:   "telbill - Test",
		message: "Notifications are configured correctly",
		tags:    []string{"telbill", "test"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	// Drop rather than queue when over the rate limit; notifications are
	// advisory and must never back-pressure lifecycle transitions.
	if !n.limiter.Allow() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

type noopService struct{}

func (noopService) NotifyProcessCompleted(context.Context, *process.Process) error { return nil }
func (noopService) NotifyProcessSubmitted(context.Context, *process.Process) error { return nil }
func (noopService) NotifyProcessFailed(context.Context, *process.Process, string) error {
	return nil
}
func (noopService) NotifyAwaitingApproval(context.Context, *process.Process, int) error {
	return nil
}
func (noopService) NotifyDecision(context.Context, *process.Process, *process.ApprovalDecision) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
