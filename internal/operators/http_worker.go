package operators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telbill/internal/config"
)

const defaultTimeout = 10 * time.Minute

// HTTPWorker drives one operator's automation endpoint. The endpoint
// exposes POST /download and POST /upload accepting a Job and returning a
// Result; non-2xx replies surface as errors with the response body as
// detail.
type HTTPWorker struct {
	code     string
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPWorker builds a worker over the configured automation endpoint.
func NewHTTPWorker(code string, cfg config.Operator) *HTTPWorker {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &HTTPWorker{
		code:     normalizeCode(code),
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewRegistryFromConfig builds a registry with an HTTP worker per
// configured operator.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	registry := NewRegistry()
	for code, op := range cfg.Operators {
		registry.Register(code, NewHTTPWorker(code, op))
	}
	return registry
}

// Download runs invoice acquisition for the job.
func (w *HTTPWorker) Download(ctx context.Context, job Job) (Result, error) {
	return w.post(ctx, "download", job)
}

// Upload runs invoice submission for the job.
func (w *HTTPWorker) Upload(ctx context.Context, job Job) (Result, error) {
	return w.post(ctx, "upload", job)
}

func (w *HTTPWorker) post(ctx context.Context, action string, job Job) (Result, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return Result{}, fmt.Errorf("marshal %s job: %w", action, err)
	}

	url := w.endpoint + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s %s for %s: %w", action, w.code, job.SessionID, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(payload))
		if detail == "" {
			detail = resp.Status
		}
		return Result{}, fmt.Errorf("%s %s for %s: %s", action, w.code, job.SessionID, detail)
	}

	var result Result
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &result); err != nil {
			return Result{}, fmt.Errorf("decode %s response: %w", action, err)
		}
	}
	return result, nil
}
