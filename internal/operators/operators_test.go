package operators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"telbill/internal/config"
)

type stubWorker struct{}

func (stubWorker) Download(context.Context, Job) (Result, error) { return Result{}, nil }
func (stubWorker) Upload(context.Context, Job) (Result, error)   { return Result{}, nil }

func TestRegistryMatchesCodesCaseInsensitively(t *testing.T) {
	registry := NewRegistry()
	registry.Register("vivo", stubWorker{})

	if _, err := registry.Worker("VIVO"); err != nil {
		t.Fatalf("resolve VIVO: %v", err)
	}
	if _, err := registry.Worker(" Vivo "); err != nil {
		t.Fatalf("resolve padded code: %v", err)
	}
	if _, err := registry.Worker("CLARO"); err == nil {
		t.Fatal("expected unknown operator error")
	}
}

func TestHTTPWorkerDownload(t *testing.T) {
	var gotPath, gotAuth string
	var gotJob Job
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotJob); err != nil {
			t.Errorf("decode job: %v", err)
		}
		json.NewEncoder(w).Encode(Result{
			Invoices: []InvoiceResult{{StoragePath: "invoices/2026-08/x.pdf", DueDate: "2026-09-10", AmountCents: 45000}},
		})
	}))
	defer server.Close()

	worker := NewHTTPWorker("OI", config.Operator{Endpoint: server.URL, Token: "secret"})
	result, err := worker.Download(context.Background(), Job{SessionID: "abc-1", ProcessID: 7, Period: "2026-08"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if gotPath != "/download" {
		t.Fatalf("path = %s, want /download", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotJob.ProcessID != 7 {
		t.Fatalf("job process id = %d, want 7", gotJob.ProcessID)
	}
	if len(result.Invoices) != 1 || result.Invoices[0].AmountCents != 45000 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestHTTPWorkerSurfacesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "portal under maintenance", http.StatusBadGateway)
	}))
	defer server.Close()

	worker := NewHTTPWorker("TIM", config.Operator{Endpoint: server.URL})
	if _, err := worker.Upload(context.Background(), Job{SessionID: "abc-2"}); err == nil {
		t.Fatal("expected error")
	} else if !strings.Contains(err.Error(), "portal under maintenance") {
		t.Fatalf("err = %v, want body detail", err)
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Operators = map[string]config.Operator{
		"vivo": {Endpoint: "http://localhost:9000"},
		"OI":   {Endpoint: "http://localhost:9001"},
	}
	registry := NewRegistryFromConfig(&cfg)

	codes := registry.Codes()
	if len(codes) != 2 || codes[0] != "OI" || codes[1] != "VIVO" {
		t.Fatalf("codes = %v", codes)
	}
}
