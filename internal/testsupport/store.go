package testsupport

import (
	"context"
	"testing"

	"telbill/internal/config"
	"telbill/internal/identity"
	"telbill/internal/process"
)

// MustOpenStore opens a process.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *process.Store {
	t.Helper()

	store, err := process.Open(cfg)
	if err != nil {
		t.Fatalf("process.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRegistration inserts an active registration for tests and returns it.
// The hash is derived from the same identity fields production uses.
func NewRegistration(t testing.TB, store *process.Store, filterName, operator string) *process.Registration {
	t.Helper()

	service := "TELEFONIA"
	unit := "HQ"
	taxID := "12.345.678/0001-00"
	reg := &process.Registration{
		Hash:        identity.Hash(operator, service, filterName, unit, taxID),
		FilterName:  filterName,
		Operator:    operator,
		Service:     service,
		SATData:     "sat-" + filterName,
		Filter:      filterName,
		Unit:        unit,
		TaxID:       taxID,
		TaxIDMasked: "12.***.***/0001-00",
		Active:      true,
	}
	if err := store.UpsertRegistration(context.Background(), reg); err != nil {
		t.Fatalf("store.UpsertRegistration: %v", err)
	}
	stored, err := store.GetRegistration(context.Background(), reg.Hash)
	if err != nil {
		t.Fatalf("store.GetRegistration: %v", err)
	}
	return stored
}

// NewProcess materializes a process for the registration and period.
func NewProcess(t testing.TB, store *process.Store, registrationHash, period string) *process.Process {
	t.Helper()

	proc, _, err := store.EnsureProcess(context.Background(), registrationHash, period)
	if err != nil {
		t.Fatalf("store.EnsureProcess: %v", err)
	}
	return proc
}
