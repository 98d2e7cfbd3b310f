// Package process owns the persisted lifecycle records of the orchestrator:
// registrations, processes (one per registration and billing period),
// executions, invoices, and approval decisions. It provides the SQLite store,
// the typed status sets with their single table-driven transition validator,
// and per-entity repository views.
//
// All mutation happens through this package; no other component writes these
// tables directly.
package process
