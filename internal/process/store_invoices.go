package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const invoiceColumns = "id, process_id, storage_path, due_date, amount_cents, created_at"

func scanInvoice(scanner interface{ Scan(dest ...any) error }) (*Invoice, error) {
	var (
		id          int64
		processID   int64
		storagePath string
		dueDate     string
		amountCents int64
		createdRaw  string
	)

	if err := scanner.Scan(&id, &processID, &storagePath, &dueDate, &amountCents, &createdRaw); err != nil {
		return nil, err
	}

	inv := &Invoice{
		ID:          id,
		ProcessID:   processID,
		StoragePath: storagePath,
		DueDate:     dueDate,
		AmountCents: amountCents,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		inv.CreatedAt = created
	}
	return inv, nil
}

// AppendInvoice attaches a downloaded artifact to a process. Invoices are
// append-only and never mutated afterwards.
func (s *Store) AppendInvoice(ctx context.Context, processID int64, storagePath, dueDate string, amountCents int64) (*Invoice, error) {
	if strings.TrimSpace(storagePath) == "" {
		return nil, errors.New("storage path must not be empty")
	}
	if !ValidDueDate(dueDate) {
		return nil, fmt.Errorf("invalid due date %q", dueDate)
	}

	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO invoices (process_id, storage_path, due_date, amount_cents, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		processID,
		storagePath,
		dueDate,
		amountCents,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("append invoice: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &Invoice{
		ID:          id,
		ProcessID:   processID,
		StoragePath: storagePath,
		DueDate:     dueDate,
		AmountCents: amountCents,
		CreatedAt:   now,
	}, nil
}

// ListInvoices returns the invoices attached to a process, oldest first.
func (s *Store) ListInvoices(ctx context.Context, processID int64) ([]*Invoice, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE process_id = ? ORDER BY id`,
		processID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
