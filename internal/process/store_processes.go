package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const processColumns = "id, registration_hash, period, status, detail, approval_cycle, created_at, updated_at, completed_at"

func scanProcess(scanner interface{ Scan(dest ...any) error }) (*Process, error) {
	var (
		id            int64
		regHash       string
		period        string
		statusStr     string
		detail        string
		approvalCycle int64
		createdRaw    string
		updatedRaw    string
		completedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&regHash,
		&period,
		&statusStr,
		&detail,
		&approvalCycle,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	proc := &Process{
		ID:               id,
		RegistrationHash: regHash,
		Period:           period,
		Status:           Status(statusStr),
		Detail:           detail,
		ApprovalCycle:    int(approvalCycle),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		proc.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		proc.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			proc.CompletedAt = &completed
		}
	}
	return proc, nil
}

// EnsureProcess returns the process for (registration, period), creating it
// in StatusCreated when absent. Concurrent callers racing on the same key
// converge on a single row: the insert relies on the UNIQUE constraint and
// losers simply observe the winner's row on re-read.
func (s *Store) EnsureProcess(ctx context.Context, registrationHash, period string) (*Process, bool, error) {
	if !ValidPeriod(period) {
		return nil, false, fmt.Errorf("invalid period %q", period)
	}

	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO processes (registration_hash, period, status, detail, approval_cycle, created_at, updated_at)
         VALUES (?, ?, ?, '', 0, ?, ?)
         ON CONFLICT(registration_hash, period) DO NOTHING`,
		registrationHash,
		period,
		StatusCreated,
		now,
		now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("ensure process: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	proc, err := s.FindProcess(ctx, registrationHash, period)
	if err != nil {
		return nil, false, err
	}
	return proc, inserted > 0, nil
}

// GetProcess fetches a process by identifier.
func (s *Store) GetProcess(ctx context.Context, id int64) (*Process, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processes WHERE id = ?`, id)
	proc, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get process: %w", err)
	}
	return proc, nil
}

// FindProcess fetches the process for a (registration, period) key.
func (s *Store) FindProcess(ctx context.Context, registrationHash, period string) (*Process, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+processColumns+` FROM processes WHERE registration_hash = ? AND period = ?`,
		registrationHash,
		period,
	)
	proc, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process for %s %s: %w", registrationHash, period, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find process: %w", err)
	}
	return proc, nil
}

// ListProcessesByStatus returns processes in any of the given statuses,
// oldest first. With no statuses it returns every process.
func (s *Store) ListProcessesByStatus(ctx context.Context, statuses ...Status) ([]*Process, error) {
	query := `SELECT ` + processColumns + ` FROM processes`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var procs []*Process
	for rows.Next() {
		proc, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		procs = append(procs, proc)
	}
	return procs, rows.Err()
}

// UpdateProcess persists changes to an existing process row.
func (s *Store) UpdateProcess(ctx context.Context, proc *Process) error {
	if proc == nil {
		return errors.New("process is nil")
	}
	proc.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processes
         SET registration_hash = ?, period = ?, status = ?, detail = ?,
             approval_cycle = ?, updated_at = ?, completed_at = ?
         WHERE id = ?`,
		proc.RegistrationHash,
		proc.Period,
		proc.Status,
		proc.Detail,
		proc.ApprovalCycle,
		formatTime(proc.UpdatedAt),
		nullableTime(proc.CompletedAt),
		proc.ID,
	)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("process %d: %w", proc.ID, ErrNotFound)
	}
	return nil
}

// RetryFailed moves failed processes back to created for explicit
// re-dispatch. With no ids every failed process is reset.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := formatTime(time.Now())
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE processes SET status = ?, detail = 'retry requested', updated_at = ? WHERE status = ?`,
			StatusCreated, now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed processes: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusCreated, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processes SET status = ?, detail = 'retry requested', updated_at = ?
         WHERE id IN (`+makePlaceholders(len(ids))+`) AND status = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected processes: %w", err)
	}
	return res.RowsAffected()
}

// PurgeProcess removes a process and its executions, invoices, and decisions.
// Administrative use only; normal flows never delete processes.
func (s *Store) PurgeProcess(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM processes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("purge process: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("process %d: %w", id, ErrNotFound)
	}
	return nil
}
