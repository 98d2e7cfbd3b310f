package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const executionColumns = "id, process_id, session_id, stage, status, started_at, ended_at, error_detail"

func scanExecution(scanner interface{ Scan(dest ...any) error }) (*Execution, error) {
	var (
		id         int64
		processID  int64
		sessionID  string
		stage      string
		statusStr  string
		startedRaw string
		endedRaw   sql.NullString
		errDetail  string
	)

	if err := scanner.Scan(
		&id,
		&processID,
		&sessionID,
		&stage,
		&statusStr,
		&startedRaw,
		&endedRaw,
		&errDetail,
	); err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:          id,
		ProcessID:   processID,
		SessionID:   sessionID,
		Stage:       Stage(stage),
		Status:      ExecutionStatus(statusStr),
		ErrorDetail: errDetail,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		exec.StartedAt = started
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			exec.EndedAt = &ended
		}
	}
	return exec, nil
}

// InsertExecution records a new attempt in ExecutionRunning. The session id
// carries the uniqueness constraint; a duplicate session maps to ErrConflict.
func (s *Store) InsertExecution(ctx context.Context, processID int64, sessionID string, stage Stage) (*Execution, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id must not be empty")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO executions (process_id, session_id, stage, status, started_at, error_detail)
         VALUES (?, ?, ?, ?, ?, '')`,
		processID,
		sessionID,
		stage,
		ExecutionRunning,
		formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrConflict)
		}
		return nil, fmt.Errorf("insert execution: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &Execution{
		ID:        id,
		ProcessID: processID,
		SessionID: sessionID,
		Stage:     stage,
		Status:    ExecutionRunning,
		StartedAt: now,
	}, nil
}

// GetExecutionBySession fetches an execution by its session identifier.
func (s *Store) GetExecutionBySession(ctx context.Context, sessionID string) (*Execution, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+executionColumns+` FROM executions WHERE session_id = ?`,
		sessionID,
	)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns every attempt recorded for a process, oldest first.
func (s *Store) ListExecutions(ctx context.Context, processID int64) ([]*Execution, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+executionColumns+` FROM executions WHERE process_id = ? ORDER BY id`,
		processID,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// FinalizeExecution transitions an execution to a terminal status and stamps
// the end time. Finalized executions are immutable: a second finalization
// returns ErrFinalized.
func (s *Store) FinalizeExecution(ctx context.Context, sessionID string, status ExecutionStatus, detail string) (*Execution, error) {
	exec, err := s.GetExecutionBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if exec.Finalized() {
		return nil, fmt.Errorf("execution %s: %w", sessionID, ErrFinalized)
	}
	if !CanTransitionExecution(exec.Status, status) {
		return nil, fmt.Errorf("execution %s: illegal transition %s -> %s", sessionID, exec.Status, status)
	}

	now := time.Now().UTC()
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE executions SET status = ?, ended_at = ?, error_detail = ? WHERE session_id = ? AND status = ?`,
		status,
		formatTime(now),
		detail,
		sessionID,
		ExecutionRunning,
	); err != nil {
		return nil, fmt.Errorf("finalize execution: %w", err)
	}

	exec.Status = status
	exec.EndedAt = &now
	exec.ErrorDetail = detail
	return exec, nil
}
