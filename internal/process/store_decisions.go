package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const decisionColumns = "id, process_id, cycle, approver, decision, reason, decided_at"

func scanDecision(scanner interface{ Scan(dest ...any) error }) (*ApprovalDecision, error) {
	var (
		id         int64
		processID  int64
		cycle      int64
		approver   string
		decision   string
		reason     string
		decidedRaw string
	)

	if err := scanner.Scan(&id, &processID, &cycle, &approver, &decision, &reason, &decidedRaw); err != nil {
		return nil, err
	}

	dec := &ApprovalDecision{
		ID:        id,
		ProcessID: processID,
		Cycle:     int(cycle),
		Approver:  approver,
		Decision:  Decision(decision),
		Reason:    reason,
	}
	if decided, err := parseTimeString(decidedRaw); err == nil {
		dec.DecidedAt = decided
	}
	return dec, nil
}

// InsertDecision records a verdict for one approval cycle. The UNIQUE
// (process_id, cycle) constraint enforces at most one decision per cycle; a
// second insert maps to ErrConflict.
func (s *Store) InsertDecision(ctx context.Context, processID int64, cycle int, approver string, decision Decision, reason string) (*ApprovalDecision, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, errors.New("approver must not be empty")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO decisions (process_id, cycle, approver, decision, reason, decided_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		processID,
		cycle,
		approver,
		decision,
		reason,
		formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("decision for process %d cycle %d: %w", processID, cycle, ErrConflict)
		}
		return nil, fmt.Errorf("insert decision: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &ApprovalDecision{
		ID:        id,
		ProcessID: processID,
		Cycle:     cycle,
		Approver:  approver,
		Decision:  decision,
		Reason:    reason,
		DecidedAt: now,
	}, nil
}

// GetDecision fetches the decision for a process's approval cycle, or nil
// when none was recorded.
func (s *Store) GetDecision(ctx context.Context, processID int64, cycle int) (*ApprovalDecision, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE process_id = ? AND cycle = ?`,
		processID,
		cycle,
	)
	dec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return dec, nil
}

// ListDecisions returns every decision recorded for a process, oldest first.
func (s *Store) ListDecisions(ctx context.Context, processID int64) ([]*ApprovalDecision, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE process_id = ? ORDER BY cycle`,
		processID,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decs []*ApprovalDecision
	for rows.Next() {
		dec, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decs = append(decs, dec)
	}
	return decs, rows.Err()
}
