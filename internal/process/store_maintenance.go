package process

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats returns a count of processes grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM processes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("process stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates process state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusCreated:
			health.Created += count
		case StatusPending:
			health.Pending += count
		case StatusRunning:
			health.Running += count
		case StatusCompleted, StatusApproved:
			health.Completed += count
		case StatusAwaitingApproval:
			health.Awaiting += count
		case StatusSubmitted:
			health.Submitted += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// FailProcessAndExecution applies StatusFailed to a process and finalizes
// one of its executions as failed in a single transaction, so callers never
// observe one write without the other.
func (s *Store) FailProcessAndExecution(ctx context.Context, processID int64, sessionID, detail string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())

		res, err := tx.ExecContext(
			ctx,
			`UPDATE processes SET status = ?, detail = ?, updated_at = ? WHERE id = ? AND status != ?`,
			StatusFailed, detail, now, processID, StatusSubmitted,
		)
		if err != nil {
			return fmt.Errorf("fail process: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("process %d: %w", processID, ErrNotFound)
		}

		res, err = tx.ExecContext(
			ctx,
			`UPDATE executions SET status = ?, ended_at = ?, error_detail = ?
             WHERE session_id = ? AND status = ?`,
			ExecutionFailed, now, detail, sessionID, ExecutionRunning,
		)
		if err != nil {
			return fmt.Errorf("fail execution: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("execution %s: %w", sessionID, ErrFinalized)
		}
		return nil
	})
}

// SweepStale reclaims executions stuck in ExecutionRunning since before the
// cutoff: each is finalized as failed and its process reset to StatusCreated
// so the next dispatch pass retries acquisition. Returns the number of
// processes reset. Processes already terminal or failed are left alone.
func (s *Store) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var reset int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cut := formatTime(cutoff)
		now := formatTime(time.Now())

		rows, err := tx.QueryContext(
			ctx,
			`SELECT id, process_id FROM executions WHERE status = ? AND started_at < ?`,
			ExecutionRunning,
			cut,
		)
		if err != nil {
			return fmt.Errorf("find stale executions: %w", err)
		}
		var execIDs []int64
		procSet := make(map[int64]struct{})
		for rows.Next() {
			var execID, procID int64
			if err := rows.Scan(&execID, &procID); err != nil {
				rows.Close()
				return err
			}
			execIDs = append(execIDs, execID)
			procSet[procID] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(execIDs) == 0 {
			return nil
		}

		args := make([]any, 0, len(execIDs)+3)
		args = append(args, ExecutionFailed, now, StaleSweepDetail)
		for _, id := range execIDs {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE executions SET status = ?, ended_at = ?, error_detail = ?
             WHERE id IN (`+makePlaceholders(len(execIDs))+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("fail stale executions: %w", err)
		}

		procIDs := make([]int64, 0, len(procSet))
		for id := range procSet {
			procIDs = append(procIDs, id)
		}
		args = make([]any, 0, len(procIDs)+5)
		args = append(args, StatusCreated, StaleSweepDetail, now)
		for _, id := range procIDs {
			args = append(args, id)
		}
		args = append(args, StatusPending, StatusRunning)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE processes SET status = ?, detail = ?, updated_at = ?
             WHERE id IN (`+makePlaceholders(len(procIDs))+`) AND status IN (?, ?)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("reset stale processes: %w", err)
		}
		reset, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}
