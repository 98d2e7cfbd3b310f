package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const registrationColumns = "hash, filter_name, operator, service, sat_data, filter, unit, tax_id, tax_id_masked, alias_hash, active, created_at, updated_at"

func scanRegistration(scanner interface{ Scan(dest ...any) error }) (*Registration, error) {
	var (
		hash        string
		filterName  string
		operator    string
		service     string
		satData     string
		filter      string
		unit        string
		taxID       string
		taxIDMasked string
		aliasHash   sql.NullString
		active      int64
		createdRaw  string
		updatedRaw  string
	)

	if err := scanner.Scan(
		&hash,
		&filterName,
		&operator,
		&service,
		&satData,
		&filter,
		&unit,
		&taxID,
		&taxIDMasked,
		&aliasHash,
		&active,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	reg := &Registration{
		Hash:        hash,
		FilterName:  filterName,
		Operator:    operator,
		Service:     service,
		SATData:     satData,
		Filter:      filter,
		Unit:        unit,
		TaxID:       taxID,
		TaxIDMasked: taxIDMasked,
		AliasHash:   aliasHash.String,
		Active:      active != 0,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		reg.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		reg.UpdatedAt = updated
	}
	return reg, nil
}

// UpsertRegistration inserts a registration or refreshes its attributes when
// the hash already exists. The ingestion feed calls this; registrations are
// never deleted.
func (s *Store) UpsertRegistration(ctx context.Context, reg *Registration) error {
	if reg == nil {
		return errors.New("registration is nil")
	}
	if strings.TrimSpace(reg.Hash) == "" {
		return errors.New("registration hash must not be empty")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(hash) DO UPDATE SET
             filter_name = excluded.filter_name,
             operator = excluded.operator,
             service = excluded.service,
             sat_data = excluded.sat_data,
             filter = excluded.filter,
             unit = excluded.unit,
             tax_id = excluded.tax_id,
             tax_id_masked = excluded.tax_id_masked,
             alias_hash = excluded.alias_hash,
             active = excluded.active,
             updated_at = excluded.updated_at`,
		reg.Hash,
		reg.FilterName,
		reg.Operator,
		reg.Service,
		reg.SATData,
		reg.Filter,
		reg.Unit,
		reg.TaxID,
		reg.TaxIDMasked,
		nullableString(reg.AliasHash),
		boolToInt(reg.Active),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert registration: %w", err)
	}
	return nil
}

// GetRegistration fetches one registration by hash.
func (s *Store) GetRegistration(ctx context.Context, hash string) (*Registration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE hash = ?`, hash)
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registration %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// ListRegistrations returns registrations, optionally restricted to an
// operator code. Inactive registrations are included only when includeInactive
// is set.
func (s *Store) ListRegistrations(ctx context.Context, operator string, includeInactive bool) ([]*Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations`
	var clauses []string
	var args []any
	if !includeInactive {
		clauses = append(clauses, "active = 1")
	}
	if operator = strings.TrimSpace(operator); operator != "" {
		clauses = append(clauses, "operator = ?")
		args = append(args, operator)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY hash"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []*Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// DeactivateRegistration marks a registration inactive so materialization
// skips it.
func (s *Store) DeactivateRegistration(ctx context.Context, hash string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE registrations SET active = 0, updated_at = ? WHERE hash = ?`,
		formatTime(time.Now()),
		hash,
	)
	if err != nil {
		return fmt.Errorf("deactivate registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("registration %s: %w", hash, ErrNotFound)
	}
	return nil
}

// Rekey migrates a registration to a newly computed identity hash. Processes
// linked to the old hash are migrated for the given period only; historical
// periods keep the old hash. When no process exists under the old hash for
// the period, only the registration row is updated.
func (s *Store) Rekey(ctx context.Context, oldHash, newHash, period string) error {
	if oldHash == newHash {
		return nil
	}
	if !ValidPeriod(period) {
		return fmt.Errorf("invalid period %q", period)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())

		res, err := tx.ExecContext(
			ctx,
			`UPDATE registrations SET hash = ?, alias_hash = ?, updated_at = ? WHERE hash = ?`,
			newHash, oldHash, now, oldHash,
		)
		if err != nil {
			return fmt.Errorf("rekey registration: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("registration %s: %w", oldHash, ErrNotFound)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE processes SET registration_hash = ?, updated_at = ?
             WHERE registration_hash = ? AND period = ?`,
			newHash, now, oldHash, period,
		); err != nil {
			return fmt.Errorf("migrate processes: %w", err)
		}
		return nil
	})
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
