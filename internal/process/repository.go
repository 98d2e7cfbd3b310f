package process

import (
	"context"
	"fmt"
)

// Kind identifies a persisted entity family.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindProcess      Kind = "process"
	KindExecution    Kind = "execution"
	KindInvoice      Kind = "invoice"
	KindDecision     Kind = "decision"
)

// Repository is the capability shared by every entity repository. Typed
// accessors live on the concrete repositories; this interface lets generic
// tooling (health, CLI inspection) iterate entity kinds without
// string-keyed reflection.
type Repository interface {
	Kind() Kind
	Count(ctx context.Context) (int64, error)
}

type tableRepository struct {
	store *Store
	kind  Kind
	table string
}

func (r tableRepository) Kind() Kind { return r.kind }

func (r tableRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+r.table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.table, err)
	}
	return count, nil
}

// Repositories returns the entity-kind registry for this store. The map is
// rebuilt per call; repositories are stateless views over the store.
func (s *Store) Repositories() map[Kind]Repository {
	return map[Kind]Repository{
		KindRegistration: tableRepository{store: s, kind: KindRegistration, table: "registrations"},
		KindProcess:      tableRepository{store: s, kind: KindProcess, table: "processes"},
		KindExecution:    tableRepository{store: s, kind: KindExecution, table: "executions"},
		KindInvoice:      tableRepository{store: s, kind: KindInvoice, table: "invoices"},
		KindDecision:     tableRepository{store: s, kind: KindDecision, table: "decisions"},
	}
}

// Repository returns the repository for one entity kind.
func (s *Store) Repository(kind Kind) (Repository, bool) {
	repo, ok := s.Repositories()[kind]
	return repo, ok
}
