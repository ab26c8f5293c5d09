package infrastructure

import (
	"context"

	"github.com/brain-byt-es/bont-db-sub000/internal/audit"
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
)

// AtomicStore couples encounter persistence with the audit chain. Status
// transitions must not land without their audit entry, so the entry is
// appended before the encounter row changes and both share one transaction
// on the PostgreSQL backend.
type AtomicStore struct {
	*PostgresRepository
	audit audit.Repository
}

// NewAtomicStore creates a store writing through the given audit backend
func NewAtomicStore(repo *PostgresRepository, auditRepo audit.Repository) *AtomicStore {
	return &AtomicStore{PostgresRepository: repo, audit: auditRepo}
}

// UpdateWithAudit appends the audit entry and persists the encounter. A
// failed append aborts the whole operation; the status never changes
// unaudited.
func (s *AtomicStore) UpdateWithAudit(ctx context.Context, e *domain.Encounter, entry *audit.Entry) error {
	tx, err := s.Pool().Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := s.audit.AppendTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := s.UpdateTx(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}
