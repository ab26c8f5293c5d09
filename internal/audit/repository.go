package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Repository defines audit storage operations. Implementations are
// append-only: entries are never updated or deleted. This is the AuditSink
// the lifecycle service writes through; a failed Append must fail the
// surrounding operation.
type Repository interface {
	// Initialize loads initial chain state (last hash, sequence)
	Initialize(ctx context.Context) error

	// Append appends a new audit entry
	Append(ctx context.Context, entry *Entry) error

	// AppendTx appends a new audit entry inside an existing transaction so
	// the entry commits atomically with the status change it records.
	// Backends without transaction support fall back to Append.
	AppendTx(ctx context.Context, tx pgx.Tx, entry *Entry) error

	// FindByID finds an audit entry by ID
	FindByID(ctx context.Context, id types.ID) (*Entry, error)

	// List lists audit entries with filters
	List(ctx context.Context, filter ListFilter) ([]*Entry, int, error)

	// GetByResource gets audit entries for a specific resource
	GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*Entry, error)

	// VerifyChain verifies the integrity of the audit chain
	VerifyChain(ctx context.Context, limit int) (*VerifyResult, error)

	// GetLastHash returns the last hash in the chain
	GetLastHash() string
}

// PostgresRepository stores the audit chain in an append-only table.
type PostgresRepository struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
	// lastHash is a hint for GetLastHash only. The append path never trusts
	// it: chain links are derived from the querier so a rolled-back
	// transaction cannot leave phantom state behind.
	lastHash string
}

// NewPostgresRepository creates a new postgres audit repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

// Initialize loads the last committed hash for the GetLastHash hint
func (r *PostgresRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastHash string
	var sequence int64
	err := r.pool.QueryRow(ctx, `
		SELECT hash, sequence FROM audit.entries
		ORDER BY sequence DESC LIMIT 1`).Scan(&lastHash, &sequence)

	if err == pgx.ErrNoRows {
		r.lastHash = ""
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to load audit chain state")
	}

	r.lastHash = lastHash
	return nil
}

// Append appends a new audit entry (thread-safe)
func (r *PostgresRepository) Append(ctx context.Context, entry *Entry) error {
	return r.append(ctx, r.pool, entry)
}

// AppendTx appends within the caller's transaction, so the entry commits
// atomically with the change it records.
func (r *PostgresRepository) AppendTx(ctx context.Context, tx pgx.Tx, entry *Entry) error {
	return r.append(ctx, tx, entry)
}

// chainQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type chainQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// append links the entry to the chain tip as the querier sees it: committed
// state on the pool, committed state plus the transaction's own writes on a
// tx. If the surrounding transaction rolls back the entry vanishes with it
// and nothing dangles; the next append re-reads the committed tip. The
// UNIQUE constraint on sequence rejects the loser if two appends race across
// open transactions.
func (r *PostgresRepository) append(ctx context.Context, q chainQuerier, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prevHash string
	var sequence int64
	err := q.QueryRow(ctx, `
		SELECT hash, sequence FROM audit.entries
		ORDER BY sequence DESC LIMIT 1`).Scan(&prevHash, &sequence)
	if err == pgx.ErrNoRows {
		prevHash = ""
		sequence = 0
	} else if err != nil {
		return errors.Wrap(err, "failed to read audit chain tip")
	}

	entry.Sequence = sequence + 1
	entry.PrevHash = prevHash
	entry.Hash = entry.ComputeHash()

	_, err = q.Exec(ctx, `
		INSERT INTO audit.entries (
			id, sequence, timestamp, hash, prev_hash,
			actor_type, actor_id, actor_org_id, actor_ip,
			action, resource_type, resource_id, changes, justification
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.ID, entry.Sequence, entry.Timestamp, entry.Hash, nullString(entry.PrevHash),
		entry.ActorType, entry.ActorID, entry.ActorOrgID, nullString(entry.ActorIP),
		entry.Action, entry.ResourceType, entry.ResourceID, entry.Changes, nullString(entry.Justification),
	)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FindByID finds an audit entry by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*Entry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, selectEntry+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("audit entry", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find audit entry")
	}
	return entry, nil
}

const selectEntry = `
	SELECT id, sequence, timestamp, hash, prev_hash,
		actor_type, actor_id, actor_org_id, actor_ip,
		action, resource_type, resource_id, changes, justification
	FROM audit.entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var prevHash, actorIP, justification *string
	err := row.Scan(
		&e.ID, &e.Sequence, &e.Timestamp, &e.Hash, &prevHash,
		&e.ActorType, &e.ActorID, &e.ActorOrgID, &actorIP,
		&e.Action, &e.ResourceType, &e.ResourceID, &e.Changes, &justification,
	)
	if err != nil {
		return nil, err
	}
	if prevHash != nil {
		e.PrevHash = *prevHash
	}
	if actorIP != nil {
		e.ActorIP = *actorIP
	}
	if justification != nil {
		e.Justification = *justification
	}
	return e, nil
}

// List lists audit entries with filters
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Entry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.ActorID != nil {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argNum))
		args = append(args, *filter.ActorID)
		argNum++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argNum))
		args = append(args, filter.Action)
		argNum++
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argNum))
		args = append(args, filter.ResourceType)
		argNum++
	}
	if filter.ResourceID != nil {
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", argNum))
		args = append(args, *filter.ResourceID)
		argNum++
	}
	if filter.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argNum))
		args = append(args, *filter.StartTime)
		argNum++
	}
	if filter.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argNum))
		args = append(args, *filter.EndTime)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit.entries %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count audit entries")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 500 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`%s %s ORDER BY sequence DESC LIMIT $%d OFFSET $%d`,
		selectEntry, whereClause, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}

	return entries, total, nil
}

// GetByResource gets audit entries for a specific resource
func (r *PostgresRepository) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		selectEntry+` WHERE resource_type = $1 AND resource_id = $2 ORDER BY sequence DESC LIMIT $3`,
		resourceType, resourceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get audit entries by resource")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// VerifyChain walks the chain oldest-first and checks each entry's hash and
// prev_hash link.
func (r *PostgresRepository) VerifyChain(ctx context.Context, limit int) (*VerifyResult, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := r.pool.Query(ctx, selectEntry+` ORDER BY sequence ASC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read audit chain")
	}
	defer rows.Close()

	result := &VerifyResult{Valid: true}
	prevHash := ""
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}

		if !entry.VerifyHash() {
			result.Valid = false
			result.BrokenAt = &entry.ID
			result.BrokenIndex = result.Checked
			result.Reason = "entry hash mismatch"
			break
		}
		if entry.PrevHash != prevHash {
			result.Valid = false
			result.BrokenAt = &entry.ID
			result.BrokenIndex = result.Checked
			result.Reason = "chain link mismatch"
			break
		}

		prevHash = entry.Hash
		result.Checked++
	}

	return result, nil
}

// GetLastHash returns the last hash in the chain
func (r *PostgresRepository) GetLastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}
