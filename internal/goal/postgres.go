package goal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save saves a new goal
func (r *PostgresRepository) Save(ctx context.Context, g *Goal) error {
	query := `
		INSERT INTO clinical.goals (id, patient_id, category, description, status, baseline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		g.ID, g.PatientID, g.Category, g.Description, g.Status, g.Baseline, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("goal with this id already exists")
		}
		return errors.Wrap(err, "failed to save goal")
	}

	return nil
}

// Update updates an existing goal
func (r *PostgresRepository) Update(ctx context.Context, g *Goal) error {
	query := `
		UPDATE clinical.goals SET
			category = $2, description = $3, status = $4, baseline = $5, updated_at = $6
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		g.ID, g.Category, g.Description, g.Status, g.Baseline, g.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update goal")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("goal", g.ID.String())
	}

	return nil
}

const goalColumns = `id, patient_id, category, description, status, baseline, created_at, updated_at`

// FindByID finds a goal by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*Goal, error) {
	query := fmt.Sprintf(`SELECT %s FROM clinical.goals WHERE id = $1`, goalColumns)

	g := &Goal{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&g.ID, &g.PatientID, &g.Category, &g.Description, &g.Status, &g.Baseline, &g.CreatedAt, &g.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("goal", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find goal")
	}

	return g, nil
}

// FindByIDs loads a set of goals by id. Missing ids are simply absent from
// the result; callers decide whether that is an error.
func (r *PostgresRepository) FindByIDs(ctx context.Context, ids []types.ID) ([]Goal, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM clinical.goals WHERE id = ANY($1)`, goalColumns)

	uuids := make([]string, len(ids))
	for i, id := range ids {
		uuids[i] = id.String()
	}

	rows, err := r.pool.Query(ctx, query, uuids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find goals")
	}
	defer rows.Close()

	return scanGoals(rows)
}

// ListByPatient lists a patient's goals, optionally filtered by status
func (r *PostgresRepository) ListByPatient(ctx context.Context, patientID types.ID, status *Status) ([]Goal, error) {
	query := fmt.Sprintf(`SELECT %s FROM clinical.goals WHERE patient_id = $1`, goalColumns)
	args := []interface{}{patientID}

	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list goals")
	}
	defer rows.Close()

	return scanGoals(rows)
}

func scanGoals(rows pgx.Rows) ([]Goal, error) {
	var goals []Goal
	for rows.Next() {
		var g Goal
		err := rows.Scan(
			&g.ID, &g.PatientID, &g.Category, &g.Description, &g.Status, &g.Baseline, &g.CreatedAt, &g.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan goal")
		}
		goals = append(goals, g)
	}
	return goals, nil
}

// SaveAssessment upserts the attainment score for (goal, encounter)
func (r *PostgresRepository) SaveAssessment(ctx context.Context, a *Assessment) error {
	query := `
		INSERT INTO clinical.goal_assessments (goal_id, encounter_id, score, notes, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (goal_id, encounter_id)
		DO UPDATE SET score = $3, notes = $4, recorded_at = $5`

	_, err := r.pool.Exec(ctx, query, a.GoalID, a.EncounterID, a.Score, a.Notes, a.RecordedAt)
	if err != nil {
		return errors.Wrap(err, "failed to save goal assessment")
	}

	return nil
}

// ListAssessments returns the attainment history for a goal
func (r *PostgresRepository) ListAssessments(ctx context.Context, goalID types.ID) ([]Assessment, error) {
	return r.listAssessments(ctx, `goal_id = $1`, goalID)
}

// ListAssessmentsByEncounter returns all scores recorded at an encounter
func (r *PostgresRepository) ListAssessmentsByEncounter(ctx context.Context, encounterID types.ID) ([]Assessment, error) {
	return r.listAssessments(ctx, `encounter_id = $1`, encounterID)
}

func (r *PostgresRepository) listAssessments(ctx context.Context, condition string, arg any) ([]Assessment, error) {
	query := fmt.Sprintf(`
		SELECT goal_id, encounter_id, score, notes, recorded_at
		FROM clinical.goal_assessments
		WHERE %s
		ORDER BY recorded_at`, condition)

	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list goal assessments")
	}
	defer rows.Close()

	var assessments []Assessment
	for rows.Next() {
		var a Assessment
		var notes *string
		if err := rows.Scan(&a.GoalID, &a.EncounterID, &a.Score, &notes, &a.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan goal assessment")
		}
		if notes != nil {
			a.Notes = *notes
		}
		assessments = append(assessments, a)
	}

	return assessments, nil
}
