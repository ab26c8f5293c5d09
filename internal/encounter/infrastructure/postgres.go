package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Pool exposes the underlying pool so callers can span an encounter write
// and an audit append in one transaction.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Save inserts a new encounter together with all its child rows
func (r *PostgresRepository) Save(ctx context.Context, e *domain.Encounter) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := r.ensurePatient(ctx, tx, e.PatientID, e.OrganizationID); err != nil {
		return err
	}

	query := `
		INSERT INTO clinical.encounters (
			id, patient_id, organization_id, provider_id, status,
			indication, indication_group, treatment_site,
			product_name, vial_size_units, dilution_ml, total_units,
			encounter_date, notes, signed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`

	_, err = tx.Exec(ctx, query,
		e.ID, e.PatientID, e.OrganizationID, e.ProviderID, e.Status,
		e.Indication, e.IndicationGroup, e.TreatmentSite,
		e.ProductName, e.VialSizeUnits, e.DilutionMl, e.TotalUnits,
		e.EncounterDate, e.Notes, e.SignedAt, e.CreatedAt, e.UpdatedAt,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("encounter with this id already exists")
		}
		return errors.Wrap(err, "failed to save encounter")
	}

	if err := r.saveChildren(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// Update rewrites the encounter row and replaces all child rows. Using one
// transaction keeps total_units consistent with the injection rows.
func (r *PostgresRepository) Update(ctx context.Context, e *domain.Encounter) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := r.updateTx(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// UpdateTx performs the update inside a caller-provided transaction. The
// sign and reopen flows use this so the status change and its audit entry
// commit or abort together.
func (r *PostgresRepository) UpdateTx(ctx context.Context, tx pgx.Tx, e *domain.Encounter) error {
	return r.updateTx(ctx, tx, e)
}

func (r *PostgresRepository) updateTx(ctx context.Context, tx pgx.Tx, e *domain.Encounter) error {
	query := `
		UPDATE clinical.encounters SET
			status = $2, indication = $3, indication_group = $4, treatment_site = $5,
			product_name = $6, vial_size_units = $7, dilution_ml = $8, total_units = $9,
			encounter_date = $10, notes = $11, signed_at = $12, updated_at = $13
		WHERE id = $1`

	result, err := tx.Exec(ctx, query,
		e.ID, e.Status, e.Indication, e.IndicationGroup, e.TreatmentSite,
		e.ProductName, e.VialSizeUnits, e.DilutionMl, e.TotalUnits,
		e.EncounterDate, e.Notes, e.SignedAt, e.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update encounter")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("encounter", e.ID.String())
	}

	// Replace children wholesale; assessments cascade with their injections.
	if _, err := tx.Exec(ctx, `DELETE FROM clinical.injections WHERE encounter_id = $1`, e.ID); err != nil {
		return errors.Wrap(err, "failed to clear injections")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM clinical.global_assessments WHERE encounter_id = $1`, e.ID); err != nil {
		return errors.Wrap(err, "failed to clear global assessments")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM clinical.goal_targets WHERE encounter_id = $1`, e.ID); err != nil {
		return errors.Wrap(err, "failed to clear goal targets")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM clinical.followups WHERE encounter_id = $1`, e.ID); err != nil {
		return errors.Wrap(err, "failed to clear followup")
	}

	return r.saveChildren(ctx, tx, e)
}

func (r *PostgresRepository) ensurePatient(ctx context.Context, tx pgx.Tx, patientID, orgID types.ID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO clinical.patients (id, organization_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, patientID, orgID)
	if err != nil {
		return errors.Wrap(err, "failed to ensure patient")
	}
	return nil
}

func (r *PostgresRepository) saveChildren(ctx context.Context, tx pgx.Tx, e *domain.Encounter) error {
	for _, inj := range e.Injections {
		_, err := tx.Exec(ctx, `
			INSERT INTO clinical.injections (id, encounter_id, muscle_id, side, units, volume_ml)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			inj.ID, e.ID, inj.MuscleID, inj.Side, inj.Units, inj.VolumeMl,
		)
		if err != nil {
			return errors.Wrap(err, "failed to save injection")
		}

		for _, a := range inj.Assessments {
			_, err := tx.Exec(ctx, `
				INSERT INTO clinical.injection_assessments (injection_id, scale, timepoint, value)
				VALUES ($1, $2, $3, $4)`,
				inj.ID, a.Scale, a.Timepoint, a.Value,
			)
			if err != nil {
				return errors.Wrap(err, "failed to save injection assessment")
			}
		}
	}

	for _, a := range e.GlobalAssessments {
		_, err := tx.Exec(ctx, `
			INSERT INTO clinical.global_assessments (encounter_id, scale, timepoint, value)
			VALUES ($1, $2, $3, $4)`,
			e.ID, a.Scale, a.Timepoint, a.Value,
		)
		if err != nil {
			return errors.Wrap(err, "failed to save global assessment")
		}
	}

	for _, t := range e.GoalTargets {
		_, err := tx.Exec(ctx, `
			INSERT INTO clinical.goal_targets (goal_id, encounter_id, targeted_at)
			VALUES ($1, $2, $3)`,
			t.GoalID, e.ID, t.TargetedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to save goal target")
		}
	}

	if e.Followup != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO clinical.followups (encounter_id, followup_date, outcome)
			VALUES ($1, $2, $3)`,
			e.ID, e.Followup.FollowupDate, e.Followup.Outcome,
		)
		if err != nil {
			return errors.Wrap(err, "failed to save followup")
		}
	}

	return nil
}

const encounterColumns = `id, patient_id, organization_id, provider_id, status,
	indication, indication_group, treatment_site,
	product_name, vial_size_units, dilution_ml, total_units,
	encounter_date, notes, signed_at, created_at, updated_at`

func scanEncounter(row pgx.Row, e *domain.Encounter) error {
	var notes, site *string
	err := row.Scan(
		&e.ID, &e.PatientID, &e.OrganizationID, &e.ProviderID, &e.Status,
		&e.Indication, &e.IndicationGroup, &site,
		&e.ProductName, &e.VialSizeUnits, &e.DilutionMl, &e.TotalUnits,
		&e.EncounterDate, &notes, &e.SignedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if site != nil {
		e.TreatmentSite = *site
	}
	if notes != nil {
		e.Notes = *notes
	}
	return nil
}

// FindByID finds an encounter by ID with all child rows loaded
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Encounter, error) {
	query := fmt.Sprintf(`SELECT %s FROM clinical.encounters WHERE id = $1`, encounterColumns)

	e := &domain.Encounter{}
	err := scanEncounter(r.pool.QueryRow(ctx, query, id), e)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("encounter", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find encounter")
	}

	if err := r.loadChildren(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}

func (r *PostgresRepository) loadChildren(ctx context.Context, e *domain.Encounter) error {
	injections, err := r.getInjections(ctx, e.ID)
	if err != nil {
		return err
	}
	e.Injections = injections

	rows, err := r.pool.Query(ctx, `
		SELECT encounter_id, scale, timepoint, value
		FROM clinical.global_assessments
		WHERE encounter_id = $1
		ORDER BY scale, timepoint`, e.ID)
	if err != nil {
		return errors.Wrap(err, "failed to get global assessments")
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.GlobalAssessment
		if err := rows.Scan(&a.EncounterID, &a.Scale, &a.Timepoint, &a.Value); err != nil {
			return errors.Wrap(err, "failed to scan global assessment")
		}
		e.GlobalAssessments = append(e.GlobalAssessments, a)
	}
	rows.Close()

	targets, err := r.pool.Query(ctx, `
		SELECT goal_id, encounter_id, targeted_at
		FROM clinical.goal_targets
		WHERE encounter_id = $1
		ORDER BY targeted_at`, e.ID)
	if err != nil {
		return errors.Wrap(err, "failed to get goal targets")
	}
	defer targets.Close()

	for targets.Next() {
		var t domain.GoalTarget
		if err := targets.Scan(&t.GoalID, &t.EncounterID, &t.TargetedAt); err != nil {
			return errors.Wrap(err, "failed to scan goal target")
		}
		e.GoalTargets = append(e.GoalTargets, t)
	}

	var f domain.Followup
	err = r.pool.QueryRow(ctx, `
		SELECT encounter_id, followup_date, outcome
		FROM clinical.followups
		WHERE encounter_id = $1`, e.ID).Scan(&f.EncounterID, &f.FollowupDate, &f.Outcome)
	if err == nil {
		e.Followup = &f
	} else if err != pgx.ErrNoRows {
		return errors.Wrap(err, "failed to get followup")
	}

	return nil
}

func (r *PostgresRepository) getInjections(ctx context.Context, encounterID types.ID) ([]domain.Injection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, encounter_id, muscle_id, side, units, volume_ml
		FROM clinical.injections
		WHERE encounter_id = $1
		ORDER BY muscle_id, side`, encounterID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get injections")
	}
	defer rows.Close()

	var injections []domain.Injection
	index := make(map[types.ID]int)
	for rows.Next() {
		var inj domain.Injection
		if err := rows.Scan(&inj.ID, &inj.EncounterID, &inj.MuscleID, &inj.Side, &inj.Units, &inj.VolumeMl); err != nil {
			return nil, errors.Wrap(err, "failed to scan injection")
		}
		index[inj.ID] = len(injections)
		injections = append(injections, inj)
	}
	rows.Close()

	if len(injections) == 0 {
		return nil, nil
	}

	assessments, err := r.pool.Query(ctx, `
		SELECT ia.injection_id, ia.scale, ia.timepoint, ia.value
		FROM clinical.injection_assessments ia
		JOIN clinical.injections i ON i.id = ia.injection_id
		WHERE i.encounter_id = $1
		ORDER BY ia.scale, ia.timepoint`, encounterID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get injection assessments")
	}
	defer assessments.Close()

	for assessments.Next() {
		var a domain.InjectionAssessment
		if err := assessments.Scan(&a.InjectionID, &a.Scale, &a.Timepoint, &a.Value); err != nil {
			return nil, errors.Wrap(err, "failed to scan injection assessment")
		}
		if i, ok := index[a.InjectionID]; ok {
			injections[i].Assessments = append(injections[i].Assessments, a)
		}
	}

	return injections, nil
}

// List lists encounters with filters. Child rows are not loaded; list views
// only need the encounter row itself.
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Encounter, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if !filter.IncludeVoid {
		conditions = append(conditions, "status <> 'void'")
	}

	if filter.PatientID != nil {
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", argNum))
		args = append(args, *filter.PatientID)
		argNum++
	}

	if filter.ProviderID != nil {
		conditions = append(conditions, fmt.Sprintf("provider_id = $%d", argNum))
		args = append(args, *filter.ProviderID)
		argNum++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Group != nil {
		conditions = append(conditions, fmt.Sprintf("indication_group = $%d", argNum))
		args = append(args, *filter.Group)
		argNum++
	}

	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("encounter_date >= $%d", argNum))
		args = append(args, *filter.From)
		argNum++
	}

	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("encounter_date <= $%d", argNum))
		args = append(args, *filter.To)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM clinical.encounters %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count encounters")
	}

	orderDir := "ASC"
	if filter.OrderDesc {
		orderDir = "DESC"
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM clinical.encounters
		%s
		ORDER BY encounter_date %s, created_at %s
		LIMIT $%d OFFSET $%d`, encounterColumns, whereClause, orderDir, orderDir, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list encounters")
	}
	defer rows.Close()

	var encounters []domain.Encounter
	for rows.Next() {
		var e domain.Encounter
		if err := scanEncounter(rows, &e); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan encounter")
		}
		encounters = append(encounters, e)
	}

	return encounters, total, nil
}

// ListEligible returns all non-void encounters for a provider with their
// follow-up links loaded, as consumed by the certification aggregator.
func (r *PostgresRepository) ListEligible(ctx context.Context, providerID types.ID) ([]domain.Encounter, error) {
	query := `
		SELECT e.id, e.patient_id, e.organization_id, e.provider_id, e.status,
			e.indication, e.indication_group, e.treatment_site,
			e.product_name, e.vial_size_units, e.dilution_ml, e.total_units,
			e.encounter_date, e.notes, e.signed_at, e.created_at, e.updated_at,
			f.followup_date, f.outcome
		FROM clinical.encounters e
		LEFT JOIN clinical.followups f ON f.encounter_id = e.id
		WHERE e.provider_id = $1 AND e.status <> 'void'
		ORDER BY e.encounter_date`

	rows, err := r.pool.Query(ctx, query, providerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list eligible encounters")
	}
	defer rows.Close()

	var encounters []domain.Encounter
	for rows.Next() {
		var e domain.Encounter
		var notes, site, outcome *string
		var followupDate *time.Time

		err := rows.Scan(
			&e.ID, &e.PatientID, &e.OrganizationID, &e.ProviderID, &e.Status,
			&e.Indication, &e.IndicationGroup, &site,
			&e.ProductName, &e.VialSizeUnits, &e.DilutionMl, &e.TotalUnits,
			&e.EncounterDate, &notes, &e.SignedAt, &e.CreatedAt, &e.UpdatedAt,
			&followupDate, &outcome,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan encounter")
		}
		if site != nil {
			e.TreatmentSite = *site
		}
		if notes != nil {
			e.Notes = *notes
		}
		if followupDate != nil {
			f := domain.Followup{EncounterID: e.ID, FollowupDate: *followupDate}
			if outcome != nil {
				f.Outcome = *outcome
			}
			e.Followup = &f
		}

		encounters = append(encounters, e)
	}

	return encounters, nil
}

// PreviousTargetedGoalIDs returns the goal ids targeted by the patient's
// most recent non-void encounter, before the given one, that targeted any
// goals at all.
func (r *PostgresRepository) PreviousTargetedGoalIDs(ctx context.Context, patientID types.ID, before types.ID) ([]types.ID, error) {
	query := `
		SELECT gt.goal_id
		FROM clinical.goal_targets gt
		WHERE gt.encounter_id = (
			SELECT e.id
			FROM clinical.encounters e
			WHERE e.patient_id = $1
				AND e.status <> 'void'
				AND e.id <> $2
				AND e.created_at < (SELECT created_at FROM clinical.encounters WHERE id = $2)
				AND EXISTS (SELECT 1 FROM clinical.goal_targets g WHERE g.encounter_id = e.id)
			ORDER BY e.created_at DESC
			LIMIT 1
		)`

	rows, err := r.pool.Query(ctx, query, patientID, before)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find previous goal targets")
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan goal id")
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// TargetedGoalIDs returns the goal ids linked to one encounter.
func (r *PostgresRepository) TargetedGoalIDs(ctx context.Context, encounterID types.ID) ([]types.ID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT goal_id FROM clinical.goal_targets
		WHERE encounter_id = $1`, encounterID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find goal targets")
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan goal id")
		}
		ids = append(ids, id)
	}

	return ids, nil
}
