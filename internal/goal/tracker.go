package goal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/metrics"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// TargetHistory answers which goals an encounter targeted. The encounter
// repository satisfies this.
type TargetHistory interface {
	PreviousTargetedGoalIDs(ctx context.Context, patientID types.ID, before types.ID) ([]types.ID, error)

	// TargetedGoalIDs returns the goal ids linked to one encounter.
	TargetedGoalIDs(ctx context.Context, encounterID types.ID) ([]types.ID, error)
}

// Tracker manages treatment goals and their attainment scores
type Tracker struct {
	repo    Repository
	history TargetHistory
}

// NewTracker creates a goal tracker
func NewTracker(repo Repository, history TargetHistory) *Tracker {
	return &Tracker{repo: repo, history: history}
}

// CreateGoal opens a new active goal for a patient
func (t *Tracker) CreateGoal(ctx context.Context, patientID types.ID, category Category, description string, baseline *int) (*Goal, error) {
	g, err := NewGoal(patientID, category, description, baseline)
	if err != nil {
		return nil, err
	}

	if err := t.repo.Save(ctx, g); err != nil {
		return nil, err
	}

	metrics.RecordGoalCreated(string(g.Category))
	log.Info().
		Str("goal_id", g.ID.String()).
		Str("patient_id", g.PatientID.String()).
		Str("category", string(g.Category)).
		Msg("goal created")

	return g, nil
}

// GetGoal returns a goal by id
func (t *Tracker) GetGoal(ctx context.Context, id types.ID) (*Goal, error) {
	return t.repo.FindByID(ctx, id)
}

// ListGoals lists a patient's goals, optionally filtered by status
func (t *Tracker) ListGoals(ctx context.Context, patientID types.ID, status *Status) ([]Goal, error) {
	return t.repo.ListByPatient(ctx, patientID, status)
}

// RequireTargetable verifies every goal exists and is active. The encounter
// flow calls this before linking goals to a draft.
func (t *Tracker) RequireTargetable(ctx context.Context, goalIDs []types.ID) error {
	if len(goalIDs) == 0 {
		return nil
	}

	goals, err := t.repo.FindByIDs(ctx, goalIDs)
	if err != nil {
		return err
	}

	found := make(map[types.ID]*Goal, len(goals))
	for i := range goals {
		found[goals[i].ID] = &goals[i]
	}

	for _, id := range goalIDs {
		g, ok := found[id]
		if !ok {
			return errors.NotFound("goal", id.String())
		}
		if !g.IsTargetable() {
			return errors.State("goal " + id.String() + " is " + string(g.Status) + " and cannot be targeted")
		}
	}

	return nil
}

// RecordAssessment upserts the attainment score for a goal at an encounter.
// The goal must be one the encounter targeted; target links are only created
// while a goal is active, so scores can never land on a goal that was
// retired before the encounter picked it up.
func (t *Tracker) RecordAssessment(ctx context.Context, goalID, encounterID types.ID, score int, notes string) (*Assessment, error) {
	if _, err := t.repo.FindByID(ctx, goalID); err != nil {
		return nil, err
	}

	targets, err := t.history.TargetedGoalIDs(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	linked := false
	for _, id := range targets {
		if id == goalID {
			linked = true
			break
		}
	}
	if !linked {
		return nil, errors.State("goal " + goalID.String() + " is not targeted by encounter " + encounterID.String())
	}

	a, err := NewAssessment(goalID, encounterID, score, notes)
	if err != nil {
		return nil, err
	}

	if err := t.repo.SaveAssessment(ctx, a); err != nil {
		return nil, err
	}

	metrics.RecordGoalAssessment()
	return a, nil
}

// ListAssessments returns the attainment history for a goal
func (t *Tracker) ListAssessments(ctx context.Context, goalID types.ID) ([]Assessment, error) {
	return t.repo.ListAssessments(ctx, goalID)
}

// MarkAchieved closes a goal as reached
func (t *Tracker) MarkAchieved(ctx context.Context, id types.ID) (*Goal, error) {
	g, err := t.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.MarkAchieved(); err != nil {
		return nil, err
	}
	if err := t.repo.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Retire closes a goal that is no longer pursued
func (t *Tracker) Retire(ctx context.Context, id types.ID) (*Goal, error) {
	g, err := t.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.Retire(); err != nil {
		return nil, err
	}
	if err := t.repo.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// PreviousTargetedGoals returns the goals linked to the patient's previous
// encounter, so a new draft can carry them forward with one tap.
func (t *Tracker) PreviousTargetedGoals(ctx context.Context, patientID, before types.ID) ([]Goal, error) {
	ids, err := t.history.PreviousTargetedGoalIDs(ctx, patientID, before)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	goals, err := t.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Carry forward only goals that are still targetable.
	targetable := goals[:0]
	for _, g := range goals {
		if g.IsTargetable() {
			targetable = append(targetable, g)
		}
	}

	return targetable, nil
}

// Templates returns the suggested goal descriptions for an indication group
func (t *Tracker) Templates(group domain.IndicationGroup) []domain.GoalTemplate {
	return domain.DefaultGoalTemplates[group]
}
