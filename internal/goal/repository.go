package goal

import (
	"context"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Repository persists goals and their attainment scores
type Repository interface {
	Save(ctx context.Context, g *Goal) error
	Update(ctx context.Context, g *Goal) error
	FindByID(ctx context.Context, id types.ID) (*Goal, error)
	FindByIDs(ctx context.Context, ids []types.ID) ([]Goal, error)
	ListByPatient(ctx context.Context, patientID types.ID, status *Status) ([]Goal, error)

	// SaveAssessment upserts the score for (goal, encounter)
	SaveAssessment(ctx context.Context, a *Assessment) error
	ListAssessments(ctx context.Context, goalID types.ID) ([]Assessment, error)
	ListAssessmentsByEncounter(ctx context.Context, encounterID types.ID) ([]Assessment, error)
}
