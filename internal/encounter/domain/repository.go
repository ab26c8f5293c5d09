package domain

import (
	"context"
	"time"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// ListFilter defines filters for listing encounters. Void encounters are
// excluded unless IncludeVoid is set.
type ListFilter struct {
	PatientID   *types.ID        `json:"patient_id,omitempty"`
	ProviderID  *types.ID        `json:"provider_id,omitempty"`
	Status      *Status          `json:"status,omitempty"`
	Group       *IndicationGroup `json:"group,omitempty"`
	From        *time.Time       `json:"from,omitempty"`
	To          *time.Time       `json:"to,omitempty"`
	IncludeVoid bool             `json:"include_void,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Offset      int              `json:"offset,omitempty"`
	OrderDesc   bool             `json:"order_desc,omitempty"`
}

// Repository persists encounters. Save and Update write the encounter row
// together with its injections, assessments, goal links and follow-up as a
// single transaction; a partial write would break the TotalUnits invariant
// that certification and exports depend on.
type Repository interface {
	Save(ctx context.Context, e *Encounter) error
	Update(ctx context.Context, e *Encounter) error
	FindByID(ctx context.Context, id types.ID) (*Encounter, error)
	List(ctx context.Context, filter ListFilter) ([]Encounter, int, error)

	// ListEligible returns the non-void encounters for a provider with
	// follow-up links loaded, as consumed by the certification aggregator.
	ListEligible(ctx context.Context, providerID types.ID) ([]Encounter, error)

	// PreviousTargetedGoalIDs returns the goal ids targeted by the
	// patient's most recent encounter before the given one that targeted
	// any goals at all.
	PreviousTargetedGoalIDs(ctx context.Context, patientID types.ID, before types.ID) ([]types.ID, error)
}
