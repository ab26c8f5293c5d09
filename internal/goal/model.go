package goal

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Category classifies what a treatment goal addresses
type Category string

const (
	CategorySymptom       Category = "SYMPTOM"
	CategoryFunction      Category = "FUNCTION"
	CategoryParticipation Category = "PARTICIPATION"
)

// ValidCategory reports whether c is a known category
func ValidCategory(c Category) bool {
	switch c {
	case CategorySymptom, CategoryFunction, CategoryParticipation:
		return true
	}
	return false
}

// Status defines the lifecycle status of a goal. Only active goals can be
// targeted by new encounters.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusAchieved Status = "ACHIEVED"
	StatusRetired  Status = "RETIRED"
)

const (
	minDescriptionLen = 5
	maxDescriptionLen = 140
)

// Goal is a patient-level treatment goal scored on a five-point attainment
// scale across encounters.
type Goal struct {
	ID          types.ID  `json:"id"`
	PatientID   types.ID  `json:"patient_id"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Baseline    *int      `json:"baseline,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewGoal creates an active goal with validation
func NewGoal(patientID types.ID, category Category, description string, baseline *int) (*Goal, error) {
	details := map[string]string{}
	if patientID.IsZero() {
		details["patient_id"] = "patient is required"
	}
	if !ValidCategory(category) {
		details["category"] = "category must be SYMPTOM, FUNCTION or PARTICIPATION"
	}

	description = strings.TrimSpace(description)
	// Bounds are in characters, not bytes, so umlauts don't shrink the limit.
	if n := utf8.RuneCountInString(description); n < minDescriptionLen || n > maxDescriptionLen {
		details["description"] = "description must be between 5 and 140 characters"
	}

	if baseline != nil && (*baseline < -2 || *baseline > 2) {
		details["baseline"] = "baseline must be between -2 and 2"
	}

	if len(details) > 0 {
		return nil, errors.Validation("validation failed", details)
	}

	now := time.Now()
	return &Goal{
		ID:          types.NewID(),
		PatientID:   patientID,
		Category:    category,
		Description: description,
		Status:      StatusActive,
		Baseline:    baseline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsTargetable reports whether the goal can be linked to a new encounter
func (g *Goal) IsTargetable() bool {
	return g.Status == StatusActive
}

// MarkAchieved closes the goal as reached
func (g *Goal) MarkAchieved() error {
	if g.Status != StatusActive {
		return errors.State("only an active goal can be marked achieved")
	}
	g.Status = StatusAchieved
	g.UpdatedAt = time.Now()
	return nil
}

// Retire closes the goal without attainment, for goals no longer pursued
func (g *Goal) Retire() error {
	if g.Status != StatusActive {
		return errors.State("only an active goal can be retired")
	}
	g.Status = StatusRetired
	g.UpdatedAt = time.Now()
	return nil
}

// Assessment is one attainment score for a goal at one encounter. At most
// one exists per (goal, encounter); re-recording overwrites.
type Assessment struct {
	GoalID      types.ID  `json:"goal_id"`
	EncounterID types.ID  `json:"encounter_id"`
	Score       int       `json:"score"`
	Notes       string    `json:"notes,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// NewAssessment validates the five-point attainment score
func NewAssessment(goalID, encounterID types.ID, score int, notes string) (*Assessment, error) {
	if score < -2 || score > 2 {
		return nil, errors.Validation("validation failed", map[string]string{
			"score": "score must be between -2 and 2",
		})
	}

	return &Assessment{
		GoalID:      goalID,
		EncounterID: encounterID,
		Score:       score,
		Notes:       notes,
		RecordedAt:  time.Now(),
	}, nil
}
