package domain

import (
	"strings"
	"time"

	"github.com/brain-byt-es/bont-db-sub000/internal/dosing"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Encounter is the aggregate root for one treatment visit. TotalUnits is a
// derived invariant: it always equals the sum of injection units after any
// successful mutation.
type Encounter struct {
	ID             types.ID `json:"id"`
	PatientID      types.ID `json:"patient_id"`
	OrganizationID types.ID `json:"organization_id"`
	ProviderID     types.ID `json:"provider_id"`
	Status         Status   `json:"status"`

	Indication      string          `json:"indication"`
	IndicationGroup IndicationGroup `json:"indication_group"`
	TreatmentSite   string          `json:"treatment_site,omitempty"`

	ProductName   string  `json:"product_name"`
	VialSizeUnits float64 `json:"vial_size_units"`
	DilutionMl    float64 `json:"dilution_ml"`
	TotalUnits    float64 `json:"total_units"`

	EncounterDate time.Time `json:"encounter_date"`
	Notes         string    `json:"notes,omitempty"`

	Injections        []Injection        `json:"injections"`
	GlobalAssessments []GlobalAssessment `json:"global_assessments,omitempty"`
	GoalTargets       []GoalTarget       `json:"goal_targets,omitempty"`
	Followup          *Followup          `json:"followup,omitempty"`

	SignedAt  *time.Time `json:"signed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Domain events (not persisted, consumed by the service layer)
	domainEvents []Event
}

// NewEncounterInput carries the fields required to open a draft
type NewEncounterInput struct {
	PatientID      types.ID
	OrganizationID types.ID
	ProviderID     types.ID
	Indication     string
	TreatmentSite  string
	ProductName    string
	VialSizeUnits  float64
	DilutionMl     float64
	EncounterDate  time.Time
	Notes          string
}

// NewEncounter creates a new draft encounter with validation
func NewEncounter(in NewEncounterInput) (*Encounter, error) {
	details := map[string]string{}
	if in.PatientID.IsZero() {
		details["patient_id"] = "patient is required"
	}
	if strings.TrimSpace(in.Indication) == "" {
		details["indication"] = "indication is required"
	}
	if strings.TrimSpace(in.ProductName) == "" {
		details["product_name"] = "product is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation("validation failed", details)
	}

	// Reconstitution must be computable before any injection is dosed.
	if _, err := dosing.Concentration(in.VialSizeUnits, in.DilutionMl); err != nil {
		return nil, err
	}

	encounterDate := in.EncounterDate
	if encounterDate.IsZero() {
		encounterDate = time.Now()
	}

	now := time.Now()
	e := &Encounter{
		ID:              types.NewID(),
		PatientID:       in.PatientID,
		OrganizationID:  in.OrganizationID,
		ProviderID:      in.ProviderID,
		Status:          StatusDraft,
		Indication:      in.Indication,
		IndicationGroup: ParseIndicationGroup(in.Indication),
		TreatmentSite:   in.TreatmentSite,
		ProductName:     in.ProductName,
		VialSizeUnits:   in.VialSizeUnits,
		DilutionMl:      in.DilutionMl,
		EncounterDate:   encounterDate,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	e.addEvent(EventTypeCreated, map[string]any{
		"indication_group": e.IndicationGroup,
		"product":          e.ProductName,
	})

	return e, nil
}

// Concentration returns the units-per-ml for this encounter's reconstitution
func (e *Encounter) Concentration() float64 {
	c, _ := dosing.Concentration(e.VialSizeUnits, e.DilutionMl)
	return c
}

// IsEditable reports whether the encounter accepts mutations
func (e *Encounter) IsEditable() bool {
	return e.Status == StatusDraft
}

func (e *Encounter) requireDraft() error {
	if e.Status != StatusDraft {
		return errors.State("encounter is " + string(e.Status) + "; reopen it before editing")
	}
	return nil
}

// SetInjections replaces the injection set from clinician input. Bilateral
// selections are expanded into independent left and right rows carrying the
// same dose at the moment of the split, each with a fresh id so later
// assessments stay per-side. TotalUnits is recomputed from the result.
func (e *Encounter) SetInjections(inputs []InjectionInput) error {
	if err := e.requireDraft(); err != nil {
		return err
	}

	unitsPerMl := e.Concentration()

	var rows []Injection
	for _, in := range inputs {
		if strings.TrimSpace(in.MuscleID) == "" {
			return errors.Validation("validation failed", map[string]string{
				"muscle_id": "muscle is required for every injection",
			})
		}

		units := in.Units
		volume := in.VolumeMl
		switch in.EditedBy {
		case AmountVolume:
			units = dosing.VolumeToUnits(volume, unitsPerMl)
		default:
			// Units are authoritative unless the clinician edited volume last.
			volume = dosing.UnitsToVolume(units, unitsPerMl)
		}
		if units < 0 {
			return errors.Validation("validation failed", map[string]string{
				"units": "units must not be negative",
			})
		}

		sides := []Side{in.Side}
		switch in.Side {
		case SideBilateral:
			sides = []Side{SideLeft, SideRight}
		case SideLeft, SideRight, SideMidline:
		default:
			return errors.Validation("validation failed", map[string]string{
				"side": "unknown side value",
			})
		}

		for _, side := range sides {
			rows = append(rows, Injection{
				ID:          types.NewID(),
				EncounterID: e.ID,
				MuscleID:    in.MuscleID,
				Side:        side,
				Units:       units,
				VolumeMl:    volume,
			})
		}
	}

	e.Injections = rows
	e.recomputeTotalUnits()
	e.UpdatedAt = time.Now()

	e.addEvent(EventTypeUpdated, map[string]any{
		"injections":  len(rows),
		"total_units": e.TotalUnits,
	})

	return nil
}

func (e *Encounter) recomputeTotalUnits() {
	total := 0.0
	for _, inj := range e.Injections {
		total += inj.Units
	}
	e.TotalUnits = total
}

// SetInjectionAssessment upserts a per-injection score. A second call for
// the same (injection, scale, timepoint) overwrites the value.
func (e *Encounter) SetInjectionAssessment(injectionID types.ID, scale string, timepoint Timepoint, value string) error {
	if err := e.requireDraft(); err != nil {
		return err
	}
	if !ValidTimepoint(timepoint) {
		return errors.Validation("validation failed", map[string]string{
			"timepoint": "unknown timepoint",
		})
	}

	for i := range e.Injections {
		if e.Injections[i].ID != injectionID {
			continue
		}

		for j := range e.Injections[i].Assessments {
			a := &e.Injections[i].Assessments[j]
			if a.Scale == scale && a.Timepoint == timepoint {
				a.Value = value
				e.UpdatedAt = time.Now()
				return nil
			}
		}

		e.Injections[i].Assessments = append(e.Injections[i].Assessments, InjectionAssessment{
			InjectionID: injectionID,
			Scale:       scale,
			Timepoint:   timepoint,
			Value:       value,
		})
		e.UpdatedAt = time.Now()
		return nil
	}

	return errors.NotFound("injection", injectionID.String())
}

// SetGlobalAssessment upserts an encounter-level score
func (e *Encounter) SetGlobalAssessment(scale string, timepoint Timepoint, value string) error {
	if err := e.requireDraft(); err != nil {
		return err
	}
	if !ValidTimepoint(timepoint) {
		return errors.Validation("validation failed", map[string]string{
			"timepoint": "unknown timepoint",
		})
	}

	for i := range e.GlobalAssessments {
		a := &e.GlobalAssessments[i]
		if a.Scale == scale && a.Timepoint == timepoint {
			a.Value = value
			e.UpdatedAt = time.Now()
			return nil
		}
	}

	e.GlobalAssessments = append(e.GlobalAssessments, GlobalAssessment{
		EncounterID: e.ID,
		Scale:       scale,
		Timepoint:   timepoint,
		Value:       value,
	})
	e.UpdatedAt = time.Now()
	return nil
}

// SetGoalTargets replaces the targeted goal links. The service layer is
// responsible for checking that every goal is ACTIVE at targeting time.
func (e *Encounter) SetGoalTargets(goalIDs []types.ID) error {
	if err := e.requireDraft(); err != nil {
		return err
	}

	now := time.Now()
	targets := make([]GoalTarget, 0, len(goalIDs))
	seen := make(map[types.ID]bool, len(goalIDs))
	for _, id := range goalIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		targets = append(targets, GoalTarget{GoalID: id, EncounterID: e.ID, TargetedAt: now})
	}

	e.GoalTargets = targets
	e.UpdatedAt = now
	return nil
}

// Sign transitions the encounter from draft to signed. An encounter without
// administered units documents no treatment and cannot be signed.
func (e *Encounter) Sign() error {
	if e.Status == StatusSigned {
		return errors.State("encounter is already signed")
	}
	if e.Status != StatusDraft {
		return errors.State("only a draft encounter can be signed")
	}
	if e.TotalUnits <= 0 {
		return errors.Validation("cannot sign without administered units", map[string]string{
			"total_units": "must be greater than zero",
		})
	}

	now := time.Now()
	e.Status = StatusSigned
	e.SignedAt = &now
	e.UpdatedAt = now

	e.addEvent(EventTypeSigned, map[string]any{
		"total_units": e.TotalUnits,
	})

	return nil
}

// Reopen transitions a signed encounter back to draft for correction. The
// reason is mandatory and is carried to the audit log by the caller.
func (e *Encounter) Reopen(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return errors.Validation("a reason is required to reopen", map[string]string{
			"reason": "reason must not be blank",
		})
	}
	if e.Status != StatusSigned {
		return errors.State("only a signed encounter can be reopened")
	}

	e.Status = StatusDraft
	e.SignedAt = nil
	e.UpdatedAt = time.Now()

	e.addEvent(EventTypeReopened, map[string]any{
		"reason": reason,
	})

	return nil
}

// SetFollowup records the post-treatment follow-up. Follow-up happens after
// the visit was signed off; a draft has nothing to follow up on.
func (e *Encounter) SetFollowup(date time.Time, outcome string) error {
	if e.Status != StatusSigned {
		return errors.State("follow-up can only be recorded on a signed encounter")
	}

	e.Followup = &Followup{
		EncounterID:  e.ID,
		FollowupDate: date,
		Outcome:      outcome,
	}
	e.UpdatedAt = time.Now()
	return nil
}

// HasFollowup reports whether a follow-up was recorded
func (e *Encounter) HasFollowup() bool {
	return e.Followup != nil
}

// GetDomainEvents returns and clears pending domain events
func (e *Encounter) GetDomainEvents() []Event {
	events := e.domainEvents
	e.domainEvents = nil
	return events
}

func (e *Encounter) addEvent(eventType EventType, data map[string]any) {
	e.domainEvents = append(e.domainEvents, Event{
		Type:        eventType,
		EncounterID: e.ID,
		Data:        data,
		Timestamp:   time.Now(),
	})
}
