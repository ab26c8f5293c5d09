package domain

import (
	"time"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Status defines the lifecycle status of an encounter
type Status string

const (
	StatusDraft  Status = "draft"
	StatusSigned Status = "signed"
	// StatusVoid excludes an encounter from exports and aggregates. It is
	// set by the persistence layer, never by a lifecycle transition here.
	StatusVoid Status = "void"
)

// Side defines the anatomical side of an injection
type Side string

const (
	SideLeft    Side = "left"
	SideRight   Side = "right"
	SideMidline Side = "midline"
	// SideBilateral is an input-only value. It is expanded into a left and
	// a right row before persistence so each side can be dosed and assessed
	// independently.
	SideBilateral Side = "bilateral"
)

// IndicationGroup defines the clinical category used for certification
// diversity and focus rules.
type IndicationGroup string

const (
	GroupSpasticity IndicationGroup = "spasticity"
	GroupDystonia   IndicationGroup = "dystonia"
	GroupHeadache   IndicationGroup = "headache"
	GroupAutonomic  IndicationGroup = "autonomic"
	GroupOther      IndicationGroup = "other"
)

// NamedGroups are the four groups that count toward diversity and focus
// rules; "other" counts only toward total progress.
var NamedGroups = []IndicationGroup{GroupSpasticity, GroupDystonia, GroupHeadache, GroupAutonomic}

// ParseIndicationGroup maps a raw group string to the enum, defaulting to
// other for anything outside the four named groups.
func ParseIndicationGroup(s string) IndicationGroup {
	switch IndicationGroup(s) {
	case GroupSpasticity, GroupDystonia, GroupHeadache, GroupAutonomic:
		return IndicationGroup(s)
	default:
		return GroupOther
	}
}

// Timepoint defines when an assessment was recorded relative to treatment
type Timepoint string

const (
	TimepointBaseline   Timepoint = "baseline"
	TimepointPeakEffect Timepoint = "peak_effect"
	TimepointFollowUp   Timepoint = "follow_up"
	TimepointOther      Timepoint = "other"
)

// ValidTimepoint reports whether t is a known timepoint
func ValidTimepoint(t Timepoint) bool {
	switch t {
	case TimepointBaseline, TimepointPeakEffect, TimepointFollowUp, TimepointOther:
		return true
	}
	return false
}

// Scale identifiers. Values are stored as strings because ordinal clinical
// scales are not all numeric (MAS includes "1+").
const (
	ScaleMAS  = "MAS"  // Modified Ashworth Scale, per muscle
	ScaleCGI  = "CGI"  // Clinical Global Impression, per encounter
	ScaleTSUI = "TSUI" // Tsui score for cervical dystonia
)

// Injection is one injected muscle site on one side
type Injection struct {
	ID          types.ID              `json:"id"`
	EncounterID types.ID              `json:"encounter_id"`
	MuscleID    string                `json:"muscle_id"`
	Side        Side                  `json:"side"`
	Units       float64               `json:"units"`
	VolumeMl    float64               `json:"volume_ml"`
	Assessments []InjectionAssessment `json:"assessments,omitempty"`
}

// InjectionAssessment is a per-injection clinical score. At most one exists
// per (injection, scale, timepoint).
type InjectionAssessment struct {
	InjectionID types.ID  `json:"injection_id"`
	Scale       string    `json:"scale"`
	Timepoint   Timepoint `json:"timepoint"`
	Value       string    `json:"value"`
}

// GlobalAssessment is an encounter-level clinical score independent of
// individual injections.
type GlobalAssessment struct {
	EncounterID types.ID  `json:"encounter_id"`
	Scale       string    `json:"scale"`
	Timepoint   Timepoint `json:"timepoint"`
	Value       string    `json:"value"`
}

// GoalTarget links an encounter to a patient goal it intends to address
type GoalTarget struct {
	GoalID      types.ID  `json:"goal_id"`
	EncounterID types.ID  `json:"encounter_id"`
	TargetedAt  time.Time `json:"targeted_at"`
}

// Followup records a post-treatment follow-up contact. Its presence alone
// feeds the certification follow-up rule.
type Followup struct {
	EncounterID  types.ID  `json:"encounter_id"`
	FollowupDate time.Time `json:"followup_date"`
	Outcome      string    `json:"outcome,omitempty"`
}

// AmountField marks which dose field the clinician edited last. Only the
// authoritative field is converted, never both, to avoid oscillation
// between the two directions.
type AmountField string

const (
	AmountUnits  AmountField = "units"
	AmountVolume AmountField = "volume"
)

// InjectionInput is the per-site input for a draft update
type InjectionInput struct {
	MuscleID string      `json:"muscle_id"`
	Side     Side        `json:"side"`
	Units    float64     `json:"units"`
	VolumeMl float64     `json:"volume_ml"`
	EditedBy AmountField `json:"edited_by,omitempty"`
}

// GoalTemplate suggests a goal description for an indication group. The
// template table is injected configuration, not engine logic.
type GoalTemplate struct {
	Group       IndicationGroup `json:"group"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

// DefaultGoalTemplates is the built-in template table keyed by indication
// group.
var DefaultGoalTemplates = map[IndicationGroup][]GoalTemplate{
	GroupSpasticity: {
		{GroupSpasticity, "FUNCTION", "Improve active hand opening for grasp"},
		{GroupSpasticity, "SYMPTOM", "Reduce pain during passive stretching"},
		{GroupSpasticity, "PARTICIPATION", "Walk to the shops without a rest break"},
	},
	GroupDystonia: {
		{GroupDystonia, "SYMPTOM", "Reduce involuntary head turning at rest"},
		{GroupDystonia, "FUNCTION", "Hold cutlery steadily through a meal"},
	},
	GroupHeadache: {
		{GroupHeadache, "SYMPTOM", "Reduce monthly headache days below fifteen"},
		{GroupHeadache, "PARTICIPATION", "Return to full-time work schedule"},
	},
	GroupAutonomic: {
		{GroupAutonomic, "SYMPTOM", "Reduce axillary sweating to tolerable level"},
	},
}
