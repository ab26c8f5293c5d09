package certification

import (
	"math"

	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/config"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
)

// Specialty names a certification track with its own treatment quota
type Specialty string

const (
	SpecialtyNeurology       Specialty = "neurology"
	SpecialtyNeuropediatrics Specialty = "neuropediatrics"
)

// specialtyTotals are the certifying body's treatment quotas per track
var specialtyTotals = map[Specialty]int{
	SpecialtyNeurology:       100,
	SpecialtyNeuropediatrics: 50,
}

// Policy holds the certifying body's eligibility rules. The numbers are
// external requirements and arrive through configuration; the policy only
// applies them.
type Policy struct {
	Specialty            Specialty
	TotalGoal            int
	FollowUpGoalFraction float64
	FocusThreshold       int
	DiversityThreshold   int

	// FocusGroups are the indication groups whose largest tally must reach
	// FocusThreshold
	FocusGroups []domain.IndicationGroup
}

// NewPolicy builds a policy for a specialty with its preset quota
func NewPolicy(specialty Specialty) (*Policy, error) {
	total, ok := specialtyTotals[specialty]
	if !ok {
		return nil, errors.BadRequest("unknown specialty: " + string(specialty))
	}

	return &Policy{
		Specialty:            specialty,
		TotalGoal:            total,
		FollowUpGoalFraction: 0.5,
		FocusThreshold:       25,
		DiversityThreshold:   2,
		FocusGroups:          []domain.IndicationGroup{domain.GroupSpasticity, domain.GroupDystonia},
	}, nil
}

// FromConfig builds the policy from configuration, applying overrides on
// top of the specialty preset.
func FromConfig(cfg config.CertificationConfig) (*Policy, error) {
	p, err := NewPolicy(Specialty(cfg.Specialty))
	if err != nil {
		return nil, err
	}

	if cfg.TotalGoal > 0 {
		p.TotalGoal = cfg.TotalGoal
	}
	if cfg.FollowUpGoalFraction > 0 {
		p.FollowUpGoalFraction = cfg.FollowUpGoalFraction
	}
	if cfg.FocusThreshold > 0 {
		p.FocusThreshold = cfg.FocusThreshold
	}
	if cfg.DiversityThreshold > 0 {
		p.DiversityThreshold = cfg.DiversityThreshold
	}
	if len(cfg.FocusGroups) > 0 {
		groups := make([]domain.IndicationGroup, 0, len(cfg.FocusGroups))
		for _, s := range cfg.FocusGroups {
			g := domain.ParseIndicationGroup(s)
			if g == domain.GroupOther {
				return nil, errors.BadRequest("unknown focus group: " + s)
			}
			groups = append(groups, g)
		}
		p.FocusGroups = groups
	}

	return p, nil
}

// FollowUpGoal is the number of treatments that need a documented
// follow-up, rounded up from the configured fraction of the total goal.
func (p *Policy) FollowUpGoal() int {
	return int(math.Ceil(float64(p.TotalGoal) * p.FollowUpGoalFraction))
}
