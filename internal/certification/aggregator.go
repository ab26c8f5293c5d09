package certification

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/metrics"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// EncounterSource lists a provider's countable encounters with follow-up
// links loaded. The encounter repository satisfies this.
type EncounterSource interface {
	ListEligible(ctx context.Context, providerID types.ID) ([]domain.Encounter, error)
}

// GroupProgress is the per-indication-group tally
type GroupProgress struct {
	Count   int  `json:"count"`
	Covered bool `json:"covered"`
}

// Progress is the provider's standing against every eligibility rule. Each
// rule is reported independently so a provider can see exactly what is
// still missing.
type Progress struct {
	Specialty Specialty `json:"specialty"`

	TotalGoal     int  `json:"total_goal"`
	TotalProgress int  `json:"total_progress"`
	TotalMet      bool `json:"total_met"`

	FollowUpGoal     int  `json:"followup_goal"`
	FollowUpProgress int  `json:"followup_progress"`
	FollowUpMet      bool `json:"followup_met"`

	Groups        map[domain.IndicationGroup]GroupProgress `json:"groups"`
	CoveredGroups int                                      `json:"covered_groups"`
	DiversityMet  bool                                     `json:"diversity_met"`

	// FocusMet requires the largest tally among the policy's focus groups
	// to reach the focus threshold. The tallies do not add up.
	FocusMet bool `json:"focus_met"`

	Eligible bool `json:"eligible"`
}

// Aggregator evaluates certification eligibility from signed encounters
type Aggregator struct {
	policy     *Policy
	encounters EncounterSource
}

// NewAggregator creates an eligibility aggregator
func NewAggregator(policy *Policy, encounters EncounterSource) *Aggregator {
	return &Aggregator{policy: policy, encounters: encounters}
}

// Evaluate computes the provider's progress. Only signed encounters count;
// drafts document nothing yet and void encounters never count.
func (a *Aggregator) Evaluate(ctx context.Context, providerID types.ID) (*Progress, error) {
	encounters, err := a.encounters.ListEligible(ctx, providerID)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		Specialty:    a.policy.Specialty,
		TotalGoal:    a.policy.TotalGoal,
		FollowUpGoal: a.policy.FollowUpGoal(),
		Groups:       make(map[domain.IndicationGroup]GroupProgress, len(domain.NamedGroups)+1),
	}

	counts := make(map[domain.IndicationGroup]int)
	for _, e := range encounters {
		if e.Status != domain.StatusSigned {
			continue
		}

		p.TotalProgress++
		counts[e.IndicationGroup]++

		if e.HasFollowup() {
			p.FollowUpProgress++
		}
	}

	for _, g := range domain.NamedGroups {
		gp := GroupProgress{Count: counts[g], Covered: counts[g] > 0}
		p.Groups[g] = gp
		if gp.Covered {
			p.CoveredGroups++
		}
	}
	// Other counts toward the total only, never toward diversity or focus.
	p.Groups[domain.GroupOther] = GroupProgress{Count: counts[domain.GroupOther]}

	p.TotalMet = p.TotalProgress >= p.TotalGoal
	p.FollowUpMet = p.FollowUpProgress >= p.FollowUpGoal
	p.DiversityMet = p.CoveredGroups >= a.policy.DiversityThreshold

	focus := 0
	for _, g := range a.policy.FocusGroups {
		if counts[g] > focus {
			focus = counts[g]
		}
	}
	p.FocusMet = focus >= a.policy.FocusThreshold

	p.Eligible = p.TotalMet && p.FollowUpMet && p.DiversityMet && p.FocusMet

	metrics.RecordEligibilityEvaluation(string(a.policy.Specialty))
	log.Debug().
		Str("provider_id", providerID.String()).
		Int("total_progress", p.TotalProgress).
		Bool("eligible", p.Eligible).
		Msg("eligibility evaluated")

	return p, nil
}
