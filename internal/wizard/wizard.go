// Package wizard models the stepped documentation flow: who is treated,
// what was injected, what the treatment intends, and a final review. Steps
// gate on the draft's content so a clinician cannot reach review with an
// undocumented procedure.
package wizard

import (
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
)

// Step is one screen of the documentation flow
type Step string

const (
	StepContext   Step = "context"   // patient, indication, product
	StepProcedure Step = "procedure" // injections and doses
	StepIntent    Step = "intent"    // treatment goals
	StepReview    Step = "review"    // read-back before signing
)

var stepOrder = []Step{StepContext, StepProcedure, StepIntent, StepReview}

func stepIndex(s Step) int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// ValidStep reports whether s names a known step
func ValidStep(s Step) bool {
	return stepIndex(s) >= 0
}

// Session tracks a clinician's position in the flow for one draft
type Session struct {
	Current   Step
	Encounter *domain.Encounter
}

// NewSession starts the flow at the context step
func NewSession(e *domain.Encounter) *Session {
	return &Session{Current: StepContext, Encounter: e}
}

// Resume restores a session at a previously saved step. An unknown step
// falls back to the beginning rather than failing the resume.
func Resume(e *domain.Encounter, at Step) *Session {
	if stepIndex(at) < 0 {
		at = StepContext
	}
	return &Session{Current: at, Encounter: e}
}

// CanAdvance reports whether the current step's requirements are satisfied
func (s *Session) CanAdvance() error {
	if s.Encounter != nil && !s.Encounter.IsEditable() {
		return errors.State("encounter is no longer editable")
	}

	switch s.Current {
	case StepContext:
		if s.Encounter == nil {
			return errors.Validation("complete the treatment context first", map[string]string{
				"encounter": "patient, indication and product are required",
			})
		}
	case StepProcedure:
		if s.Encounter == nil || s.Encounter.TotalUnits <= 0 {
			return errors.Validation("document the procedure first", map[string]string{
				"injections": "at least one injection with units is required",
			})
		}
	case StepIntent:
		// Goals are encouraged but never block the flow.
	case StepReview:
		return errors.State("review is the final step")
	}

	return nil
}

// Advance moves to the next step if the current one is satisfied
func (s *Session) Advance() error {
	if err := s.CanAdvance(); err != nil {
		return err
	}
	s.Current = stepOrder[stepIndex(s.Current)+1]
	return nil
}

// Back moves to the previous step. Going back never loses data; the draft
// keeps everything already entered.
func (s *Session) Back() error {
	i := stepIndex(s.Current)
	if i <= 0 {
		return errors.State("already at the first step")
	}
	s.Current = stepOrder[i-1]
	return nil
}

// AtReview reports whether the session reached the final read-back
func (s *Session) AtReview() bool {
	return s.Current == StepReview
}
