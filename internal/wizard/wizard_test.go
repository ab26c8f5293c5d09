package wizard

import (
	"testing"

	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

func testDraft(t *testing.T) *domain.Encounter {
	t.Helper()

	e, err := domain.NewEncounter(domain.NewEncounterInput{
		PatientID:     types.NewID(),
		ProviderID:    types.NewID(),
		Indication:    "spasticity",
		ProductName:   "Botox",
		VialSizeUnits: 100,
		DilutionMl:    2.5,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return e
}

// TestFullFlow walks the happy path from context to review
func TestFullFlow(t *testing.T) {
	e := testDraft(t)
	s := NewSession(e)

	if err := s.Advance(); err != nil {
		t.Fatalf("Context step should advance: %v", err)
	}

	// Procedure blocks until units are documented
	if err := s.Advance(); !errors.IsValidation(err) {
		t.Errorf("Expected validation error without injections, got %v", err)
	}

	if err := e.SetInjections([]domain.InjectionInput{
		{MuscleID: "biceps_brachii", Side: domain.SideLeft, Units: 50},
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := s.Advance(); err != nil {
		t.Fatalf("Procedure step should advance: %v", err)
	}
	if err := s.Advance(); err != nil {
		t.Fatalf("Intent step should advance without goals: %v", err)
	}

	if !s.AtReview() {
		t.Errorf("Expected review step, got %s", s.Current)
	}
	if err := s.Advance(); !errors.IsState(err) {
		t.Errorf("Expected state error past review, got %v", err)
	}
}

// TestContextGuard tests that an empty session cannot advance
func TestContextGuard(t *testing.T) {
	s := NewSession(nil)
	if err := s.Advance(); !errors.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// TestBack tests backwards navigation
func TestBack(t *testing.T) {
	e := testDraft(t)
	s := NewSession(e)

	if err := s.Back(); !errors.IsState(err) {
		t.Errorf("Expected state error at first step, got %v", err)
	}

	if err := s.Advance(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := s.Back(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s.Current != StepContext {
		t.Errorf("Expected %s, got %s", StepContext, s.Current)
	}
}

// TestResume tests restoring a cached session
func TestResume(t *testing.T) {
	e := testDraft(t)

	s := Resume(e, StepIntent)
	if s.Current != StepIntent {
		t.Errorf("Expected %s, got %s", StepIntent, s.Current)
	}

	s = Resume(e, Step("payment"))
	if s.Current != StepContext {
		t.Errorf("Unknown step must fall back to context, got %s", s.Current)
	}
}

// TestSignedEncounterBlocksFlow tests that signing freezes the wizard
func TestSignedEncounterBlocksFlow(t *testing.T) {
	e := testDraft(t)
	if err := e.SetInjections([]domain.InjectionInput{
		{MuscleID: "m", Side: domain.SideLeft, Units: 10},
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := e.Sign(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	s := Resume(e, StepProcedure)
	if err := s.Advance(); !errors.IsState(err) {
		t.Errorf("Expected state error on signed encounter, got %v", err)
	}
}

func TestValidStep(t *testing.T) {
	for _, s := range []Step{StepContext, StepProcedure, StepIntent, StepReview} {
		if !ValidStep(s) {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if ValidStep(Step("payment")) {
		t.Error("Expected unknown step to be invalid")
	}
}
