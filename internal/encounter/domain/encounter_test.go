package domain

import (
	"testing"
	"time"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

func newTestEncounter(t *testing.T) *Encounter {
	t.Helper()

	e, err := NewEncounter(NewEncounterInput{
		PatientID:      types.NewID(),
		OrganizationID: types.NewID(),
		ProviderID:     types.NewID(),
		Indication:     "spasticity",
		TreatmentSite:  "upper limb",
		ProductName:    "Botox",
		VialSizeUnits:  100,
		DilutionMl:     2.5,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return e
}

// TestNewEncounter tests creating a draft encounter
func TestNewEncounter(t *testing.T) {
	e := newTestEncounter(t)

	if e.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}
	if e.Status != StatusDraft {
		t.Errorf("Expected status %s, got %s", StatusDraft, e.Status)
	}
	if e.IndicationGroup != GroupSpasticity {
		t.Errorf("Expected group %s, got %s", GroupSpasticity, e.IndicationGroup)
	}
	if e.Concentration() != 40 {
		t.Errorf("Expected 40 units/ml, got %v", e.Concentration())
	}
	if len(e.GetDomainEvents()) != 1 {
		t.Error("Expected a creation event")
	}
}

// TestNewEncounterValidation tests required-field validation
func TestNewEncounterValidation(t *testing.T) {
	patientID := types.NewID()

	tests := []struct {
		name      string
		patientID types.ID
		indication string
		product   string
		dilution  float64
		wantErr   bool
	}{
		{"Missing patient", types.ID(""), "spasticity", "Botox", 2.5, true},
		{"Missing indication", patientID, "", "Botox", 2.5, true},
		{"Missing product", patientID, "spasticity", "", 2.5, true},
		{"Zero dilution", patientID, "spasticity", "Botox", 0, true},
		{"Valid input", patientID, "spasticity", "Botox", 2.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncounter(NewEncounterInput{
				PatientID:     tt.patientID,
				ProviderID:    types.NewID(),
				Indication:    tt.indication,
				ProductName:   tt.product,
				VialSizeUnits: 100,
				DilutionMl:    tt.dilution,
			})

			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

// TestSetInjectionsTotalUnits tests the TotalUnits invariant
func TestSetInjectionsTotalUnits(t *testing.T) {
	e := newTestEncounter(t)

	err := e.SetInjections([]InjectionInput{
		{MuscleID: "biceps_brachii", Side: SideLeft, Units: 50},
		{MuscleID: "flexor_carpi_radialis", Side: SideLeft, Units: 25},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if e.TotalUnits != 75 {
		t.Errorf("Expected TotalUnits 75, got %v", e.TotalUnits)
	}

	sum := 0.0
	for _, inj := range e.Injections {
		sum += inj.Units
	}
	if e.TotalUnits != sum {
		t.Errorf("TotalUnits %v does not equal injection sum %v", e.TotalUnits, sum)
	}

	// Volume derives from the 40 U/ml reconstitution
	if e.Injections[0].VolumeMl != 1.25 {
		t.Errorf("Expected 1.25 ml for 50 units at 40 U/ml, got %v", e.Injections[0].VolumeMl)
	}
}

// TestBilateralSplit tests expansion of a bilateral selection into two
// independently dosed rows.
func TestBilateralSplit(t *testing.T) {
	e := newTestEncounter(t)

	err := e.SetInjections([]InjectionInput{
		{MuscleID: "gastrocnemius", Side: SideBilateral, Units: 20},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(e.Injections) != 2 {
		t.Fatalf("Expected 2 injection rows, got %d", len(e.Injections))
	}

	left, right := e.Injections[0], e.Injections[1]
	if left.Side != SideLeft || right.Side != SideRight {
		t.Errorf("Expected left and right rows, got %s and %s", left.Side, right.Side)
	}
	if left.ID == right.ID {
		t.Error("Expected distinct ids for split rows")
	}
	if left.Units != 20 || right.Units != 20 {
		t.Errorf("Expected 20 units each, got %v and %v", left.Units, right.Units)
	}
	if e.TotalUnits != 40 {
		t.Errorf("Expected TotalUnits 40, got %v", e.TotalUnits)
	}

	// Assessments stay independent per side
	if err := e.SetInjectionAssessment(left.ID, ScaleMAS, TimepointBaseline, "3"); err != nil {
		t.Fatalf("Failed to assess left row: %v", err)
	}
	if err := e.SetInjectionAssessment(right.ID, ScaleMAS, TimepointBaseline, "1+"); err != nil {
		t.Fatalf("Failed to assess right row: %v", err)
	}

	if len(e.Injections[0].Assessments) != 1 || e.Injections[0].Assessments[0].Value != "3" {
		t.Error("Left row assessment not recorded independently")
	}
	if len(e.Injections[1].Assessments) != 1 || e.Injections[1].Assessments[0].Value != "1+" {
		t.Error("Right row assessment not recorded independently")
	}
}

// TestVolumeAuthoritative tests that a volume-last edit converts to units
func TestVolumeAuthoritative(t *testing.T) {
	e := newTestEncounter(t)

	err := e.SetInjections([]InjectionInput{
		{MuscleID: "trapezius", Side: SideMidline, VolumeMl: 0.5, EditedBy: AmountVolume},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if e.Injections[0].Units != 20 {
		t.Errorf("Expected 20 units from 0.5 ml at 40 U/ml, got %v", e.Injections[0].Units)
	}
}

// TestAssessmentUpsert tests that repeated scores overwrite, not duplicate
func TestAssessmentUpsert(t *testing.T) {
	e := newTestEncounter(t)
	if err := e.SetGlobalAssessment(ScaleCGI, TimepointBaseline, "4"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := e.SetGlobalAssessment(ScaleCGI, TimepointBaseline, "2"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(e.GlobalAssessments) != 1 {
		t.Fatalf("Expected 1 assessment, got %d", len(e.GlobalAssessments))
	}
	if e.GlobalAssessments[0].Value != "2" {
		t.Errorf("Expected overwritten value 2, got %s", e.GlobalAssessments[0].Value)
	}
}

// TestSignGuard tests the sign preconditions
func TestSignGuard(t *testing.T) {
	t.Run("Cannot sign with zero units", func(t *testing.T) {
		e := newTestEncounter(t)
		err := e.Sign()
		if !errors.IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
		if e.Status != StatusDraft {
			t.Error("Status must be unchanged after failed sign")
		}
	})

	t.Run("Sign succeeds with units", func(t *testing.T) {
		e := newTestEncounter(t)
		e.SetInjections([]InjectionInput{{MuscleID: "m", Side: SideLeft, Units: 10}})

		if err := e.Sign(); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if e.Status != StatusSigned {
			t.Errorf("Expected status %s, got %s", StatusSigned, e.Status)
		}
		if e.SignedAt == nil {
			t.Error("Expected SignedAt to be set")
		}
	})

	t.Run("Second sign fails with state error", func(t *testing.T) {
		e := newTestEncounter(t)
		e.SetInjections([]InjectionInput{{MuscleID: "m", Side: SideLeft, Units: 10}})
		e.Sign()

		err := e.Sign()
		if !errors.IsState(err) {
			t.Errorf("Expected state error, got %v", err)
		}
	})
}

// TestSignedImmutable tests that a signed encounter rejects mutations
func TestSignedImmutable(t *testing.T) {
	e := newTestEncounter(t)
	e.SetInjections([]InjectionInput{{MuscleID: "m", Side: SideLeft, Units: 10}})
	e.Sign()

	if err := e.SetInjections([]InjectionInput{{MuscleID: "m2", Side: SideRight, Units: 5}}); !errors.IsState(err) {
		t.Errorf("Expected state error for injection edit, got %v", err)
	}
	if err := e.SetGlobalAssessment(ScaleCGI, TimepointBaseline, "4"); !errors.IsState(err) {
		t.Errorf("Expected state error for assessment edit, got %v", err)
	}
	if err := e.SetGoalTargets([]types.ID{types.NewID()}); !errors.IsState(err) {
		t.Errorf("Expected state error for goal targeting, got %v", err)
	}
}

// TestReopen tests the reopen transition
func TestReopen(t *testing.T) {
	t.Run("Blank reason rejected", func(t *testing.T) {
		e := newTestEncounter(t)
		e.SetInjections([]InjectionInput{{MuscleID: "m", Side: SideLeft, Units: 10}})
		e.Sign()

		if err := e.Reopen("  "); !errors.IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
		if e.Status != StatusSigned {
			t.Error("Status must be unchanged after failed reopen")
		}
	})

	t.Run("Reopen flips status and allows edits", func(t *testing.T) {
		e := newTestEncounter(t)
		e.SetInjections([]InjectionInput{{MuscleID: "m", Side: SideLeft, Units: 10}})
		e.Sign()

		if err := e.Reopen("dose correction"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if e.Status != StatusDraft {
			t.Errorf("Expected status %s, got %s", StatusDraft, e.Status)
		}
		if e.SignedAt != nil {
			t.Error("Expected SignedAt to be cleared")
		}

		if err := e.SetInjections([]InjectionInput{{MuscleID: "m", Side: SideLeft, Units: 15}}); err != nil {
			t.Fatalf("Expected edit after reopen to succeed, got %v", err)
		}
	})

	t.Run("Cannot reopen a draft", func(t *testing.T) {
		e := newTestEncounter(t)
		if err := e.Reopen("reason"); !errors.IsState(err) {
			t.Errorf("Expected state error, got %v", err)
		}
	})
}

// TestFollowup tests follow-up recording rules
func TestFollowup(t *testing.T) {
	e := newTestEncounter(t)

	if err := e.SetFollowup(time.Now(), "improved"); !errors.IsState(err) {
		t.Errorf("Expected state error on draft, got %v", err)
	}

	e.SetInjections([]InjectionInput{{MuscleID: "m", Side: SideLeft, Units: 10}})
	e.Sign()

	if err := e.SetFollowup(time.Now(), "improved"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !e.HasFollowup() {
		t.Error("Expected follow-up to be recorded")
	}
}

// TestParseIndicationGroup tests group mapping with the catch-all
func TestParseIndicationGroup(t *testing.T) {
	tests := []struct {
		in   string
		want IndicationGroup
	}{
		{"spasticity", GroupSpasticity},
		{"dystonia", GroupDystonia},
		{"headache", GroupHeadache},
		{"autonomic", GroupAutonomic},
		{"sialorrhea", GroupOther},
		{"", GroupOther},
	}

	for _, tt := range tests {
		if got := ParseIndicationGroup(tt.in); got != tt.want {
			t.Errorf("ParseIndicationGroup(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
