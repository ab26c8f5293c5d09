package audit

import (
	"testing"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a, err := canonicalJSON(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": false}})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := `{"a":2,"b":1,"c":{"y":false,"z":true}}`
	if string(a) != expected {
		t.Errorf("Expected %s, got %s", expected, string(a))
	}
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	input := map[string]any{
		"status":      "signed",
		"total_units": 150.0,
		"sites":       []any{"left", "right"},
	}

	first, err := canonicalJSON(input)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for i := 0; i < 10; i++ {
		next, err := canonicalJSON(input)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if string(next) != string(first) {
			t.Fatalf("Expected deterministic output, got %s vs %s", string(next), string(first))
		}
	}
}

func TestNewEntryHash(t *testing.T) {
	actorID := types.NewID()
	resourceID := types.NewID()

	entry := NewEntry(ActorTypeClinician, actorID, nil, ActionTreatmentSigned, ResourceEncounter, &resourceID,
		map[string]any{"status": "signed"}, "")

	if entry.Hash == "" {
		t.Fatal("Expected hash to be set")
	}
	if !entry.VerifyHash() {
		t.Error("Expected fresh entry to verify")
	}
}

func TestVerifyHashDetectsTampering(t *testing.T) {
	actorID := types.NewID()
	entry := NewEntry(ActorTypeClinician, actorID, nil, ActionTreatmentSigned, ResourceEncounter, nil,
		map[string]any{"total_units": 100.0}, "")

	entry.Changes["total_units"] = 999.0

	if entry.VerifyHash() {
		t.Error("Expected tampered entry to fail verification")
	}
}

func TestVerifyHashDetectsPrevHashTampering(t *testing.T) {
	actorID := types.NewID()
	first := NewEntry(ActorTypeClinician, actorID, nil, ActionTreatmentSigned, ResourceEncounter, nil, nil, "")
	second := NewEntry(ActorTypeClinician, actorID, nil, ActionTreatmentReopened, ResourceEncounter, nil, nil, first.Hash)

	if second.PrevHash != first.Hash {
		t.Errorf("Expected prev hash %s, got %s", first.Hash, second.PrevHash)
	}
	if !second.VerifyHash() {
		t.Fatal("Expected chained entry to verify")
	}

	// Re-pointing the chain must invalidate the hash
	second.PrevHash = ""
	if second.VerifyHash() {
		t.Error("Expected re-linked entry to fail verification")
	}
}

func TestWithJustificationRehashes(t *testing.T) {
	actorID := types.NewID()
	entry := NewEntry(ActorTypeClinician, actorID, nil, ActionTreatmentReopened, ResourceEncounter, nil, nil, "")
	before := entry.Hash

	entry.WithJustification("wrong muscle documented")

	if entry.Hash == before {
		t.Error("Expected hash to change after adding justification")
	}
	if !entry.VerifyHash() {
		t.Error("Expected rehashed entry to verify")
	}
	if entry.Justification != "wrong muscle documented" {
		t.Errorf("Expected justification to be stored, got %q", entry.Justification)
	}
}

func TestWithRequestDoesNotAffectHash(t *testing.T) {
	actorID := types.NewID()
	entry := NewEntry(ActorTypeSystem, actorID, nil, ActionLegacyImported, ResourceEncounter, nil, nil, "")
	before := entry.Hash

	entry.WithRequest("10.0.0.1")

	if entry.Hash != before {
		t.Error("Expected request metadata to be outside the hashed payload")
	}
	if !entry.VerifyHash() {
		t.Error("Expected entry to still verify")
	}
}
