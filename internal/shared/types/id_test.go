package types

import "testing"

func TestNewDeterministicID(t *testing.T) {
	a := NewDeterministicID("legacy:treatment", "T-100")
	b := NewDeterministicID("legacy:treatment", "T-100")
	if a != b {
		t.Errorf("Expected identical ids for the same pair, got %s and %s", a, b)
	}

	if NewDeterministicID("legacy:patient", "T-100") == a {
		t.Error("Different namespaces must yield different ids")
	}
	if NewDeterministicID("legacy:treatment", "T-101") == a {
		t.Error("Different names must yield different ids")
	}

	if _, err := ParseID(a.String()); err != nil {
		t.Errorf("Expected a valid UUID, got %v", err)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Error("Expected an error for a malformed id")
	}
}
