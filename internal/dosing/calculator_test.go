package dosing

import (
	"math"
	"testing"
)

// TestConcentration tests the reconstitution calculation
func TestConcentration(t *testing.T) {
	tests := []struct {
		name     string
		vialSize float64
		dilution float64
		want     float64
		wantErr  bool
	}{
		{"Botox 100U in 2.5ml", 100, 2.5, 40, false},
		{"Dysport 500U in 2ml", 500, 2, 250, false},
		{"Xeomin 50U in 1ml", 50, 1, 50, false},
		{"Zero dilution", 100, 0, 0, true},
		{"Negative dilution", 100, -1, 0, true},
		{"Zero vial size", 0, 2.5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Concentration(tt.vialSize, tt.dilution)

			if tt.wantErr && err == nil {
				t.Fatal("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v units/ml, got %v", tt.want, got)
			}
		})
	}
}

// TestUnitsToVolume tests unit-to-volume conversion and rounding
func TestUnitsToVolume(t *testing.T) {
	tests := []struct {
		name       string
		units      float64
		unitsPerMl float64
		want       float64
	}{
		{"20 units at 40 U/ml", 20, 40, 0.5},
		{"25 units at 40 U/ml", 25, 40, 0.625},
		{"10 units at 30 U/ml rounds to 3 decimals", 10, 30, 0.333},
		{"Zero units", 0, 40, 0},
		{"Invalid concentration yields zero", 20, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnitsToVolume(tt.units, tt.unitsPerMl)
			if got != tt.want {
				t.Errorf("Expected %v ml, got %v", tt.want, got)
			}
		})
	}
}

// TestVolumeToUnits tests volume-to-unit conversion and rounding
func TestVolumeToUnits(t *testing.T) {
	tests := []struct {
		name       string
		volumeMl   float64
		unitsPerMl float64
		want       float64
	}{
		{"0.5 ml at 40 U/ml", 0.5, 40, 20},
		{"0.625 ml at 40 U/ml", 0.625, 40, 25},
		{"0.333 ml at 30 U/ml rounds to 1 decimal", 0.333, 30, 10},
		{"Zero volume", 0, 40, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VolumeToUnits(tt.volumeMl, tt.unitsPerMl)
			if got != tt.want {
				t.Errorf("Expected %v units, got %v", tt.want, got)
			}
		})
	}
}

// TestRoundTrip verifies units -> volume -> units stays within 0.1 tolerance
// across realistic dose and concentration ranges.
func TestRoundTrip(t *testing.T) {
	concentrations := []float64{10, 20, 40, 50, 100, 250}
	for _, unitsPerMl := range concentrations {
		for units := 0.0; units <= 500; units += 2.5 {
			volume := UnitsToVolume(units, unitsPerMl)
			back := VolumeToUnits(volume, unitsPerMl)

			if math.Abs(back-units) > 0.1 {
				t.Fatalf("Round trip failed for %v units at %v U/ml: got %v back",
					units, unitsPerMl, back)
			}
		}
	}
}
