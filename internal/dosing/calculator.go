// Package dosing converts between administered toxin units and injected
// volume for a given reconstitution. All functions are pure; the package
// holds no state.
package dosing

import (
	"math"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
)

// Rounding precision differs by direction: volume is drawn up in thousandths
// of a millilitre, units are charted with one decimal. Both directions stay
// mutually consistent within 0.1 unit.
const (
	volumePrecision = 3
	unitsPrecision  = 1
)

// Concentration returns the units-per-ml concentration for a vial
// reconstituted with the given diluent volume.
func Concentration(vialSizeUnits, dilutionMl float64) (float64, error) {
	if dilutionMl <= 0 {
		return 0, errors.Validation("invalid dilution", map[string]string{
			"dilution_ml": "must be greater than zero",
		})
	}
	if vialSizeUnits <= 0 {
		return 0, errors.Validation("invalid vial size", map[string]string{
			"vial_size_units": "must be greater than zero",
		})
	}
	return vialSizeUnits / dilutionMl, nil
}

// UnitsToVolume converts administered units to injected volume in ml,
// rounded to 3 decimals.
func UnitsToVolume(units, unitsPerMl float64) float64 {
	if unitsPerMl <= 0 {
		return 0
	}
	return round(units/unitsPerMl, volumePrecision)
}

// VolumeToUnits converts injected volume in ml to administered units,
// rounded to 1 decimal.
func VolumeToUnits(volumeMl, unitsPerMl float64) float64 {
	return round(volumeMl*unitsPerMl, unitsPrecision)
}

func round(v float64, decimals int) float64 {
	factor := math.Pow10(decimals)
	return math.Round(v*factor) / factor
}
