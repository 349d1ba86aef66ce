package forecast

import (
	"math"

	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
)

// normalCDF is the standard normal CDF.
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// Probability returns P(daily high falls inside the range) under
// N(forecast.Temp, forecast.StdDev). Null bounds integrate to +/- infinity.
// On the structured venue, whose strike metadata yields integer-aligned
// bounds on a discrete settlement temperature, a continuity correction of
// half a unit widens each finite bound outward before integrating.
func Probability(f *types.Forecast, spec *types.RangeSpec) float64 {
	if f.StdDev <= 0 {
		return degenerateProbability(f, spec)
	}

	var lo, hi float64
	hasLo, hasHi := spec.RangeMin != nil, spec.RangeMax != nil
	if hasLo {
		lo = units.Convert(*spec.RangeMin, spec.Unit, f.Unit)
	}
	if hasHi {
		hi = units.Convert(*spec.RangeMax, spec.Unit, f.Unit)
	}

	if spec.Venue == types.VenueKalshi && hasLo && hasHi && integerAligned(lo, hi) {
		lo -= 0.5
		hi += 0.5
	}

	upper := 1.0
	if hasHi {
		upper = normalCDF((hi - f.Temp) / f.StdDev)
	}
	lower := 0.0
	if hasLo {
		lower = normalCDF((lo - f.Temp) / f.StdDev)
	}

	p := upper - lower
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// SideProbability returns the probability for a side; NO is the exact
// complement of YES.
func SideProbability(f *types.Forecast, spec *types.RangeSpec, side types.Side) float64 {
	p := Probability(f, spec)
	if side == types.SideNo {
		return 1 - p
	}
	return p
}

func degenerateProbability(f *types.Forecast, spec *types.RangeSpec) float64 {
	inside := true
	if spec.RangeMin != nil && f.Temp < units.Convert(*spec.RangeMin, spec.Unit, f.Unit) {
		inside = false
	}
	if spec.RangeMax != nil && f.Temp > units.Convert(*spec.RangeMax, spec.Unit, f.Unit) {
		inside = false
	}
	if inside {
		return 1
	}
	return 0
}

func integerAligned(lo, hi float64) bool {
	return lo == math.Trunc(lo) && hi == math.Trunc(hi)
}
