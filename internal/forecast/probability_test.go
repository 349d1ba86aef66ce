package forecast

import (
	"testing"

	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/stretchr/testify/assert"
)

func fcast(temp, sd float64, unit types.Unit) *types.Forecast {
	return &types.Forecast{Temp: temp, StdDev: sd, Unit: unit}
}

func boundedSpec(venue types.Venue, lo, hi float64, unit types.Unit) *types.RangeSpec {
	return &types.RangeSpec{
		Venue:     venue,
		RangeMin:  &lo,
		RangeMax:  &hi,
		RangeType: types.RangeBounded,
		Unit:      unit,
	}
}

func TestProbability_BoundedNarrative(t *testing.T) {
	// Forecast 52F sd 3F against the 50-51F band: a thin tail slice.
	f := fcast(52, 3, types.UnitF)
	spec := boundedSpec(types.VenuePolymarket, 50, 51, types.UnitF)

	p := Probability(f, spec)
	assert.InDelta(t, 0.117, p, 0.005)

	// Edge against a $0.12 ask stays far below the 10 point entry floor.
	assert.Less(t, p-0.12, 0.10)

	spec2 := boundedSpec(types.VenuePolymarket, 52, 53, types.UnitF)
	p2 := Probability(f, spec2)
	assert.InDelta(t, 0.131, p2, 0.005)
	assert.Less(t, p2-0.18, 0.10)
}

func TestProbability_ContinuityCorrectionStructuredOnly(t *testing.T) {
	f := fcast(52, 3, types.UnitF)

	narrative := Probability(f, boundedSpec(types.VenuePolymarket, 50, 51, types.UnitF))
	structured := Probability(f, boundedSpec(types.VenueKalshi, 50, 51, types.UnitF))

	// The structured venue integrates (49.5, 51.5) for a discrete 50-51
	// settlement; the narrative band stays as-is.
	assert.InDelta(t, 0.117, narrative, 0.005)
	assert.InDelta(t, 0.232, structured, 0.005)
	assert.Greater(t, structured, narrative)

	// Half-integer bounds never get corrected.
	halfOpen := Probability(f, boundedSpec(types.VenueKalshi, 49.5, 51.5, types.UnitF))
	assert.InDelta(t, structured, halfOpen, 1e-9)
}

func TestProbability_UnboundedBounds(t *testing.T) {
	f := fcast(52, 3, types.UnitF)

	lo := 49.0
	upper := &types.RangeSpec{
		Venue: types.VenuePolymarket, RangeMin: &lo,
		RangeType: types.RangeUnbounded, Unit: types.UnitF,
	}
	// P(high >= 49) with mean 52 sd 3 = 1 - CDF(-1) ~ 0.841.
	assert.InDelta(t, 0.841, Probability(f, upper), 0.005)

	hi := 49.0
	lower := &types.RangeSpec{
		Venue: types.VenuePolymarket, RangeMax: &hi,
		RangeType: types.RangeUnbounded, Unit: types.UnitF,
	}
	assert.InDelta(t, 0.159, Probability(f, lower), 0.005)
}

func TestSideProbability_ExactComplement(t *testing.T) {
	f := fcast(52, 3, types.UnitF)
	spec := boundedSpec(types.VenuePolymarket, 50, 51, types.UnitF)

	yes := SideProbability(f, spec, types.SideYes)
	no := SideProbability(f, spec, types.SideNo)
	assert.Equal(t, 1.0, yes+no)
	assert.GreaterOrEqual(t, yes, 0.0)
	assert.LessOrEqual(t, yes, 1.0)
}

func TestProbability_UnitConversion(t *testing.T) {
	// Celsius forecast against Fahrenheit bounds.
	f := fcast(11.0, 1.67, types.UnitC)
	spec := boundedSpec(types.VenuePolymarket, 50, 53, types.UnitF)

	p := Probability(f, spec)
	assert.Greater(t, p, 0.3)
	assert.LessOrEqual(t, p, 1.0)
}

func TestProbability_ZeroStdDev(t *testing.T) {
	f := fcast(52, 0, types.UnitF)

	assert.Equal(t, 1.0, Probability(f, boundedSpec(types.VenuePolymarket, 51, 53, types.UnitF)))
	assert.Equal(t, 0.0, Probability(f, boundedSpec(types.VenuePolymarket, 53, 54, types.UnitF)))
}
