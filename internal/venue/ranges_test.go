package venue

import (
	"testing"

	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNarrativeRange(t *testing.T) {
	tests := []struct {
		name      string
		wantMin   *float64
		wantMax   *float64
		rangeType types.RangeType
	}{
		{"≤17°F", nil, f(17), types.RangeUnbounded},
		{"17° or below", nil, f(17), types.RangeUnbounded},
		{"17 or less", nil, f(17), types.RangeUnbounded},
		{"Below 17", nil, f(17), types.RangeUnbounded},
		{"≥28°F", f(28), nil, types.RangeUnbounded},
		{"28° or above", f(28), nil, types.RangeUnbounded},
		{"28 or more", f(28), nil, types.RangeUnbounded},
		{"28° or higher", f(28), nil, types.RangeUnbounded},
		{"18-19°F", f(18), f(19), types.RangeBounded},
		{"18–19°F", f(18), f(19), types.RangeBounded}, // en-dash
		{"64-65", f(64), f(65), types.RangeBounded},
		{"18°F", f(17.5), f(18.5), types.RangeBounded},
		{"31°C", f(30.5), f(31.5), types.RangeBounded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNarrativeRange(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.rangeType, got.RangeType)
			assertBound(t, tt.wantMin, got.Min, "min")
			assertBound(t, tt.wantMax, got.Max, "max")
		})
	}
}

func TestParseNarrativeRange_Rejects(t *testing.T) {
	for _, name := range []string{"", "no numbers here", "19-18°F"} {
		_, err := ParseNarrativeRange(name)
		assert.Error(t, err, "name %q", name)
		assert.ErrorIs(t, err, types.ErrValidation)
	}
}

func TestParseUnit(t *testing.T) {
	assert.Equal(t, types.UnitC, ParseUnit("31°C", types.UnitF))
	assert.Equal(t, types.UnitF, ParseUnit("18-19°F", types.UnitC))
	assert.Equal(t, types.UnitF, ParseUnit("64-65", types.UnitF))
}

func TestMapStructuredStrike(t *testing.T) {
	// A "greater than 60" strike settles YES at integer highs of 61+.
	got, err := MapStructuredStrike("greater", f(60), nil)
	require.NoError(t, err)
	assert.Equal(t, 61.0, *got.Min)
	assert.Nil(t, got.Max)
	assert.Equal(t, types.RangeUnbounded, got.RangeType)

	got, err = MapStructuredStrike("less", nil, f(56))
	require.NoError(t, err)
	assert.Nil(t, got.Min)
	assert.Equal(t, 55.0, *got.Max)

	got, err = MapStructuredStrike("between", f(61), f(62))
	require.NoError(t, err)
	assert.Equal(t, 61.0, *got.Min)
	assert.Equal(t, 62.0, *got.Max)
	assert.Equal(t, types.RangeBounded, got.RangeType)

	_, err = MapStructuredStrike("exotic", f(61), f(62))
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = MapStructuredStrike("greater", nil, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestEventTicker(t *testing.T) {
	ticker, err := EventTicker("nyc", "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, "KXHIGHNY-26AUG24", ticker)

	_, err = EventTicker("unknown-city", "2026-08-24")
	assert.Error(t, err)
}

func TestRangeNameFromTicker(t *testing.T) {
	assert.Equal(t, "B60.5", rangeNameFromTicker("KXHIGHNY-26AUG24-B60.5", "60 to 61"))
	assert.Equal(t, "T63", rangeNameFromTicker("KXHIGHCHI-26AUG24-T63", ""))
	assert.Equal(t, "fallback", rangeNameFromTicker("noseparator", "fallback"))
}

func assertBound(t *testing.T, want, got *float64, which string) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got, which)
		return
	}
	require.NotNil(t, got, which)
	assert.Equal(t, *want, *got, which)
}

func f(v float64) *float64 { return &v }
