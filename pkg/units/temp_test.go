package units

import (
	"testing"
	"time"

	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCToF_RoundsToInteger(t *testing.T) {
	assert.Equal(t, 32.0, CToF(0))
	assert.Equal(t, 72.0, CToF(22.2)) // 71.96 rounds up
	assert.Equal(t, 73.0, CToF(22.5))
	assert.Equal(t, -40.0, CToF(-40))
}

func TestFToC_RoundsToTenth(t *testing.T) {
	assert.Equal(t, 0.0, FToC(32))
	assert.Equal(t, 22.2, FToC(72))
	assert.Equal(t, 12.8, FToC(55))
	assert.Equal(t, -40.0, FToC(-40))
}

func TestConvert_SameUnitIsIdentity(t *testing.T) {
	// 22.24 would not survive a round trip through Fahrenheit.
	assert.Equal(t, 22.24, Convert(22.24, types.UnitC, types.UnitC))
	assert.Equal(t, 71.96, Convert(71.96, types.UnitF, types.UnitF))
}

func TestUTCWindow_CoversLocalDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start, end, err := UTCWindow("2026-08-24", ny)
	require.NoError(t, err)

	// EDT is UTC-4: the local day starts at 04:00 UTC.
	assert.Equal(t, time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestUTCWindow_DSTTransitionDayStaysCanonical(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-11-01 falls back. The offset is sampled at 12:00 UTC, after
	// the transition, so the whole day anchors to EST.
	start, end, err := UTCWindow("2026-11-01", ny)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 1, 5, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestHoursUntilEndOfLocalDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2026, 8, 24, 18, 0, 0, 0, ny)
	assert.InDelta(t, 6.0, HoursUntilEndOfLocalDay(now, "2026-08-24", ny), 1e-9)
	assert.InDelta(t, 30.0, HoursUntilEndOfLocalDay(now, "2026-08-25", ny), 1e-9)
	assert.Less(t, HoursUntilEndOfLocalDay(now, "2026-08-23", ny), 0.0)
}
