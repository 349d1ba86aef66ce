package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMetar struct {
	readings map[string]*MetarReading
	err      error
	calls    int
}

func (f *fakeMetar) FetchBatch(ctx context.Context, stations []string) (map[string]*MetarReading, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*MetarReading)
	for _, s := range stations {
		if r, ok := f.readings[s]; ok {
			out[s] = r
		}
	}
	return out, nil
}

type fakeCrowd struct {
	tempF float64
	err   error
}

func (f *fakeCrowd) CurrentTempF(ctx context.Context, city *registry.City) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.tempF, nil
}

type fakeMarkets struct {
	specs map[string][]*types.RangeSpec
	books map[string]*types.Depth
}

func (f *fakeMarkets) ListOutcomes(ctx context.Context, city *registry.City, targetDate string) []*types.RangeSpec {
	return f.specs[city.Key]
}

func (f *fakeMarkets) GetOrderbook(ctx context.Context, v types.Venue, marketID, tokenID string) (*types.Depth, error) {
	if d, ok := f.books[marketID]; ok {
		return d, nil
	}
	return &types.Depth{}, nil
}

type fakeStore struct {
	mu           sync.Mutex
	highs        map[string]*storage.RunningHigh
	pending      map[string][]*types.PendingEvent
	inserted     []*types.PendingEvent
	observations []*types.Observation
	wuLeads      []*types.WULeadsEvent
	wuConfirms   int
	reprices     int
	highUpdates  int
	leadConfirms int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		highs:   make(map[string]*storage.RunningHigh),
		pending: make(map[string][]*types.PendingEvent),
	}
}

func (f *fakeStore) UpsertObservation(ctx context.Context, o *types.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observations = append(f.observations, o)
	return nil
}

func (f *fakeStore) RunningHighs(ctx context.Context, dates []string) (map[string]*storage.RunningHigh, error) {
	return f.highs, nil
}

func (f *fakeStore) PendingEventsForDates(ctx context.Context, dates []string) (map[string][]*types.PendingEvent, error) {
	return f.pending, nil
}

func (f *fakeStore) InsertPendingEvent(ctx context.Context, e *types.PendingEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, prev := range f.inserted {
		if prev.City == e.City && prev.Venue == e.Venue && prev.RangeName == e.RangeName && prev.Side == e.Side {
			return false, nil
		}
	}
	f.inserted = append(f.inserted, e)
	return true, nil
}

func (f *fakeStore) UpdatePendingHighs(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, metarHigh float64, wuHigh *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highUpdates++
	return nil
}

func (f *fakeStore) LatchWUConfirmed(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wuConfirms++
	return nil
}

func (f *fakeStore) LatchMarketRepriced(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, repricedVenue types.Venue, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reprices++
	return nil
}

func (f *fakeStore) InsertWULeadsEvent(ctx context.Context, e *types.WULeadsEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wuLeads = append(f.wuLeads, e)
	return true, nil
}

func (f *fakeStore) LatchWULeadMetarConfirmed(ctx context.Context, city, targetDate, stationID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leadConfirms++
	return nil
}

type fakeGW struct {
	mu       sync.Mutex
	triggers []string
}

func (f *fakeGW) Trigger(ctx context.Context, city *registry.City, targetDate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, city.Key+"|"+targetDate)
}

type fakeAlerter struct {
	mu       sync.Mutex
	critical []string
	queued   []string
}

func (f *fakeAlerter) Critical(ctx context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.critical = append(f.critical, text)
}

func (f *fakeAlerter) Queue(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, text)
}

func testCity(t *testing.T, key, pmStation, kalshiStation string) *registry.City {
	t.Helper()
	return &registry.City{
		Key: key, Name: key, Timezone: "America/New_York", Unit: types.UnitF,
		Stations: map[types.Venue]string{
			types.VenuePolymarket: pmStation,
			types.VenueKalshi:     kalshiStation,
		},
		ResolutionSource: map[types.Venue]string{
			types.VenuePolymarket: "wu",
			types.VenueKalshi:     "metar",
		},
	}
}

func upperSpec(venue types.Venue, city string, min float64, ask float64) *types.RangeSpec {
	return &types.RangeSpec{
		Venue:     venue,
		MarketID:  string(venue) + "-mkt",
		City:      city,
		RangeName: "38-or-above",
		RangeMin:  &min,
		RangeType: types.RangeUnbounded,
		Unit:      types.UnitF,
		Bid:       ask - 0.04,
		Ask:       ask,
		Spread:    0.04,
		Volume:    5000,
	}
}

func newTestObserver(t *testing.T, cities []*registry.City, metar *fakeMetar, crowd CrowdSource, markets *fakeMarkets, store *fakeStore, gw *fakeGW, alerts *fakeAlerter) *Observer {
	t.Helper()
	reg, err := registry.New(cities)
	require.NoError(t, err)
	return New(&Config{
		ActiveHoursStart:    0,
		ActiveHoursEnd:      24,
		NearBufferF:         1.0,
		NearBufferC:         0.5,
		MinGapF:             0.5,
		MinGapC:             0.5,
		DualStationMinGapF:  1.5,
		DualStationMinGapC:  0.8,
		WULeadMinGapF:       2.5,
		WULeadMinGapC:       1.5,
		WULeadMaxLocalHour:  24,
		RepriceAsk:          0.97,
		CrossMatchTolerance: 1.0,
		Registry:            reg,
		Markets:             markets,
		Storage:             store,
		Metar:               metar,
		CrowdFast:           crowd,
		CrowdSlow:           crowd,
		GW:                  gw,
		Alerts:              alerts,
		Logger:              zap.NewNop(),
	})
}

func reading(station string, tempC float64) *MetarReading {
	return &MetarReading{StationID: station, TempC: tempC, ObservedAt: time.Now().UTC()}
}

func TestFastTick_FirstDetection(t *testing.T) {
	// 4°C converts to 39°F: one degree over the 38°F threshold, past the
	// 0.5° gap floor. The crossing inserts a pending event, alerts, and
	// fires the guaranteed-win trigger synchronously.
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 4)}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{
		"nyc": {upperSpec(types.VenuePolymarket, "nyc", 38, 0.60)},
	}}
	store := newFakeStore()
	gw := &fakeGW{}
	alerts := &fakeAlerter{}

	o := newTestObserver(t, []*registry.City{city}, metar, nil, markets, store, gw, alerts)
	polled, detections, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, polled)
	assert.Equal(t, 1, detections)

	require.Len(t, store.inserted, 1)
	e := store.inserted[0]
	assert.Equal(t, types.SideYes, e.Side)
	assert.InDelta(t, 1.0, e.MetarGap, 1e-9)
	assert.Equal(t, 0.60, e.AskAtDetection)
	assert.Equal(t, types.PollFast, e.PollSource)
	assert.False(t, e.WUTriggered)
	assert.Nil(t, e.WUConfirmedAt)

	assert.Len(t, alerts.critical, 1)
	assert.Equal(t, []string{"nyc|" + city.LocalDate(time.Now())}, gw.triggers)
	assert.NotEmpty(t, store.observations)
}

func TestFastTick_RedetectionLatchesInsteadOfAlerting(t *testing.T) {
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 4)}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{
		"nyc": {upperSpec(types.VenuePolymarket, "nyc", 38, 0.60)},
	}}
	store := newFakeStore()
	alerts := &fakeAlerter{}

	o := newTestObserver(t, []*registry.City{city}, metar, nil, markets, store, &fakeGW{}, alerts)
	_, first, err := o.FastTick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first)

	_, second, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second)
	assert.Len(t, alerts.critical, 1)
	assert.GreaterOrEqual(t, store.highUpdates, 1)
}

func TestFastTick_RepriceLatch(t *testing.T) {
	// An already-pending event whose ask has risen past the cap gets the
	// repricing timestamp latched on the next pass.
	city := testCity(t, "nyc", "KNYC", "KNYC")
	date := city.LocalDate(time.Now())
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 4)}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{
		"nyc": {upperSpec(types.VenuePolymarket, "nyc", 38, 0.98)},
	}}
	store := newFakeStore()
	store.pending[storage.PendingEventKey("nyc", date)] = []*types.PendingEvent{{
		City: "nyc", TargetDate: date, Venue: types.VenuePolymarket,
		RangeName: "38-or-above", Side: types.SideYes,
	}}

	o := newTestObserver(t, []*registry.City{city}, metar, nil, markets, store, &fakeGW{}, &fakeAlerter{})
	_, detections, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, detections)
	assert.Equal(t, 1, store.reprices)
}

func TestFastTick_WUConfirmsAtExactThreshold(t *testing.T) {
	// A metar-detected pending event confirms as soon as the crowd high
	// reaches the threshold itself; the detection gap floor does not
	// apply to the second source.
	city := testCity(t, "nyc", "KNYC", "KNYC")
	date := city.LocalDate(time.Now())
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 4)}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{
		"nyc": {upperSpec(types.VenuePolymarket, "nyc", 38, 0.60)},
	}}
	store := newFakeStore()
	store.pending[storage.PendingEventKey("nyc", date)] = []*types.PendingEvent{{
		City: "nyc", TargetDate: date, Venue: types.VenuePolymarket,
		RangeName: "38-or-above", Side: types.SideYes,
	}}

	o := newTestObserver(t, []*registry.City{city}, metar, &fakeCrowd{tempF: 38.0}, markets, store, &fakeGW{}, &fakeAlerter{})
	_, detections, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, detections)
	assert.Equal(t, 1, store.wuConfirms)
}

func TestFastTick_WUTriggeredDetection(t *testing.T) {
	// Airport high 37°F sits below the threshold; the crowd reading at
	// 38.6°F pushes the WU-resolving venue over. The other venue, which
	// resolves on airport data, must not cross.
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 2.8)}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{
		"nyc": {
			upperSpec(types.VenuePolymarket, "nyc", 38, 0.60),
			upperSpec(types.VenueKalshi, "nyc", 38, 0.55),
		},
	}}
	store := newFakeStore()

	o := newTestObserver(t, []*registry.City{city}, metar, &fakeCrowd{tempF: 38.6}, markets, store, &fakeGW{}, &fakeAlerter{})
	_, detections, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, detections)

	require.Len(t, store.inserted, 1)
	e := store.inserted[0]
	assert.Equal(t, types.VenuePolymarket, e.Venue)
	assert.True(t, e.WUTriggered)
	require.NotNil(t, e.WUHigh)
	assert.InDelta(t, 38.6, *e.WUHigh, 1e-9)
	require.NotNil(t, e.WUConfirmedAt)
}

func TestFastTick_DualStationGapDoubles(t *testing.T) {
	// Chicago-style setup: the venues settle against different airports.
	// A 1.0° gap clears the narrative venue's 0.5° floor but not the
	// structured venue's 1.5° dual-station floor.
	city := testCity(t, "chi", "KMDW", "KORD")
	metar := &fakeMetar{readings: map[string]*MetarReading{
		"KMDW": reading("KMDW", 4),
		"KORD": reading("KORD", 4),
	}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{
		"chi": {
			upperSpec(types.VenuePolymarket, "chi", 38, 0.60),
			upperSpec(types.VenueKalshi, "chi", 38, 0.55),
		},
	}}
	store := newFakeStore()

	o := newTestObserver(t, []*registry.City{city}, metar, nil, markets, store, &fakeGW{}, &fakeAlerter{})
	_, detections, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, detections)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, types.VenuePolymarket, store.inserted[0].Venue)
}

func TestFastTick_TieringSkipsFarCities(t *testing.T) {
	// High of 30°F against a 38°F threshold is outside the 1° buffer:
	// no detection work, no observation writes from the fast loop.
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", -1.1)}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{
		"nyc": {upperSpec(types.VenuePolymarket, "nyc", 38, 0.60)},
	}}
	store := newFakeStore()

	o := newTestObserver(t, []*registry.City{city}, metar, nil, markets, store, &fakeGW{}, &fakeAlerter{})
	_, detections, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, detections)
	assert.Empty(t, store.inserted)
	assert.Empty(t, store.observations)
}

func TestFastTick_BatchFailureAbortsTick(t *testing.T) {
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{err: assert.AnError}
	store := newFakeStore()

	o := newTestObserver(t, []*registry.City{city}, metar, nil, &fakeMarkets{}, store, &fakeGW{}, &fakeAlerter{})
	polled, detections, err := o.FastTick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, polled)
	assert.Equal(t, 0, detections)
}

func TestFastTick_OutsideActiveHours(t *testing.T) {
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 4)}}
	store := newFakeStore()

	o := newTestObserver(t, []*registry.City{city}, metar, nil, &fakeMarkets{}, store, &fakeGW{}, &fakeAlerter{})
	o.cfg.ActiveHoursStart = 24
	o.cfg.ActiveHoursEnd = 25

	polled, detections, err := o.FastTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, polled)
	assert.Equal(t, 0, detections)
	assert.Equal(t, 0, metar.calls)
}

func TestSlowTick_WULeadsPattern(t *testing.T) {
	// Crowd high 45°F vs airport high 40°F: a 5° lead, past the 2.5°
	// floor, recorded once and queued as a summary alert.
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 4.4)}}
	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{}}
	store := newFakeStore()
	alerts := &fakeAlerter{}

	o := newTestObserver(t, []*registry.City{city}, metar, &fakeCrowd{tempF: 45}, markets, store, &fakeGW{}, alerts)
	require.NoError(t, o.SlowTick(context.Background()))

	require.Len(t, store.wuLeads, 1)
	lead := store.wuLeads[0]
	assert.Equal(t, "KNYC", lead.StationID)
	assert.InDelta(t, 45, lead.WUHighF, 1e-9)
	assert.InDelta(t, 40, lead.MetarHighF, 1e-9)
	assert.InDelta(t, 5, lead.GapF, 1e-9)
	assert.Len(t, alerts.queued, 1)
}

func TestSlowTick_WULeadConfirmsWhenGapCloses(t *testing.T) {
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 7.2)}}
	store := newFakeStore()

	o := newTestObserver(t, []*registry.City{city}, metar, &fakeCrowd{tempF: 45.5}, &fakeMarkets{}, store, &fakeGW{}, &fakeAlerter{})
	require.NoError(t, o.SlowTick(context.Background()))

	// Airport at 45°F vs WU 45.5°F: gap 0.5 below the floor, so any
	// earlier lead is stamped confirmed.
	assert.Empty(t, store.wuLeads)
	assert.Equal(t, 1, store.leadConfirms)
}

func TestSlowTick_WritesFullObservationRows(t *testing.T) {
	city := testCity(t, "nyc", "KNYC", "KNYC")
	metar := &fakeMetar{readings: map[string]*MetarReading{"KNYC": reading("KNYC", 20)}}
	store := newFakeStore()

	o := newTestObserver(t, []*registry.City{city}, metar, &fakeCrowd{tempF: 70}, &fakeMarkets{}, store, &fakeGW{}, &fakeAlerter{})
	require.NoError(t, o.SlowTick(context.Background()))

	require.Len(t, store.observations, 1)
	obs := store.observations[0]
	assert.Equal(t, "KNYC", obs.StationID)
	assert.InDelta(t, 20, obs.TempC, 1e-9)
	assert.InDelta(t, 68, obs.TempF, 1e-9)
	require.NotNil(t, obs.WUHighF)
	assert.InDelta(t, 70, *obs.WUHighF, 1e-9)
}
