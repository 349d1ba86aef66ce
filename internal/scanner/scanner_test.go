package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nmoreira/weatheredge/internal/executor"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMarkets struct {
	specs map[string][]*types.RangeSpec
}

func (f *fakeMarkets) ListOutcomes(ctx context.Context, city *registry.City, targetDate string) []*types.RangeSpec {
	return f.specs[city.Key+"|"+targetDate]
}

type fakeForecaster struct {
	f *types.Forecast
}

func (f *fakeForecaster) Fetch(ctx context.Context, city *registry.City, targetDate string) (*types.Forecast, error) {
	out := *f.f
	out.City = city.Key
	out.TargetDate = targetDate
	return &out, nil
}

type allowAll struct{}

func (allowAll) Eligible(ctx context.Context, city *registry.City, rangeType types.RangeType) bool {
	return true
}

type denyAll struct{}

func (denyAll) Eligible(ctx context.Context, city *registry.City, rangeType types.RangeType) bool {
	return false
}

type fakeEntering struct {
	mu       sync.Mutex
	requests []*executor.Request
	result   *executor.Result
}

func (f *fakeEntering) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.result != nil {
		return f.result, nil
	}
	return &executor.Result{Trade: &types.Trade{ID: int64(len(f.requests))}}, nil
}

type fakeOppStore struct {
	mu   sync.Mutex
	rows []*types.Opportunity
}

func (f *fakeOppStore) InsertOpportunity(ctx context.Context, o *types.Opportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, o)
	return nil
}

func (f *fakeOppStore) bySide(side types.Side) []*types.Opportunity {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Opportunity
	for _, o := range f.rows {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func singleCityRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]*registry.City{{
		Key: "nyc", Name: "New York", Timezone: "America/New_York",
		Unit: types.UnitF,
		Stations: map[types.Venue]string{
			types.VenuePolymarket: "KNYC",
			types.VenueKalshi:     "KNYC",
		},
	}})
	require.NoError(t, err)
	return reg
}

func bounded(lo, hi, bid, ask, volume float64) *types.RangeSpec {
	return &types.RangeSpec{
		Venue:      types.VenuePolymarket,
		City:       "nyc",
		RangeName:  "range",
		RangeMin:   &lo,
		RangeMax:   &hi,
		RangeType:  types.RangeBounded,
		Unit:       types.UnitF,
		Bid:        bid,
		Ask:        ask,
		Spread:     ask - bid,
		Volume:     volume,
	}
}

func todayIn(t *testing.T, reg *registry.Registry) string {
	t.Helper()
	city, _ := reg.Get("nyc")
	return time.Now().In(city.Location()).Format("2006-01-02")
}

func newTestScanner(reg *registry.Registry, markets MarketSource, fc Forecaster, el Eligibility, ex Entering, st Storage) *Scanner {
	return New(&Config{
		DaysAhead:            0,
		MinEdgePct:           10,
		MaxSpread:            0.15,
		MaxSpreadPct:         0.50,
		MinAskPrice:          0.10,
		MinNoAskPrice:        0.05,
		MinHoursToResolution: 8,
		MaxModelMarketRatio:  3.0,
		Registry:             reg,
		Markets:              markets,
		Forecasts:            fc,
		Eligibility:          el,
		Executor:             ex,
		Storage:              st,
		Logger:               zap.NewNop(),
	})
}

func TestScan_ThinEdgeRejected(t *testing.T) {
	// Forecast 52F sd 3F; range 50-51 at ask 0.12 prices a ~0.12
	// probability: edge is thin and must not reach the executor.
	reg := singleCityRegistry(t)
	date := todayIn(t, reg)
	spec := bounded(50, 51, 0.08, 0.12, 10000)
	spec.TargetDate = date

	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{"nyc|" + date: {spec}}}
	fc := &fakeForecaster{f: &types.Forecast{
		Temp: 52, StdDev: 3, Unit: types.UnitF,
		Confidence: types.ConfidenceHigh, HoursToResolution: 18,
		Sources: map[string]float64{"nws": 52},
	}}
	entering := &fakeEntering{}
	store := &fakeOppStore{}

	s := newTestScanner(reg, markets, fc, allowAll{}, entering, store)
	require.NoError(t, s.Scan(context.Background()))

	assert.Empty(t, entering.requests)

	yes := store.bySide(types.SideYes)
	require.Len(t, yes, 1)
	assert.False(t, yes[0].Accepted)
	assert.Equal(t, "insufficient_edge", yes[0].RejectReason)
	// The NO candidate fails its own gates (NO ask ~0.92 vs prob ~0.88)
	// but a row is recorded for it too.
	assert.Len(t, store.bySide(types.SideNo), 1)
}

func TestScan_StrongEdgeForwarded(t *testing.T) {
	// Forecast centered inside a wide range: probability far above ask.
	reg := singleCityRegistry(t)
	date := todayIn(t, reg)
	spec := bounded(45, 59, 0.36, 0.40, 10000)
	spec.TargetDate = date

	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{"nyc|" + date: {spec}}}
	fc := &fakeForecaster{f: &types.Forecast{
		Temp: 52, StdDev: 3, Unit: types.UnitF,
		Confidence: types.ConfidenceHigh, HoursToResolution: 18,
	}}
	entering := &fakeEntering{}
	store := &fakeOppStore{}

	s := newTestScanner(reg, markets, fc, allowAll{}, entering, store)
	require.NoError(t, s.Scan(context.Background()))

	require.Len(t, entering.requests, 1)
	req := entering.requests[0]
	assert.Equal(t, types.SideYes, req.Side)
	assert.Greater(t, req.Probability, 0.9)
	assert.Equal(t, types.EntryModel, req.Reason)

	yes := store.bySide(types.SideYes)
	require.Len(t, yes, 1)
	assert.True(t, yes[0].Accepted)
	require.NotNil(t, yes[0].TradeID)
}

func TestScan_ExecutorRejectionRecorded(t *testing.T) {
	reg := singleCityRegistry(t)
	date := todayIn(t, reg)
	spec := bounded(45, 59, 0.36, 0.40, 10000)
	spec.TargetDate = date

	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{"nyc|" + date: {spec}}}
	fc := &fakeForecaster{f: &types.Forecast{
		Temp: 52, StdDev: 3, Unit: types.UnitF, HoursToResolution: 18,
	}}
	entering := &fakeEntering{result: &executor.Result{RejectReason: "duplicate_open_trade"}}
	store := &fakeOppStore{}

	s := newTestScanner(reg, markets, fc, allowAll{}, entering, store)
	require.NoError(t, s.Scan(context.Background()))

	yes := store.bySide(types.SideYes)
	require.Len(t, yes, 1)
	assert.False(t, yes[0].Accepted)
	assert.Equal(t, "duplicate_open_trade", yes[0].RejectReason)
	assert.Nil(t, yes[0].TradeID)
}

func TestScan_FilterReasons(t *testing.T) {
	reg := singleCityRegistry(t)
	date := todayIn(t, reg)
	fcast := &types.Forecast{Temp: 52, StdDev: 3, Unit: types.UnitF, HoursToResolution: 18}

	tests := []struct {
		name   string
		mutate func(*types.RangeSpec, *types.Forecast)
		reason string
	}{
		{"wide spread", func(s *types.RangeSpec, f *types.Forecast) {
			s.Bid = 0.20
			s.Spread = 0.20
		}, "spread_too_wide"},
		{"near resolution", func(s *types.RangeSpec, f *types.Forecast) {
			f.HoursToResolution = 4
		}, "too_close_to_resolution"},
		{"overconfident", func(s *types.RangeSpec, f *types.Forecast) {
			s.Bid = 0.09
			s.Ask = 0.11
			s.Spread = 0.02
			// Probability ~0.98 vs ask 0.11 is beyond the 3x ratio.
			f.Temp = 52
			f.StdDev = 1
			lo, hi := 40.0, 70.0
			s.RangeMin, s.RangeMax = &lo, &hi
		}, "model_overconfident"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := bounded(45, 59, 0.36, 0.40, 10000)
			spec.TargetDate = date
			f := *fcast
			tt.mutate(spec, &f)

			markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{"nyc|" + date: {spec}}}
			entering := &fakeEntering{}
			store := &fakeOppStore{}
			s := newTestScanner(reg, markets, &fakeForecaster{f: &f}, allowAll{}, entering, store)
			require.NoError(t, s.Scan(context.Background()))

			assert.Empty(t, entering.requests)
			yes := store.bySide(types.SideYes)
			require.Len(t, yes, 1)
			assert.Equal(t, tt.reason, yes[0].RejectReason)
		})
	}
}

func TestScan_EligibilityGate(t *testing.T) {
	reg := singleCityRegistry(t)
	date := todayIn(t, reg)
	spec := bounded(45, 59, 0.36, 0.40, 10000)
	spec.TargetDate = date

	markets := &fakeMarkets{specs: map[string][]*types.RangeSpec{"nyc|" + date: {spec}}}
	fc := &fakeForecaster{f: &types.Forecast{
		Temp: 52, StdDev: 3, Unit: types.UnitF, HoursToResolution: 18,
	}}
	entering := &fakeEntering{}
	store := &fakeOppStore{}

	s := newTestScanner(reg, markets, fc, denyAll{}, entering, store)
	require.NoError(t, s.Scan(context.Background()))

	assert.Empty(t, entering.requests)
	yes := store.bySide(types.SideYes)
	require.Len(t, yes, 1)
	assert.Equal(t, "city_ineligible", yes[0].RejectReason)
}
