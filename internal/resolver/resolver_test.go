package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMarkets struct {
	feeMult float64
}

func (f *fakeMarkets) FeePerContract(v types.Venue, price float64) float64 {
	if v == types.VenueKalshi {
		return f.feeMult * price * (1 - price)
	}
	return 0
}

type backfillCall struct {
	id   string
	temp float64
	won  bool
}

type accuracyRow struct {
	city, date, source string
	forecast, actual   float64
}

type fakeStore struct {
	open      []*types.Trade
	priorTemp map[string]*float64
	opps      []*storage.UnresolvedOpportunity
	leads     map[string][]*types.WULeadsEvent

	resolved   []*types.Trade
	backfills  []backfillCall
	accuracy   []accuracyRow
	cliAudits  []*storage.AuditRow
	wuAudits   []*storage.AuditRow
	recomputes int
}

func (f *fakeStore) OpenTrades(ctx context.Context) ([]*types.Trade, error) { return f.open, nil }

func (f *fakeStore) ResolveTrade(ctx context.Context, t *types.Trade) error {
	f.resolved = append(f.resolved, t)
	return nil
}

func (f *fakeStore) ResolvedActualTemp(ctx context.Context, city, targetDate string, venue types.Venue) (*float64, error) {
	return f.priorTemp[city+"|"+targetDate+"|"+string(venue)], nil
}

func (f *fakeStore) UnresolvedOpportunitiesBefore(ctx context.Context, beforeDate string, limit int) ([]*storage.UnresolvedOpportunity, error) {
	if len(f.opps) > limit {
		return f.opps[:limit], nil
	}
	return f.opps, nil
}

func (f *fakeStore) BackfillOpportunity(ctx context.Context, id string, actualTemp float64, wouldHaveWon bool) error {
	f.backfills = append(f.backfills, backfillCall{id: id, temp: actualTemp, won: wouldHaveWon})
	return nil
}

func (f *fakeStore) InsertForecastAccuracy(ctx context.Context, city, targetDate, source string, forecastTemp, actualTemp float64, unit string, hoursBefore float64) error {
	f.accuracy = append(f.accuracy, accuracyRow{
		city: city, date: targetDate, source: source,
		forecast: forecastTemp, actual: actualTemp,
	})
	return nil
}

func (f *fakeStore) RecomputeCalibration(ctx context.Context) error {
	f.recomputes++
	return nil
}

func (f *fakeStore) UpsertWUAudit(ctx context.Context, r *storage.AuditRow) error {
	f.wuAudits = append(f.wuAudits, r)
	return nil
}

func (f *fakeStore) UpsertCLIAudit(ctx context.Context, r *storage.AuditRow) error {
	f.cliAudits = append(f.cliAudits, r)
	return nil
}

func (f *fakeStore) UnconfirmedWULeads(ctx context.Context, targetDate string) ([]*types.WULeadsEvent, error) {
	return f.leads[targetDate], nil
}

type fakeReleaser struct {
	released []float64
}

func (f *fakeReleaser) Release(side types.Side, targetDate string, cost float64) {
	f.released = append(f.released, cost)
}

type fakeAlerter struct {
	queued []string
}

func (f *fakeAlerter) Queue(text string) { f.queued = append(f.queued, text) }

type stubLeg struct {
	name  string
	temp  float64
	err   error
	calls int
}

func (l *stubLeg) Name() string { return l.name }

func (l *stubLeg) DailyHigh(ctx context.Context, city *registry.City, station, targetDate string) (float64, error) {
	l.calls++
	if l.err != nil {
		return 0, l.err
	}
	return l.temp, nil
}

func nycRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]*registry.City{{
		Key: "nyc", Name: "New York", Timezone: "America/New_York", Unit: types.UnitF,
		Stations: map[types.Venue]string{
			types.VenuePolymarket: "KNYC",
			types.VenueKalshi:     "KNYC",
		},
		ResolutionSource: map[types.Venue]string{
			types.VenuePolymarket: "wu",
			types.VenueKalshi:     "metar",
		},
	}})
	require.NoError(t, err)
	return reg
}

func pastDate(t *testing.T, reg *registry.Registry, daysAgo int) string {
	t.Helper()
	city, _ := reg.Get("nyc")
	return city.LocalDate(time.Now().AddDate(0, 0, -daysAgo))
}

func pastTrade(venue types.Venue, side types.Side, lo, hi *float64, date string) *types.Trade {
	rt := types.RangeBounded
	if lo == nil || hi == nil {
		rt = types.RangeUnbounded
	}
	return &types.Trade{
		ID: 3, City: "nyc", TargetDate: date, Venue: venue,
		RangeName: "r", RangeMin: lo, RangeMax: hi, RangeType: rt,
		Unit: types.UnitF, Side: side, Status: types.TradeOpen,
		EntryAsk: 0.60, Shares: 100, Cost: 60,
		HoursToResolution: 9,
	}
}

func newTestResolver(reg *registry.Registry, store *fakeStore, chains map[types.Venue][]HighSource, rel *fakeReleaser, alerts *fakeAlerter) *Resolver {
	return New(&Config{
		BackfillLimit: 200,
		Registry:      reg,
		Markets:       &fakeMarkets{feeMult: 0.07},
		Storage:       store,
		Chains:        chains,
		Releaser:      rel,
		Alerts:        alerts,
		Logger:        zap.NewNop(),
	})
}

func TestTick_SettlesPastDueTrade(t *testing.T) {
	reg := nycRegistry(t)
	date := pastDate(t, reg, 2)
	lo := 49.0
	tr := pastTrade(types.VenueKalshi, types.SideYes, &lo, nil, date)
	tr.EntryEnsemble = map[string]float64{"nws": 51, "openmeteo": 53}
	tr.EntryForecastTemp = 52

	cli := &stubLeg{name: "cli", temp: 52}
	store := &fakeStore{open: []*types.Trade{tr}}
	rel := &fakeReleaser{}
	alerts := &fakeAlerter{}

	r := newTestResolver(reg, store, map[types.Venue][]HighSource{
		types.VenueKalshi: {cli},
	}, rel, alerts)
	require.NoError(t, r.Tick(context.Background()))

	require.Len(t, store.resolved, 1)
	out := store.resolved[0]
	require.NotNil(t, out.Won)
	assert.True(t, *out.Won)
	require.NotNil(t, out.ActualTemp)
	assert.Equal(t, 52.0, *out.ActualTemp)
	assert.Equal(t, "KNYC", out.ResolutionStation)
	// Quadratic entry fee: 100 * 0.07 * 0.60 * 0.40 = 1.68.
	require.NotNil(t, out.Fees)
	assert.InDelta(t, 1.68, *out.Fees, 1e-9)
	require.NotNil(t, out.PnL)
	assert.InDelta(t, 100-60-1.68, *out.PnL, 1e-9)

	assert.Equal(t, []float64{60.0}, rel.released)
	require.Len(t, alerts.queued, 1)
	assert.Contains(t, alerts.queued[0], "WON")

	// The climate-report value lands in the audit table.
	require.Len(t, store.cliAudits, 1)
	assert.Equal(t, 52.0, store.cliAudits[0].HighF)
	assert.Equal(t, "cli", store.cliAudits[0].SourceTag)

	// One accuracy row per ensemble source plus the blend.
	assert.Len(t, store.accuracy, 3)
	sources := map[string]bool{}
	for _, a := range store.accuracy {
		sources[a.source] = true
		assert.Equal(t, 52.0, a.actual)
	}
	assert.True(t, sources["nws"])
	assert.True(t, sources["openmeteo"])
	assert.True(t, sources[storage.BlendedSource()])

	assert.Equal(t, 1, store.recomputes)
}

func TestTick_CurrentDayIsLeftAlone(t *testing.T) {
	reg := nycRegistry(t)
	city, _ := reg.Get("nyc")
	lo := 49.0
	tr := pastTrade(types.VenueKalshi, types.SideYes, &lo, nil, city.LocalDate(time.Now()))

	cli := &stubLeg{name: "cli", temp: 52}
	store := &fakeStore{open: []*types.Trade{tr}}

	r := newTestResolver(reg, store, map[types.Venue][]HighSource{
		types.VenueKalshi: {cli},
	}, &fakeReleaser{}, &fakeAlerter{})
	require.NoError(t, r.Tick(context.Background()))

	assert.Empty(t, store.resolved)
	assert.Equal(t, 0, cli.calls)
	assert.Equal(t, 0, store.recomputes)
}

func TestTick_ChainFallsThrough(t *testing.T) {
	reg := nycRegistry(t)
	date := pastDate(t, reg, 1)
	lo := 49.0
	tr := pastTrade(types.VenueKalshi, types.SideYes, &lo, nil, date)

	cli := &stubLeg{name: "cli", err: fmt.Errorf("%w: no cli product", types.ErrDataAbsent)}
	hourly := &stubLeg{name: "hourly", temp: 47}
	store := &fakeStore{open: []*types.Trade{tr}}

	r := newTestResolver(reg, store, map[types.Venue][]HighSource{
		types.VenueKalshi: {cli, hourly},
	}, &fakeReleaser{}, &fakeAlerter{})
	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, 1, cli.calls)
	assert.Equal(t, 1, hourly.calls)
	require.Len(t, store.resolved, 1)
	assert.False(t, *store.resolved[0].Won)
	// Only the cli and wu legs feed audit tables.
	assert.Empty(t, store.cliAudits)
	assert.Empty(t, store.wuAudits)
}

func TestTick_ReusesPriorSettlement(t *testing.T) {
	// A second trade on an already-settled market reuses the recorded
	// temperature instead of refetching, so the two never drift apart.
	reg := nycRegistry(t)
	date := pastDate(t, reg, 2)
	lo, hi := 54.0, 55.0
	tr := pastTrade(types.VenuePolymarket, types.SideYes, &lo, &hi, date)

	prior := 58.0
	wu := &stubLeg{name: "wu", temp: 52}
	store := &fakeStore{
		open:      []*types.Trade{tr},
		priorTemp: map[string]*float64{"nyc|" + date + "|polymarket": &prior},
	}

	r := newTestResolver(reg, store, map[types.Venue][]HighSource{
		types.VenuePolymarket: {wu},
	}, &fakeReleaser{}, &fakeAlerter{})
	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, 0, wu.calls)
	require.Len(t, store.resolved, 1)
	out := store.resolved[0]
	assert.Equal(t, 58.0, *out.ActualTemp)
	assert.False(t, *out.Won)
	// Flat-fee venue: pnl is pure loss of cost.
	assert.InDelta(t, -60.0, *out.PnL, 1e-9)
}

func TestTick_SettlementFetchedOncePerMarket(t *testing.T) {
	reg := nycRegistry(t)
	date := pastDate(t, reg, 2)
	lo := 49.0
	hi49, hi55 := 54.0, 55.0

	a := pastTrade(types.VenueKalshi, types.SideYes, &lo, nil, date)
	b := pastTrade(types.VenueKalshi, types.SideNo, &hi49, &hi55, date)
	b.ID = 4

	cli := &stubLeg{name: "cli", temp: 58}
	store := &fakeStore{open: []*types.Trade{a, b}}

	r := newTestResolver(reg, store, map[types.Venue][]HighSource{
		types.VenueKalshi: {cli},
	}, &fakeReleaser{}, &fakeAlerter{})
	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, 1, cli.calls)
	require.Len(t, store.resolved, 2)
	assert.True(t, *store.resolved[0].Won)  // 58 >= 49
	assert.True(t, *store.resolved[1].Won)  // NO over 54-55 with high 58
}

func TestTick_BackfillsOpportunities(t *testing.T) {
	reg := nycRegistry(t)
	date := pastDate(t, reg, 3)
	lo, hi := 54.0, 55.0

	wu := &stubLeg{name: "wu", temp: 58}
	store := &fakeStore{
		opps: []*storage.UnresolvedOpportunity{
			{
				ID: "opp-1", City: "nyc", TargetDate: date,
				RangeMin: &lo, RangeMax: &hi, RangeType: types.RangeBounded,
				Unit: types.UnitF, Side: types.SideNo, Venue: types.VenuePolymarket,
			},
			{
				ID: "opp-2", City: "nyc", TargetDate: date,
				RangeMin: &lo, RangeMax: &hi, RangeType: types.RangeBounded,
				Unit: types.UnitF, Side: types.SideYes, Venue: types.VenuePolymarket,
			},
		},
	}

	r := newTestResolver(reg, store, map[types.Venue][]HighSource{
		types.VenuePolymarket: {wu},
	}, &fakeReleaser{}, &fakeAlerter{})
	require.NoError(t, r.Tick(context.Background()))

	require.Len(t, store.backfills, 2)
	assert.Equal(t, backfillCall{id: "opp-1", temp: 58, won: true}, store.backfills[0])
	assert.Equal(t, backfillCall{id: "opp-2", temp: 58, won: false}, store.backfills[1])
	// One fetch serves both opportunities; the wu leg feeds its audit table.
	assert.Equal(t, 1, wu.calls)
	require.Len(t, store.wuAudits, 1)
	assert.Equal(t, 1, store.recomputes)
}

func TestSideWins_BoundsInclusive(t *testing.T) {
	lo, hi := 54.0, 55.0
	tests := []struct {
		name string
		side types.Side
		temp float64
		want bool
	}{
		{"yes at lower bound", types.SideYes, 54, true},
		{"yes at upper bound", types.SideYes, 55, true},
		{"yes just below", types.SideYes, 53.9, false},
		{"no just above", types.SideNo, 55.1, true},
		{"no inside", types.SideNo, 54.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sideWins(tt.side, &lo, &hi, tt.temp))
		})
	}
}

func TestTick_ReportsUnconfirmedWULeads(t *testing.T) {
	// Settling a date surfaces the crowd leads the airport never
	// confirmed, since those are the days the two sources can disagree.
	reg := nycRegistry(t)
	date := pastDate(t, reg, 2)
	lo := 49.0
	tr := pastTrade(types.VenuePolymarket, types.SideYes, &lo, nil, date)

	wu := &stubLeg{name: "wu", temp: 52}
	store := &fakeStore{
		open: []*types.Trade{tr},
		leads: map[string][]*types.WULeadsEvent{
			date: {{City: "nyc", TargetDate: date, StationID: "KNYC", WUHighF: 55, MetarHighF: 51.5}},
		},
	}
	alerts := &fakeAlerter{}

	r := newTestResolver(reg, store, map[types.Venue][]HighSource{
		types.VenuePolymarket: {wu},
	}, &fakeReleaser{}, alerts)
	require.NoError(t, r.Tick(context.Background()))

	require.Len(t, store.resolved, 1)
	require.Len(t, alerts.queued, 2)
	assert.Contains(t, alerts.queued[1], "Unconfirmed WU lead")
	assert.Contains(t, alerts.queued[1], "KNYC")
}

type fakeHighs struct {
	rows map[string]*storage.RunningHigh
}

func (f *fakeHighs) StationHigh(ctx context.Context, city, targetDate, stationID string) (*storage.RunningHigh, error) {
	return f.rows[storage.RunningHighKey(city, targetDate, stationID)], nil
}

func TestHourlyLeg_ReadsStoredStationHigh(t *testing.T) {
	reg := nycRegistry(t)
	city, _ := reg.Get("nyc")
	highs := &fakeHighs{rows: map[string]*storage.RunningHigh{
		storage.RunningHighKey("nyc", "2026-08-20", "KNYC"): {
			City: "nyc", TargetDate: "2026-08-20", StationID: "KNYC",
			HighF: 58, HighC: 14.4,
		},
	}}

	leg := NewHourlyLeg(highs)
	got, err := leg.DailyHigh(context.Background(), city, "KNYC", "2026-08-20")
	require.NoError(t, err)
	assert.Equal(t, 58.0, got)

	// A day with no stored rows falls through the chain.
	_, err = leg.DailyHigh(context.Background(), city, "KNYC", "2026-08-21")
	assert.ErrorIs(t, err, types.ErrDataAbsent)
}

func TestWULeg_RequiresCrowdHigh(t *testing.T) {
	reg := nycRegistry(t)
	city, _ := reg.Get("nyc")
	row := &storage.RunningHigh{
		City: "nyc", TargetDate: "2026-08-20", StationID: "KNYC", HighF: 58, HighC: 14.4,
	}
	highs := &fakeHighs{rows: map[string]*storage.RunningHigh{
		storage.RunningHighKey("nyc", "2026-08-20", "KNYC"): row,
	}}

	leg := NewWULeg(highs)
	_, err := leg.DailyHigh(context.Background(), city, "KNYC", "2026-08-20")
	assert.ErrorIs(t, err, types.ErrDataAbsent)

	wuF := 59.0
	row.WUHighF = &wuF
	got, err := leg.DailyHigh(context.Background(), city, "KNYC", "2026-08-20")
	require.NoError(t, err)
	assert.Equal(t, 59.0, got)
}
