// Package observer watches live station observations and turns them into
// running highs, threshold-crossing pending events, and guaranteed-win
// triggers. It is the most time-sensitive part of the system: a boundary
// crossing is worth the most in the seconds after it happens.
//
// Two loops share the same detection core. The fast loop runs every few
// seconds during active hours and only fully processes cities whose
// running high sits near an outcome boundary. The slow loop covers every
// city on a multi-minute cadence, writes full observation rows, and
// tracks the crowd-leads-airport pattern.
package observer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MetarSource batch-fetches fresh airport reports.
type MetarSource interface {
	FetchBatch(ctx context.Context, stations []string) (map[string]*MetarReading, error)
}

// CrowdSource reads the crowd-observation provider near a city.
type CrowdSource interface {
	CurrentTempF(ctx context.Context, city *registry.City) (float64, error)
}

// Markets is the venue-adapter surface the observer needs.
type Markets interface {
	ListOutcomes(ctx context.Context, city *registry.City, targetDate string) []*types.RangeSpec
	GetOrderbook(ctx context.Context, v types.Venue, marketID, tokenID string) (*types.Depth, error)
}

// Storage is the persistence surface the observer needs.
type Storage interface {
	UpsertObservation(ctx context.Context, o *types.Observation) error
	RunningHighs(ctx context.Context, targetDates []string) (map[string]*storage.RunningHigh, error)
	PendingEventsForDates(ctx context.Context, targetDates []string) (map[string][]*types.PendingEvent, error)
	InsertPendingEvent(ctx context.Context, e *types.PendingEvent) (bool, error)
	UpdatePendingHighs(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, metarHigh float64, wuHigh *float64) error
	LatchWUConfirmed(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, at time.Time) error
	LatchMarketRepriced(ctx context.Context, city, targetDate string, venue types.Venue, rangeName string, side types.Side, repricedVenue types.Venue, at time.Time) error
	InsertWULeadsEvent(ctx context.Context, e *types.WULeadsEvent) (bool, error)
	LatchWULeadMetarConfirmed(ctx context.Context, city, targetDate, stationID string, at time.Time) error
}

// GWScanner receives the synchronous first-detection trigger.
type GWScanner interface {
	Trigger(ctx context.Context, city *registry.City, targetDate string)
}

// Alerter delivers operator alerts. Critical sends immediately; Queue
// batches into the next summary flush.
type Alerter interface {
	Critical(ctx context.Context, text string)
	Queue(text string)
}

// Config holds observer parameters.
type Config struct {
	ActiveHoursStart int
	ActiveHoursEnd   int

	NearBufferF float64
	NearBufferC float64

	MinGapF            float64
	MinGapC            float64
	DualStationMinGapF float64
	DualStationMinGapC float64

	WULeadMinGapF      float64
	WULeadMinGapC      float64
	WULeadMaxLocalHour int

	// RepriceAsk latches market_repriced once an event's ask reaches it.
	RepriceAsk float64
	// CrossMatchTolerance bounds the cross-venue range-equivalence check.
	CrossMatchTolerance float64
	// WUFastTimeout is the hard per-city budget for fast-loop WU fetches.
	WUFastTimeout time.Duration

	Registry  *registry.Registry
	Markets   Markets
	Storage   Storage
	Metar     MetarSource
	CrowdFast CrowdSource // nil disables fast-loop WU augmentation
	CrowdSlow CrowdSource // nil disables slow-loop WU reads
	GW        GWScanner   // nil disables the synchronous trigger
	Alerts    Alerter
	Logger    *zap.Logger
}

// Observer runs the observation loops.
type Observer struct {
	cfg    *Config
	logger *zap.Logger

	mu       sync.Mutex
	wuHighs  map[string]float64 // city|date -> running WU high in F
	alerted  map[string]bool    // event keys alerted this day
	lastDate map[string]string  // city -> last seen local date
}

// New creates an observer.
func New(cfg *Config) *Observer {
	if cfg.CrossMatchTolerance <= 0 {
		cfg.CrossMatchTolerance = 1.0
	}
	if cfg.WUFastTimeout <= 0 {
		cfg.WUFastTimeout = 3 * time.Second
	}
	return &Observer{
		cfg:      cfg,
		logger:   cfg.Logger,
		wuHighs:  make(map[string]float64),
		alerted:  make(map[string]bool),
		lastDate: make(map[string]string),
	}
}

// venueState is the per-venue effective-high view for one city tick.
type venueState struct {
	station   string
	metarHigh float64  // airport-only running high, city unit
	effHigh   float64  // metar plus WU where the venue resolves on WU
	wuHigh    *float64 // city unit, set when WU contributed this tick
	have      bool
	fresh     *MetarReading
}

// FastTick runs one fast-loop pass. A batch-fetch or batch-read failure
// aborts the whole tick and reports (0, 0); per-city failures degrade to
// skipping that city.
func (o *Observer) FastTick(ctx context.Context) (polled, detections int, err error) {
	start := time.Now()
	defer func() { FastTickDurationSeconds.Observe(time.Since(start).Seconds()) }()

	now := time.Now()
	var active []*registry.City
	stationSet := make(map[string]bool)
	dateSet := make(map[string]bool)
	for _, city := range o.cfg.Registry.All() {
		h := city.LocalHour(now)
		if h < o.cfg.ActiveHoursStart || h >= o.cfg.ActiveHoursEnd {
			continue
		}
		active = append(active, city)
		dateSet[city.LocalDate(now)] = true
		for _, s := range city.Stations {
			stationSet[s] = true
		}
	}
	if len(active) == 0 {
		return 0, 0, nil
	}

	stations := make([]string, 0, len(stationSet))
	for s := range stationSet {
		stations = append(stations, s)
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}

	readings, err := o.cfg.Metar.FetchBatch(ctx, stations)
	if err != nil {
		BatchFetchErrorsTotal.Inc()
		return 0, 0, fmt.Errorf("batch metar fetch: %w", err)
	}
	highs, err := o.cfg.Storage.RunningHighs(ctx, dates)
	if err != nil {
		return 0, 0, fmt.Errorf("batch running highs: %w", err)
	}
	pendings, err := o.cfg.Storage.PendingEventsForDates(ctx, dates)
	if err != nil {
		return 0, 0, fmt.Errorf("batch pending events: %w", err)
	}

	for _, city := range active {
		date := city.LocalDate(now)
		o.rollover(city, date)
		n, err := o.fastCity(ctx, city, date, now, readings, highs,
			pendings[storage.PendingEventKey(city.Key, date)])
		if err != nil {
			o.logger.Warn("fast-city-failed",
				zap.String("city", city.Key), zap.Error(err))
			continue
		}
		detections += n
	}
	return len(readings), detections, nil
}

func (o *Observer) fastCity(ctx context.Context, city *registry.City, date string, now time.Time, readings map[string]*MetarReading, highs map[string]*storage.RunningHigh, pending []*types.PendingEvent) (int, error) {
	specs := o.cfg.Markets.ListOutcomes(ctx, city, date)
	if len(specs) == 0 {
		return 0, nil
	}

	states := o.buildStates(city, date, readings, highs)
	if len(states) == 0 {
		return 0, nil
	}

	// Tiering: only cities near a boundary get the full treatment.
	if !o.nearBoundary(city, specs, states) {
		return 0, nil
	}

	// WU augmentation with a hard per-city deadline. A WU failure
	// degrades the tick to airport-only for this city.
	if o.cfg.CrowdFast != nil && o.hasWUVenue(city) {
		wctx, cancel := context.WithTimeout(ctx, o.cfg.WUFastTimeout)
		tempF, err := o.cfg.CrowdFast.CurrentTempF(wctx, city)
		cancel()
		if err != nil {
			WUFetchErrorsTotal.Inc()
			o.logger.Warn("wu-fetch-degraded",
				zap.String("city", city.Key), zap.Error(err))
		} else {
			o.applyWU(city, date, tempF, states, highs)
		}
	}

	detections := o.detect(ctx, city, date, now, specs, states, pending, types.PollFast)

	o.writeObservations(ctx, city, date, now, states, highs, false)

	if detections > 0 && o.cfg.GW != nil {
		o.cfg.GW.Trigger(ctx, city, date)
	}
	return detections, nil
}

// SlowTick runs one slow-loop pass over every city: full observation rows,
// crowd-vs-airport mismatch tracking, the WU-leads pattern, and the same
// boundary detection as the fast loop tagged as a regular poll.
func (o *Observer) SlowTick(ctx context.Context) error {
	now := time.Now()
	dateSet := make(map[string]bool)
	for _, city := range o.cfg.Registry.All() {
		dateSet[city.LocalDate(now)] = true
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}

	readings, err := o.cfg.Metar.FetchBatch(ctx, o.cfg.Registry.AllStations())
	if err != nil {
		BatchFetchErrorsTotal.Inc()
		return fmt.Errorf("batch metar fetch: %w", err)
	}
	highs, err := o.cfg.Storage.RunningHighs(ctx, dates)
	if err != nil {
		return fmt.Errorf("batch running highs: %w", err)
	}
	pendings, err := o.cfg.Storage.PendingEventsForDates(ctx, dates)
	if err != nil {
		return fmt.Errorf("batch pending events: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for _, city := range o.cfg.Registry.All() {
		city := city
		g.Go(func() error {
			date := city.LocalDate(now)
			o.rollover(city, date)
			o.slowCity(gctx, city, date, now, readings, highs,
				pendings[storage.PendingEventKey(city.Key, date)])
			return nil
		})
	}
	return g.Wait()
}

func (o *Observer) slowCity(ctx context.Context, city *registry.City, date string, now time.Time, readings map[string]*MetarReading, highs map[string]*storage.RunningHigh, pending []*types.PendingEvent) {
	states := o.buildStates(city, date, readings, highs)
	if len(states) == 0 {
		o.logger.Warn("no-observations", zap.String("city", city.Key))
		return
	}

	var wuHighF *float64
	if o.cfg.CrowdSlow != nil && o.hasWUVenue(city) {
		tempF, err := o.cfg.CrowdSlow.CurrentTempF(ctx, city)
		if err != nil {
			WUFetchErrorsTotal.Inc()
			o.logger.Warn("wu-fetch-degraded",
				zap.String("city", city.Key), zap.Error(err))
		} else {
			h := o.applyWU(city, date, tempF, states, highs)
			wuHighF = &h
		}
	}

	if wuHighF != nil {
		o.checkWULeads(ctx, city, date, now, states, *wuHighF)
	}

	specs := o.cfg.Markets.ListOutcomes(ctx, city, date)
	if len(specs) > 0 {
		o.detect(ctx, city, date, now, specs, states, pending, types.PollRegular)
	}

	o.writeObservations(ctx, city, date, now, states, highs, true)
}

// buildStates computes the airport-only effective high per venue from the
// stored running highs and the fresh batch readings. Venues without any
// reading at all are absent from the result.
func (o *Observer) buildStates(city *registry.City, date string, readings map[string]*MetarReading, highs map[string]*storage.RunningHigh) map[types.Venue]*venueState {
	states := make(map[types.Venue]*venueState)
	for v, station := range city.Stations {
		st := &venueState{station: station, metarHigh: math.Inf(-1)}
		if db := highs[storage.RunningHighKey(city.Key, date, station)]; db != nil {
			st.metarHigh = dbHigh(db, city.Unit)
			st.have = true
		}
		if r, ok := readings[station]; ok {
			st.fresh = r
			t := units.Convert(r.TempC, types.UnitC, city.Unit)
			if t > st.metarHigh {
				st.metarHigh = t
			}
			st.have = true
		}
		if !st.have {
			o.logger.Warn("station-no-data",
				zap.String("city", city.Key),
				zap.String("station", station),
				zap.String("venue", string(v)))
			continue
		}
		st.effHigh = st.metarHigh
		states[v] = st
	}
	return states
}

// applyWU folds the crowd reading into the effective high of every venue
// that resolves on the crowd provider. Dual-station cities never leak the
// crowd reading into the venue resolving against the other airport.
// Returns the running WU high in Fahrenheit.
func (o *Observer) applyWU(city *registry.City, date string, tempF float64, states map[types.Venue]*venueState, highs map[string]*storage.RunningHigh) float64 {
	key := city.Key + "|" + date

	o.mu.Lock()
	if prev, ok := o.wuHighs[key]; !ok || tempF > prev {
		o.wuHighs[key] = tempF
	}
	wuF := o.wuHighs[key]
	o.mu.Unlock()

	for v, st := range states {
		if city.ResolutionSource[v] != "wu" {
			continue
		}
		// Persisted WU high survives restarts.
		if db := highs[storage.RunningHighKey(city.Key, date, st.station)]; db != nil && db.WUHighF != nil && *db.WUHighF > wuF {
			wuF = *db.WUHighF
		}
		wuLocal := units.Convert(wuF, types.UnitF, city.Unit)
		st.wuHigh = &wuLocal
		if wuLocal > st.effHigh {
			st.effHigh = wuLocal
		}
	}

	o.mu.Lock()
	if wuF > o.wuHighs[key] {
		o.wuHighs[key] = wuF
	}
	o.mu.Unlock()
	return wuF
}

// nearBoundary reports whether any outcome threshold sits within the
// configured buffer of the venue's effective high.
func (o *Observer) nearBoundary(city *registry.City, specs []*types.RangeSpec, states map[types.Venue]*venueState) bool {
	buffer := o.cfg.NearBufferF
	if city.Unit == types.UnitC {
		buffer = o.cfg.NearBufferC
	}
	for _, spec := range specs {
		st, ok := states[spec.Venue]
		if !ok {
			continue
		}
		if spec.RangeMin != nil && st.effHigh >= *spec.RangeMin-buffer {
			return true
		}
		if spec.RangeMax != nil && st.effHigh >= *spec.RangeMax-buffer {
			return true
		}
	}
	return false
}

// detect runs the boundary check over every outcome and upserts pending
// events for crossings. Returns the number of first detections.
func (o *Observer) detect(ctx context.Context, city *registry.City, date string, now time.Time, specs []*types.RangeSpec, states map[types.Venue]*venueState, pending []*types.PendingEvent, source types.PollSource) int {
	existing := make(map[string]*types.PendingEvent, len(pending))
	for _, e := range pending {
		existing[eventKey(e.Venue, e.RangeName, e.Side)] = e
	}

	detections := 0
	for _, spec := range specs {
		st, ok := states[spec.Venue]
		if !ok {
			continue
		}
		side, threshold, crossed := o.crossing(city, spec, st.effHigh)
		if !crossed {
			continue
		}

		key := eventKey(spec.Venue, spec.RangeName, side)
		metarGap := st.metarHigh - threshold
		minGap := o.minGap(city, spec.Venue)
		wuTriggered := metarGap < minGap // the crowd reading pushed it over

		if prev, ok := existing[key]; ok {
			o.refreshPending(ctx, prev, spec, st, threshold)
			continue
		}

		e := &types.PendingEvent{
			City:           city.Key,
			TargetDate:     date,
			Venue:          spec.Venue,
			RangeName:      spec.RangeName,
			Side:           side,
			MetarHigh:      st.metarHigh,
			WUHigh:         st.wuHigh,
			MetarGap:       metarGap,
			AskAtDetection: spec.Ask,
			Orderbooks:     o.snapshotBooks(ctx, spec, specs),
			PollSource:     source,
			WUTriggered:    wuTriggered,
			DetectedAt:     now,
		}
		// Confirmation needs only the threshold itself; the min-gap
		// guard belongs to detection, not to the dual-source latch.
		if st.wuHigh != nil && *st.wuHigh >= threshold {
			e.WUConfirmedAt = &now
		}

		inserted, err := o.cfg.Storage.InsertPendingEvent(ctx, e)
		if err != nil {
			o.logger.Error("pending-event-upsert-failed",
				zap.String("key", spec.Key(side)), zap.Error(err))
			continue
		}
		if !inserted {
			o.refreshPending(ctx, e, spec, st, threshold)
			continue
		}

		detections++
		DetectionsTotal.WithLabelValues(string(spec.Venue), string(side)).Inc()
		o.alertFirstDetection(ctx, city, date, spec, side, st.effHigh, threshold)
	}
	return detections
}

// crossing decides whether the effective high settles one side of the
// outcome, honoring the minimum-gap guard against borderline readings.
func (o *Observer) crossing(city *registry.City, spec *types.RangeSpec, high float64) (types.Side, float64, bool) {
	minGap := o.minGap(city, spec.Venue)
	if spec.IsUnboundedUpper() && high-*spec.RangeMin >= minGap {
		return types.SideYes, *spec.RangeMin, true
	}
	if spec.RangeMax != nil && high-*spec.RangeMax >= minGap {
		return types.SideNo, *spec.RangeMax, true
	}
	return "", 0, false
}

// refreshPending keeps an existing pending row current: highs, the WU
// confirmation latch, and the repricing latch.
func (o *Observer) refreshPending(ctx context.Context, e *types.PendingEvent, spec *types.RangeSpec, st *venueState, threshold float64) {
	if err := o.cfg.Storage.UpdatePendingHighs(ctx, e.City, e.TargetDate, e.Venue, e.RangeName, e.Side, st.metarHigh, st.wuHigh); err != nil {
		o.logger.Warn("pending-highs-update-failed", zap.Error(err))
	}
	if e.WUConfirmedAt == nil && st.wuHigh != nil && *st.wuHigh >= threshold {
		if err := o.cfg.Storage.LatchWUConfirmed(ctx, e.City, e.TargetDate, e.Venue, e.RangeName, e.Side, time.Now()); err != nil {
			o.logger.Warn("wu-confirm-latch-failed", zap.Error(err))
		}
	}
	latched := e.MarketRepricedAt != nil
	if e.Venue == types.VenueKalshi {
		latched = e.KalshiMarketRepricedAt != nil
	}
	if !latched && spec.Ask >= o.cfg.RepriceAsk {
		if err := o.cfg.Storage.LatchMarketRepriced(ctx, e.City, e.TargetDate, e.Venue, e.RangeName, e.Side, e.Venue, time.Now()); err != nil {
			o.logger.Warn("reprice-latch-failed", zap.Error(err))
		}
	}
}

// snapshotBooks captures the crossing outcome's ask depth plus the other
// venue's matching outcome, when one exists with equivalent bounds.
func (o *Observer) snapshotBooks(ctx context.Context, spec *types.RangeSpec, all []*types.RangeSpec) map[types.Venue]types.Depth {
	books := make(map[types.Venue]types.Depth)
	if d, err := o.cfg.Markets.GetOrderbook(ctx, spec.Venue, spec.MarketID, spec.TokenID); err == nil && d != nil {
		books[spec.Venue] = *d
	} else if err != nil {
		o.logger.Warn("orderbook-snapshot-failed",
			zap.String("venue", string(spec.Venue)), zap.Error(err))
	}
	for _, other := range all {
		if other.Venue == spec.Venue || !o.rangesMatch(spec, other) {
			continue
		}
		if d, err := o.cfg.Markets.GetOrderbook(ctx, other.Venue, other.MarketID, other.TokenID); err == nil && d != nil {
			books[other.Venue] = *d
		}
		break
	}
	return books
}

// rangesMatch compares bounds across venues within the match tolerance.
// Bounds are already in the city unit on both venues.
func (o *Observer) rangesMatch(a, b *types.RangeSpec) bool {
	tol := o.cfg.CrossMatchTolerance
	match := func(x, y *float64) bool {
		if (x == nil) != (y == nil) {
			return false
		}
		return x == nil || math.Abs(*x-*y) <= tol
	}
	return match(a.RangeMin, b.RangeMin) && match(a.RangeMax, b.RangeMax)
}

// writeObservations persists observation rows. The fast loop writes only
// when a station posted a new high; the slow loop writes every station it
// heard from, carrying the WU high on crowd-resolving stations.
func (o *Observer) writeObservations(ctx context.Context, city *registry.City, date string, now time.Time, states map[types.Venue]*venueState, highs map[string]*storage.RunningHigh, full bool) {
	// One row per station. When both venues share a station, prefer the
	// crowd-resolving venue's state so the WU high lands on the row.
	byStation := make(map[string]types.Venue)
	for v, st := range states {
		if st.fresh == nil {
			continue
		}
		prev, ok := byStation[st.station]
		if !ok || (city.ResolutionSource[v] == "wu" && city.ResolutionSource[prev] != "wu") {
			byStation[st.station] = v
		}
	}
	for _, v := range byStation {
		st := states[v]

		tempLocal := units.Convert(st.fresh.TempC, types.UnitC, city.Unit)
		newHigh := true
		if db := highs[storage.RunningHighKey(city.Key, date, st.station)]; db != nil {
			newHigh = tempLocal > dbHigh(db, city.Unit)
			if !newHigh && st.wuHigh != nil {
				wuF := units.Convert(*st.wuHigh, city.Unit, types.UnitF)
				newHigh = db.WUHighF == nil || wuF > *db.WUHighF
			}
		}
		if !full && !newHigh {
			continue
		}

		obs := &types.Observation{
			City:             city.Key,
			TargetDate:       date,
			StationID:        st.station,
			ObservedAt:       st.fresh.ObservedAt,
			LocalHour:        city.LocalHour(now),
			TempC:            st.fresh.TempC,
			TempF:            units.CToF(st.fresh.TempC),
			RunningHighC:     units.Convert(st.metarHigh, city.Unit, types.UnitC),
			RunningHighF:     units.Convert(st.metarHigh, city.Unit, types.UnitF),
			ObservationCount: 1,
		}
		if st.wuHigh != nil && city.ResolutionSource[v] == "wu" {
			f := units.Convert(*st.wuHigh, city.Unit, types.UnitF)
			c := units.Convert(*st.wuHigh, city.Unit, types.UnitC)
			obs.WUHighF = &f
			obs.WUHighC = &c
		}
		if err := o.cfg.Storage.UpsertObservation(ctx, obs); err != nil {
			o.logger.Warn("observation-write-failed",
				zap.String("station", st.station), zap.Error(err))
			continue
		}
		ObservationRowsTotal.Inc()
	}
}

// checkWULeads records the crowd provider leading the airport before
// local noon and stamps confirmation once the airport catches up.
func (o *Observer) checkWULeads(ctx context.Context, city *registry.City, date string, now time.Time, states map[types.Venue]*venueState, wuHighF float64) {
	minGapF := o.cfg.WULeadMinGapF
	if city.Unit == types.UnitC {
		minGapF = o.cfg.WULeadMinGapC * 9 / 5
	}

	for v, st := range states {
		if city.ResolutionSource[v] != "wu" {
			continue
		}
		metarF := units.Convert(st.metarHigh, city.Unit, types.UnitF)
		gap := wuHighF - metarF

		if gap >= minGapF && city.LocalHour(now) < o.cfg.WULeadMaxLocalHour {
			inserted, err := o.cfg.Storage.InsertWULeadsEvent(ctx, &types.WULeadsEvent{
				City:       city.Key,
				TargetDate: date,
				StationID:  st.station,
				WUHighF:    wuHighF,
				MetarHighF: metarF,
				GapF:       gap,
				LocalHour:  city.LocalHour(now),
				DetectedAt: now,
			})
			if err != nil {
				o.logger.Warn("wu-leads-insert-failed", zap.Error(err))
				continue
			}
			if inserted {
				o.logger.Info("wu-leads-detected",
					zap.String("city", city.Key),
					zap.Float64("wu_high_f", wuHighF),
					zap.Float64("metar_high_f", metarF),
					zap.Float64("gap_f", gap))
				if o.cfg.Alerts != nil {
					o.cfg.Alerts.Queue(fmt.Sprintf(
						"WU leads airport in %s: WU %.1f°F vs METAR %.1f°F (gap %.1f)",
						city.Name, wuHighF, metarF, gap))
				}
			}
		} else if gap < minGapF {
			if err := o.cfg.Storage.LatchWULeadMetarConfirmed(ctx, city.Key, date, st.station, now); err != nil {
				o.logger.Warn("wu-lead-confirm-failed", zap.Error(err))
			}
		}

		if math.Abs(gap) >= 2 {
			o.logger.Info("wu-metar-mismatch",
				zap.String("city", city.Key),
				zap.String("station", st.station),
				zap.Float64("wu_high_f", wuHighF),
				zap.Float64("metar_high_f", metarF))
		}
	}
}

func (o *Observer) alertFirstDetection(ctx context.Context, city *registry.City, date string, spec *types.RangeSpec, side types.Side, high, threshold float64) {
	key := spec.Key(side)
	o.mu.Lock()
	dup := o.alerted[key]
	o.alerted[key] = true
	o.mu.Unlock()
	if dup || o.cfg.Alerts == nil {
		return
	}
	o.cfg.Alerts.Critical(ctx, fmt.Sprintf(
		"Threshold crossed: %s %s [%s] %q %s: high %.1f°%s vs %.1f, ask %.2f",
		city.Name, date, spec.Venue, spec.RangeName, side,
		high, city.Unit, threshold, spec.Ask))
}

// rollover resets the per-day in-memory state when a city's local date
// advances.
func (o *Observer) rollover(city *registry.City, date string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastDate[city.Key] == date {
		return
	}
	prev := o.lastDate[city.Key]
	o.lastDate[city.Key] = date
	if prev != "" {
		delete(o.wuHighs, city.Key+"|"+prev)
	}
	for k := range o.alerted {
		if len(k) >= len(city.Key) && k[:len(city.Key)] == city.Key {
			delete(o.alerted, k)
		}
	}
}

// minGap returns the settlement-gap floor for a venue in the city unit.
// The structured venue's gap doubles when it settles against a different
// airport than the narrative venue, because cross-airport spread adds
// uncertainty.
func (o *Observer) minGap(city *registry.City, v types.Venue) float64 {
	dual := city.DualStation() && v == types.VenueKalshi
	if city.Unit == types.UnitC {
		if dual {
			return o.cfg.DualStationMinGapC
		}
		return o.cfg.MinGapC
	}
	if dual {
		return o.cfg.DualStationMinGapF
	}
	return o.cfg.MinGapF
}

func (o *Observer) hasWUVenue(city *registry.City) bool {
	for _, src := range city.ResolutionSource {
		if src == "wu" {
			return true
		}
	}
	return false
}

func dbHigh(h *storage.RunningHigh, unit types.Unit) float64 {
	if unit == types.UnitC {
		return h.HighC
	}
	return h.HighF
}

func eventKey(v types.Venue, rangeName string, side types.Side) string {
	return string(v) + "|" + rangeName + "|" + string(side)
}
