package types

import "time"

// TradeStatus is the trade lifecycle state.
type TradeStatus string

const (
	TradeOpen     TradeStatus = "open"
	TradeExited   TradeStatus = "exited"
	TradeResolved TradeStatus = "resolved"
)

// EntryReason tags how a position was opened.
type EntryReason string

const (
	EntryModel            EntryReason = "model"
	EntryGuaranteedWin    EntryReason = "guaranteed_win"
	EntryGuaranteedWinPWS EntryReason = "guaranteed_win_pws"
	EntryCalConfirms      EntryReason = "cal_confirms"
)

// MaxEvaluatorLogEntries bounds the per-trade decision log.
const MaxEvaluatorLogEntries = 500

// EvaluatorEntry is one exit-evaluator decision record.
type EvaluatorEntry struct {
	At             time.Time `json:"at"`
	Recommendation string    `json:"recommendation"`
	Signal         string    `json:"signal,omitempty"`
	Probability    float64   `json:"probability"`
	Bid            float64   `json:"bid"`
	Ask            float64   `json:"ask"`
	EVAdvantage    float64   `json:"ev_advantage"`
	Note           string    `json:"note,omitempty"`
}

// Trade is one position. At most one open trade may exist per
// (city, target date, venue, range name, side).
type Trade struct {
	ID         int64
	City       string
	TargetDate string
	Venue      Venue
	RangeName  string
	RangeMin   *float64
	RangeMax   *float64
	RangeType  RangeType
	Unit       Unit
	Side       Side
	Status     TradeStatus

	// Entry state
	EntryAsk                float64
	EntryBid                float64
	EntrySpread             float64
	EntryVolume             float64
	Shares                  int
	Cost                    float64
	EntryProbability        float64
	EntryEdgePct            float64
	EntryKelly              float64
	EntryForecastTemp       float64
	EntryForecastConfidence Confidence
	EntryEnsemble           map[string]float64
	PctOfVolume             float64
	HoursToResolution       float64
	EntryReason             EntryReason
	WUTriggered             bool
	DualConfirmed           bool
	ObservationHigh         *float64
	WUHigh                  *float64
	EnteredAt               time.Time

	// Live state
	CurrentBid         float64
	CurrentAsk         float64
	CurrentProbability float64
	MaxPriceSeen       float64
	MinProbabilitySeen float64
	EvaluatorLog       []EvaluatorEntry

	// Exit state
	ExitReason       string
	ExitPrice        float64
	ExitBid          float64
	ExitAsk          float64
	ExitSpread       float64
	ExitVolume       float64
	ExitProbability  float64
	ExitForecastTemp float64
	ExitedAt         *time.Time

	// Resolution state
	ActualTemp        *float64
	Won               *bool
	PnL               *float64
	Fees              *float64
	ResolvedAt        *time.Time
	ResolutionStation string
}

// AppendEvaluatorEntry appends a decision record, keeping the latest
// MaxEvaluatorLogEntries.
func (t *Trade) AppendEvaluatorEntry(e EvaluatorEntry) {
	t.EvaluatorLog = append(t.EvaluatorLog, e)
	if n := len(t.EvaluatorLog); n > MaxEvaluatorLogEntries {
		t.EvaluatorLog = t.EvaluatorLog[n-MaxEvaluatorLogEntries:]
	}
}

// Spec reconstructs the RangeSpec geometry for this trade at its current
// prices. Used by the evaluator and the guaranteed-win checks.
func (t *Trade) Spec() *RangeSpec {
	return &RangeSpec{
		Venue:      t.Venue,
		City:       t.City,
		TargetDate: t.TargetDate,
		RangeName:  t.RangeName,
		RangeMin:   t.RangeMin,
		RangeMax:   t.RangeMax,
		RangeType:  t.RangeType,
		Unit:       t.Unit,
		Bid:        t.CurrentBid,
		Ask:        t.CurrentAsk,
	}
}
