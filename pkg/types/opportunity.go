package types

import "time"

// Opportunity records every scored candidate, accepted or not. Rows are
// backfilled by the resolver with the actual temperature and whether the
// candidate would have won, which feeds market calibration.
type Opportunity struct {
	ID                string
	City              string
	TargetDate        string
	Venue             Venue
	RangeName         string
	RangeMin          *float64
	RangeMax          *float64
	RangeType         RangeType
	Unit              Unit
	Side              Side
	Bid               float64
	Ask               float64
	Spread            float64
	Volume            float64
	Probability       float64
	EdgePct           float64
	Kelly             float64
	ForecastTemp      float64
	ForecastStdDev    float64
	Confidence        Confidence
	ForecastSources   map[string]float64
	HoursToResolution float64
	Accepted          bool
	RejectReason      string
	TradeID           *int64
	ActualTemp        *float64
	WouldHaveWon      *bool
	CreatedAt         time.Time
}
