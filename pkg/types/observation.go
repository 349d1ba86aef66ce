package types

import "time"

// Observation is one station poll row. Running highs never decrease; the
// storage layer enforces that with GREATEST-semantics upserts.
type Observation struct {
	City             string
	TargetDate       string
	StationID        string
	ObservedAt       time.Time
	LocalHour        int
	TempC            float64
	TempF            float64
	RunningHighC     float64
	RunningHighF     float64
	WUHighF          *float64
	WUHighC          *float64
	ObservationCount int
}

// PollSource records which loop produced a detection.
type PollSource string

const (
	PollFast    PollSource = "fast_poll"
	PollRegular PollSource = "regular"
)

// PendingEvent records a threshold crossing that is detected but not yet
// dually confirmed. One row per (city, date, venue, range name, side);
// the timestamp fields latch once set.
type PendingEvent struct {
	City            string
	TargetDate      string
	Venue           Venue
	RangeName       string
	Side            Side
	MetarHigh       float64
	WUHigh          *float64
	MetarGap        float64
	AskAtDetection  float64
	Orderbooks      map[Venue]Depth
	PollSource      PollSource
	WUTriggered     bool
	DetectedAt      time.Time
	WUConfirmedAt   *time.Time
	MarketRepricedAt       *time.Time
	KalshiMarketRepricedAt *time.Time
}

// WULeadsEvent records the crowd provider exceeding the airport reading by
// the configured gap before local noon.
type WULeadsEvent struct {
	City             string
	TargetDate       string
	StationID        string
	WUHighF          float64
	MetarHighF       float64
	GapF             float64
	LocalHour        int
	DetectedAt       time.Time
	MetarConfirmedAt *time.Time
}
