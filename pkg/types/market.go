package types

import (
	"fmt"
	"time"
)

// Venue identifies a prediction-market exchange.
type Venue string

const (
	// VenuePolymarket is the narrative venue: prose range names, flat fees,
	// resolves against Weather Underground.
	VenuePolymarket Venue = "polymarket"
	// VenueKalshi is the structured venue: strike metadata, quadratic fees,
	// resolves against NWS CLI reports.
	VenueKalshi Venue = "kalshi"
)

// Side of a position.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Unit is a temperature unit tag.
type Unit string

const (
	UnitF Unit = "F"
	UnitC Unit = "C"
)

// RangeType distinguishes bounded from unbounded outcomes.
type RangeType string

const (
	RangeBounded   RangeType = "bounded"
	RangeUnbounded RangeType = "unbounded"
)

// RangeSpec is one outcome of one market on one venue, normalized.
// Either bound may be nil meaning unbounded on that end; at least one
// must be set.
type RangeSpec struct {
	Venue      Venue
	MarketID   string
	TokenID    string
	City       string
	TargetDate string // ISO YYYY-MM-DD in the city's local timezone
	RangeName  string
	RangeMin   *float64
	RangeMax   *float64
	RangeType  RangeType
	Unit       Unit
	Bid        float64
	Ask        float64
	Spread     float64
	Volume     float64
}

// IsBounded reports whether both bounds are set.
func (r *RangeSpec) IsBounded() bool {
	return r.RangeMin != nil && r.RangeMax != nil
}

// IsUnboundedUpper reports an "N or above" outcome.
func (r *RangeSpec) IsUnboundedUpper() bool {
	return r.RangeMin != nil && r.RangeMax == nil
}

// IsUnboundedLower reports an "N or below" outcome.
func (r *RangeSpec) IsUnboundedLower() bool {
	return r.RangeMin == nil && r.RangeMax != nil
}

// Validate checks the RangeSpec invariants.
func (r *RangeSpec) Validate() error {
	if r.RangeMin == nil && r.RangeMax == nil {
		return fmt.Errorf("%w: range %q has no bounds", ErrValidation, r.RangeName)
	}
	if r.RangeMin != nil && r.RangeMax != nil && *r.RangeMin > *r.RangeMax {
		return fmt.Errorf("%w: range %q min %.1f > max %.1f", ErrValidation, r.RangeName, *r.RangeMin, *r.RangeMax)
	}
	if r.Bid < 0 || r.Ask > 1 || r.Bid > r.Ask {
		return fmt.Errorf("%w: range %q prices bid=%.3f ask=%.3f", ErrValidation, r.RangeName, r.Bid, r.Ask)
	}
	return nil
}

// Key returns the de-duplication key for one side of this outcome.
func (r *RangeSpec) Key(side Side) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", r.City, r.TargetDate, r.Venue, r.RangeName, side)
}

// Quote is the latest top-of-book for one outcome.
type Quote struct {
	Bid    float64
	Ask    float64
	Spread float64
	Volume float64
}

// DepthLevel is one (price, size) rung of an orderbook side.
type DepthLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Depth is an orderbook snapshot (ask side only; entries are buys).
type Depth struct {
	AskDepth []DepthLevel `json:"ask_depth"`
}

// Fill is the result of a simulated buy at the quoted ask.
type Fill struct {
	Price     float64
	Cost      float64
	Timestamp time.Time
}
