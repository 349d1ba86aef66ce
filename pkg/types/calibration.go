package types

import (
	"fmt"
	"time"
)

// Calibration is one empirical win-rate bucket keyed by
// (venue, range type, lead-time bucket, price bucket).
type Calibration struct {
	Venue            Venue
	RangeType        RangeType
	LeadTimeBucket   string
	PriceBucket      string
	Wins             int
	N                int
	EmpiricalWinRate float64
	LowerBound       float64
	UpperBound       float64
	UpdatedAt        time.Time
}

// LeadTimeBucket maps hours-to-resolution into the calibration lead buckets.
func LeadTimeBucket(hours float64) string {
	switch {
	case hours < 12:
		return "<12h"
	case hours < 24:
		return "12-24h"
	case hours < 36:
		return "24-36h"
	default:
		return "36h+"
	}
}

// PriceBucket maps an ask price into 5 cent bins from 0 up to the open
// 55 cent+ bucket.
func PriceBucket(ask float64) string {
	if ask >= 0.55 {
		return "0.55+"
	}
	if ask < 0 {
		ask = 0
	}
	lo := int(ask*100) / 5 * 5
	return fmt.Sprintf("0.%02d-0.%02d", lo, lo+5)
}
