package venue

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nmoreira/weatheredge/pkg/types"
)

// The narrative venue names outcomes in prose. These recognizers cover the
// shapes seen on live temperature markets; anything else is rejected and
// the outcome is dropped upstream.
var (
	numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	rangeRe  = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*[-\x{2013}]\s*(-?\d+(?:\.\d+)?)`)
)

// ParsedRange is the bound pair extracted from a prose range name.
type ParsedRange struct {
	Min       *float64
	Max       *float64
	RangeType types.RangeType
}

// ParseNarrativeRange parses a prose range name, case-insensitively.
//
//	"≤17°F", "17° or below", "below 17"  -> (nil, 17)
//	"≥28°F", "28° or above", "above 28"  -> (28, nil)
//	"18-19°F" (hyphen or en-dash)        -> (18, 19)
//	"18°F"                               -> (17.5, 18.5)
func ParseNarrativeRange(name string) (*ParsedRange, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return nil, fmt.Errorf("%w: empty range name", types.ErrValidation)
	}

	num := numberRe.FindString(lower)
	if num == "" {
		return nil, fmt.Errorf("%w: no number in range name %q", types.ErrValidation, name)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: range name %q: %v", types.ErrValidation, name, err)
	}

	switch {
	case strings.Contains(lower, "≤"),
		strings.Contains(lower, "below"),
		strings.Contains(lower, "or less"),
		strings.Contains(lower, "under"):
		return &ParsedRange{Max: &n, RangeType: types.RangeUnbounded}, nil

	case strings.Contains(lower, "≥"),
		strings.Contains(lower, "above"),
		strings.Contains(lower, "higher"),
		strings.Contains(lower, "or more"):
		return &ParsedRange{Min: &n, RangeType: types.RangeUnbounded}, nil
	}

	if m := rangeRe.FindStringSubmatch(lower); m != nil {
		lo, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: range name %q: %v", types.ErrValidation, name, err)
		}
		hi, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: range name %q: %v", types.ErrValidation, name, err)
		}
		if lo > hi {
			return nil, fmt.Errorf("%w: range name %q inverted", types.ErrValidation, name)
		}
		return &ParsedRange{Min: &lo, Max: &hi, RangeType: types.RangeBounded}, nil
	}

	// Single temperature: the market covers the one-degree band around it.
	lo, hi := n-0.5, n+0.5
	return &ParsedRange{Min: &lo, Max: &hi, RangeType: types.RangeBounded}, nil
}

// ParseUnit extracts the unit suffix from a range name, defaulting to
// fallback when the name carries none.
func ParseUnit(name string, fallback types.Unit) types.Unit {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "°c"), strings.HasSuffix(lower, "c"):
		return types.UnitC
	case strings.Contains(lower, "°f"), strings.HasSuffix(lower, "f"):
		return types.UnitF
	default:
		return fallback
	}
}

// MapStructuredStrike converts the structured venue's strike metadata into
// bounds on the integer settlement temperature.
//
//	greater (floor)   -> (floor+1, nil)
//	less (cap)        -> (nil, cap-1)
//	between (f, c)    -> (floor, cap)
func MapStructuredStrike(strikeType string, floor, cap *float64) (*ParsedRange, error) {
	switch strings.ToLower(strikeType) {
	case "greater":
		if floor == nil {
			return nil, fmt.Errorf("%w: greater strike without floor", types.ErrValidation)
		}
		lo := *floor + 1
		return &ParsedRange{Min: &lo, RangeType: types.RangeUnbounded}, nil
	case "less":
		if cap == nil {
			return nil, fmt.Errorf("%w: less strike without cap", types.ErrValidation)
		}
		hi := *cap - 1
		return &ParsedRange{Max: &hi, RangeType: types.RangeUnbounded}, nil
	case "between":
		if floor == nil || cap == nil {
			return nil, fmt.Errorf("%w: between strike missing bounds", types.ErrValidation)
		}
		return &ParsedRange{Min: floor, Max: cap, RangeType: types.RangeBounded}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strike type %q", types.ErrValidation, strikeType)
	}
}
