package types

// Confidence is the discrete forecast confidence label, derived from the
// spread between ensemble sources.
type Confidence string

const (
	ConfidenceVeryHigh Confidence = "very-high"
	ConfidenceHigh     Confidence = "high"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceLow      Confidence = "low"
)

// Forecast is the fused ensemble output for one (city, target date).
type Forecast struct {
	City              string
	TargetDate        string
	Temp              float64 // point estimate in Unit
	StdDev            float64 // same unit
	Confidence        Confidence
	Sources           map[string]float64 // source name -> temperature in Unit
	HoursToResolution float64
	Unit              Unit
}
