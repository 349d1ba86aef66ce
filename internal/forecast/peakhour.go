package forecast

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeakHourStore supplies the local hours at which daily highs occurred.
type PeakHourStore interface {
	PeakHours(ctx context.Context, city string, since time.Time) ([]int, error)
}

// PeakHourEstimator estimates each city's local hour of peak temperature
// from observation history. Synchronous readers get cached values;
// Refresh recomputes the whole map.
type PeakHourEstimator struct {
	store       PeakHourStore
	windowDays  int
	buffer      int
	minHour     int
	maxHour     int
	minSamples  int
	coolingHour int
	logger      *zap.Logger

	mu     sync.RWMutex
	cached map[string]int
}

// PeakHourConfig holds estimator configuration.
type PeakHourConfig struct {
	Store       PeakHourStore
	WindowDays  int
	Buffer      int
	MinHour     int
	MaxHour     int
	MinSamples  int
	CoolingHour int
	Logger      *zap.Logger
}

// NewPeakHourEstimator creates the estimator.
func NewPeakHourEstimator(cfg *PeakHourConfig) *PeakHourEstimator {
	return &PeakHourEstimator{
		store:       cfg.Store,
		windowDays:  cfg.WindowDays,
		buffer:      cfg.Buffer,
		minHour:     cfg.MinHour,
		maxHour:     cfg.MaxHour,
		minSamples:  cfg.MinSamples,
		coolingHour: cfg.CoolingHour,
		logger:      cfg.Logger,
		cached:      make(map[string]int),
	}
}

// PeakHour returns the cached estimate for a city, or the static cooling
// hour before the first Refresh.
func (p *PeakHourEstimator) PeakHour(city string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.cached[city]; ok {
		return h
	}
	return p.coolingHour
}

// Refresh recomputes estimates for the given cities.
func (p *PeakHourEstimator) Refresh(ctx context.Context, cities []string) {
	since := time.Now().AddDate(0, 0, -p.windowDays)
	for _, city := range cities {
		hours, err := p.store.PeakHours(ctx, city, since)
		if err != nil {
			p.logger.Warn("peak-hour-query-failed",
				zap.String("city", city), zap.Error(err))
			continue
		}
		est := p.estimate(hours)
		p.mu.Lock()
		p.cached[city] = est
		p.mu.Unlock()
		p.logger.Debug("peak-hour-refreshed",
			zap.String("city", city),
			zap.Int("estimate", est),
			zap.Int("samples", len(hours)))
	}
}

func (p *PeakHourEstimator) estimate(hours []int) int {
	if len(hours) < p.minSamples {
		return p.coolingHour
	}
	var sum int
	for _, h := range hours {
		sum += h
	}
	est := int(math.Round(float64(sum)/float64(len(hours)))) + p.buffer
	if est < p.minHour {
		est = p.minHour
	}
	if est > p.maxHour {
		est = p.maxHour
	}
	return est
}
