// Package forecast fuses external forecast sources into per-(city, date)
// point estimates with uncertainty, and owns the probability integral the
// entry and exit pipelines run on.
package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/cache"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"go.uber.org/zap"
)

// Source is one external forecast provider.
type Source interface {
	Name() string
	// FetchHigh returns the forecast daily-high for the city day, in the
	// city's unit. Returns types.ErrDataAbsent when the provider has no
	// forecast for the date.
	FetchHigh(ctx context.Context, city *registry.City, targetDate string) (float64, error)
}

// AccuracyStore feeds calibration back into the ensemble.
type AccuracyStore interface {
	SourceBias(ctx context.Context, city, source string, windowDays int) (float64, int, error)
	CityResidualStdDev(ctx context.Context, city string, windowDays int) (float64, int, error)
	CityMAE(ctx context.Context, city string, windowDays int) (float64, int, error)
}

// Engine produces Forecast tuples.
type Engine struct {
	sources    []Source
	store      AccuracyStore
	cache      cache.Cache
	cacheTTL   time.Duration
	windowDays int
	minStdDevN int
	logger     *zap.Logger
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Sources               []Source
	Store                 AccuracyStore
	Cache                 cache.Cache
	CacheTTL              time.Duration
	CalibrationWindowDays int
	MinStdDevSamples      int
	Logger                *zap.Logger
}

// NewEngine creates a forecast engine.
func NewEngine(cfg *EngineConfig) *Engine {
	return &Engine{
		sources:    cfg.Sources,
		store:      cfg.Store,
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		windowDays: cfg.CalibrationWindowDays,
		minStdDevN: cfg.MinStdDevSamples,
		logger:     cfg.Logger,
	}
}

// Fallback standard deviations by confidence label, in Celsius. Used until
// enough per-city residuals accumulate.
var fallbackStdDevC = map[types.Confidence]float64{
	types.ConfidenceVeryHigh: 1.39,
	types.ConfidenceHigh:     1.67,
	types.ConfidenceMedium:   2.22,
	types.ConfidenceLow:      2.78,
}

// Fetch returns the fused forecast for a city day, serving repeated calls
// from cache for the configured TTL.
func (e *Engine) Fetch(ctx context.Context, city *registry.City, targetDate string) (*types.Forecast, error) {
	key := fmt.Sprintf("forecast:%s:%s", city.Key, targetDate)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if f, ok := cached.(*types.Forecast); ok {
				CacheHitsTotal.Inc()
				return f, nil
			}
		}
		CacheMissesTotal.Inc()
	}

	f, err := e.fetch(ctx, city, targetDate)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, f, e.cacheTTL)
	}
	return f, nil
}

func (e *Engine) fetch(ctx context.Context, city *registry.City, targetDate string) (*types.Forecast, error) {
	sources := make(map[string]float64, len(e.sources))
	for _, s := range e.sources {
		temp, err := s.FetchHigh(ctx, city, targetDate)
		if err != nil {
			SourceErrorsTotal.WithLabelValues(s.Name()).Inc()
			e.logger.Warn("forecast-source-failed",
				zap.String("source", s.Name()),
				zap.String("city", city.Key),
				zap.Error(err))
			continue
		}

		// Subtract rolling bias before ensembling.
		bias, n, err := e.store.SourceBias(ctx, city.Key, s.Name(), e.windowDays)
		if err != nil {
			e.logger.Warn("source-bias-lookup-failed",
				zap.String("source", s.Name()), zap.Error(err))
		} else if n > 0 {
			temp -= bias
		}
		sources[s.Name()] = temp
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no forecast source available for %s %s",
			types.ErrDataAbsent, city.Key, targetDate)
	}

	var sum float64
	for _, t := range sources {
		sum += t
	}
	temp := sum / float64(len(sources))

	confidence := confidenceFromSpread(sources, city.Unit)
	stdDev := e.stdDev(ctx, city, confidence)

	return &types.Forecast{
		City:              city.Key,
		TargetDate:        targetDate,
		Temp:              temp,
		StdDev:            stdDev,
		Confidence:        confidence,
		Sources:           sources,
		HoursToResolution: units.HoursUntilEndOfLocalDay(time.Now(), targetDate, city.Location()),
		Unit:              city.Unit,
	}, nil
}

func (e *Engine) stdDev(ctx context.Context, city *registry.City, confidence types.Confidence) float64 {
	sd, n, err := e.store.CityResidualStdDev(ctx, city.Key, e.windowDays)
	if err != nil {
		e.logger.Warn("residual-stddev-lookup-failed",
			zap.String("city", city.Key), zap.Error(err))
	} else if n >= e.minStdDevN && sd > 0 {
		return sd
	}

	fallback := fallbackStdDevC[confidence]
	if city.Unit == types.UnitF {
		return fallback * 9 / 5
	}
	return fallback
}

// confidenceFromSpread labels the ensemble by the maximum pairwise
// disagreement, measured in Fahrenheit.
func confidenceFromSpread(sources map[string]float64, unit types.Unit) types.Confidence {
	if len(sources) < 2 {
		return types.ConfidenceMedium
	}

	var maxSpread float64
	temps := make([]float64, 0, len(sources))
	for _, t := range sources {
		temps = append(temps, t)
	}
	for i := range temps {
		for j := i + 1; j < len(temps); j++ {
			if d := math.Abs(temps[i] - temps[j]); d > maxSpread {
				maxSpread = d
			}
		}
	}
	if unit == types.UnitC {
		maxSpread = maxSpread * 9 / 5
	}

	switch {
	case maxSpread <= 1:
		return types.ConfidenceVeryHigh
	case maxSpread <= 2:
		return types.ConfidenceHigh
	case maxSpread <= 4:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}
