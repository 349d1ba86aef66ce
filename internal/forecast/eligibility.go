package forecast

import (
	"context"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// EligibilityConfig carries the MAE caps gating model entries per city.
// Allow-all until MinSamples residuals exist.
type EligibilityConfig struct {
	MinSamples    int
	BoundedMaxF   float64
	BoundedMaxC   float64
	UnboundedMaxF float64
	UnboundedMaxC float64
	WindowDays    int
}

// EligibilityGate rejects model entries in cities where the forecast has
// been demonstrably bad.
type EligibilityGate struct {
	cfg    *EligibilityConfig
	store  AccuracyStore
	logger *zap.Logger
}

// NewEligibilityGate creates the gate.
func NewEligibilityGate(cfg *EligibilityConfig, store AccuracyStore, logger *zap.Logger) *EligibilityGate {
	return &EligibilityGate{cfg: cfg, store: store, logger: logger}
}

// Eligible reports whether model entries are allowed for this city and
// range type. Lookup failures allow the entry; the gate is a refinement,
// not a dependency.
func (g *EligibilityGate) Eligible(ctx context.Context, city *registry.City, rangeType types.RangeType) bool {
	mae, n, err := g.store.CityMAE(ctx, city.Key, g.cfg.WindowDays)
	if err != nil {
		g.logger.Warn("eligibility-lookup-failed",
			zap.String("city", city.Key), zap.Error(err))
		return true
	}
	if n < g.cfg.MinSamples {
		return true
	}

	cap := g.cap(city.Unit, rangeType)
	if mae >= cap {
		g.logger.Info("city-ineligible",
			zap.String("city", city.Key),
			zap.String("range_type", string(rangeType)),
			zap.Float64("mae", mae),
			zap.Float64("cap", cap),
			zap.Int("samples", n))
		return false
	}
	return true
}

func (g *EligibilityGate) cap(unit types.Unit, rangeType types.RangeType) float64 {
	if rangeType == types.RangeBounded {
		if unit == types.UnitC {
			return g.cfg.BoundedMaxC
		}
		return g.cfg.BoundedMaxF
	}
	if unit == types.UnitC {
		return g.cfg.UnboundedMaxC
	}
	return g.cfg.UnboundedMaxF
}
