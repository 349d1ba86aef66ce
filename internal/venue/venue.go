// Package venue hides the two exchanges behind one facade. The adapter
// normalizes every market outcome to a RangeSpec, throttles per venue,
// and caches outcome enumeration for the duration of one scan cycle.
package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/cache"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is implemented per venue.
type Client interface {
	Venue() types.Venue
	// ListOutcomes enumerates every tradeable outcome for a city day.
	ListOutcomes(ctx context.Context, city *registry.City, targetDate string) ([]*types.RangeSpec, error)
	// GetPrice fetches the latest top-of-book for one outcome.
	GetPrice(ctx context.Context, marketID, tokenID string) (*types.Quote, error)
	// GetOrderbook fetches ask-side depth for one outcome.
	GetOrderbook(ctx context.Context, marketID, tokenID string) (*types.Depth, error)
}

// Adapter is the uniform facade the scanner, observer, and monitor use.
type Adapter struct {
	clients  map[types.Venue]Client
	limiters map[types.Venue]*rate.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
	feeMults map[types.Venue]float64
	logger   *zap.Logger
}

// AdapterConfig holds adapter configuration.
type AdapterConfig struct {
	Clients []Client
	Cache   cache.Cache
	// CacheTTL bounds outcome-list staleness; keep at or below the scan
	// interval.
	CacheTTL      time.Duration
	KalshiFeeMult float64
	Logger        *zap.Logger
}

// minCallSpacing is the per-venue floor between API calls.
const minCallSpacing = 125 * time.Millisecond

// NewAdapter creates the facade.
func NewAdapter(cfg *AdapterConfig) *Adapter {
	a := &Adapter{
		clients:  make(map[types.Venue]Client, len(cfg.Clients)),
		limiters: make(map[types.Venue]*rate.Limiter, len(cfg.Clients)),
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		feeMults: map[types.Venue]float64{
			types.VenuePolymarket: 0,
			types.VenueKalshi:     cfg.KalshiFeeMult,
		},
		logger: cfg.Logger,
	}
	for _, c := range cfg.Clients {
		a.clients[c.Venue()] = c
		a.limiters[c.Venue()] = rate.NewLimiter(rate.Every(minCallSpacing), 1)
	}
	return a
}

// Venues returns the enabled venues.
func (a *Adapter) Venues() []types.Venue {
	out := make([]types.Venue, 0, len(a.clients))
	for v := range a.clients {
		out = append(out, v)
	}
	return out
}

// ListOutcomes enumerates outcomes across a city's enabled venues. Fails
// soft: a venue transport error drops that venue's outcomes for this call
// and logs; the scanner never sees the error.
func (a *Adapter) ListOutcomes(ctx context.Context, city *registry.City, targetDate string) []*types.RangeSpec {
	var out []*types.RangeSpec
	for v, c := range a.clients {
		specs, err := a.listVenueOutcomes(ctx, c, city, targetDate)
		if err != nil {
			OutcomeListErrorsTotal.WithLabelValues(string(v)).Inc()
			a.logger.Warn("outcome-list-failed",
				zap.String("venue", string(v)),
				zap.String("city", city.Key),
				zap.String("target_date", targetDate),
				zap.Error(err))
			continue
		}
		out = append(out, specs...)
	}
	return out
}

func (a *Adapter) listVenueOutcomes(ctx context.Context, c Client, city *registry.City, targetDate string) ([]*types.RangeSpec, error) {
	key := fmt.Sprintf("outcomes:%s:%s:%s", c.Venue(), city.Key, targetDate)
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			if specs, ok := cached.([]*types.RangeSpec); ok {
				OutcomeCacheHitsTotal.Inc()
				return specs, nil
			}
		}
		OutcomeCacheMissesTotal.Inc()
	}

	if err := a.wait(ctx, c.Venue()); err != nil {
		return nil, err
	}
	specs, err := c.ListOutcomes(ctx, city, targetDate)
	if err != nil {
		return nil, err
	}

	valid := specs[:0]
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			a.logger.Warn("outcome-dropped", zap.Error(err))
			continue
		}
		valid = append(valid, s)
	}

	if a.cache != nil {
		a.cache.Set(key, valid, a.cacheTTL)
	}
	return valid, nil
}

// GetPrice fetches the latest quote for one outcome.
func (a *Adapter) GetPrice(ctx context.Context, v types.Venue, marketID, tokenID string) (*types.Quote, error) {
	c, ok := a.clients[v]
	if !ok {
		return nil, fmt.Errorf("%w: venue %s not enabled", types.ErrConfig, v)
	}
	if err := a.wait(ctx, v); err != nil {
		return nil, err
	}
	return c.GetPrice(ctx, marketID, tokenID)
}

// GetOrderbook fetches ask-side depth for one outcome.
func (a *Adapter) GetOrderbook(ctx context.Context, v types.Venue, marketID, tokenID string) (*types.Depth, error) {
	c, ok := a.clients[v]
	if !ok {
		return nil, fmt.Errorf("%w: venue %s not enabled", types.ErrConfig, v)
	}
	if err := a.wait(ctx, v); err != nil {
		return nil, err
	}
	return c.GetOrderbook(ctx, marketID, tokenID)
}

// FeePerContract returns the per-share fee at price p.
func (a *Adapter) FeePerContract(v types.Venue, price float64) float64 {
	return a.feeMults[v] * price * (1 - price)
}

// SimulateBuy is the paper fill: execution at the quoted ask. Fees are
// settled at resolution, not charged here. This is the source of truth
// for entry price.
func (a *Adapter) SimulateBuy(spec *types.RangeSpec, shares int) *types.Fill {
	return &types.Fill{
		Price:     spec.Ask,
		Cost:      float64(shares) * spec.Ask,
		Timestamp: time.Now(),
	}
}

func (a *Adapter) wait(ctx context.Context, v types.Venue) error {
	if err := a.limiters[v].Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
