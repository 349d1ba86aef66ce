package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubClient struct {
	venue types.Venue
	specs []*types.RangeSpec
	err   error
	calls int
}

func (s *stubClient) Venue() types.Venue { return s.venue }

func (s *stubClient) ListOutcomes(ctx context.Context, city *registry.City, targetDate string) ([]*types.RangeSpec, error) {
	s.calls++
	return s.specs, s.err
}

func (s *stubClient) GetPrice(ctx context.Context, marketID, tokenID string) (*types.Quote, error) {
	return &types.Quote{Bid: 0.40, Ask: 0.44, Spread: 0.04, Volume: 1000}, nil
}

func (s *stubClient) GetOrderbook(ctx context.Context, marketID, tokenID string) (*types.Depth, error) {
	return &types.Depth{}, nil
}

func testCity(t *testing.T) *registry.City {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	city, ok := reg.Get("nyc")
	require.True(t, ok)
	return city
}

func validSpec(venue types.Venue) *types.RangeSpec {
	lo, hi := 78.0, 79.0
	return &types.RangeSpec{
		Venue:      venue,
		MarketID:   "m1",
		City:       "nyc",
		TargetDate: "2026-08-24",
		RangeName:  "78-79",
		RangeMin:   &lo,
		RangeMax:   &hi,
		RangeType:  types.RangeBounded,
		Unit:       types.UnitF,
		Bid:        0.38,
		Ask:        0.42,
		Spread:     0.04,
		Volume:     2500,
	}
}

func TestAdapter_ListOutcomes_FailsSoft(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	healthy := &stubClient{venue: types.VenuePolymarket, specs: []*types.RangeSpec{validSpec(types.VenuePolymarket)}}
	broken := &stubClient{venue: types.VenueKalshi, err: errors.New("connection refused")}

	a := NewAdapter(&AdapterConfig{
		Clients: []Client{healthy, broken},
		Logger:  logger,
	})

	specs := a.ListOutcomes(context.Background(), testCity(t), "2026-08-24")
	require.Len(t, specs, 1)
	assert.Equal(t, types.VenuePolymarket, specs[0].Venue)
}

func TestAdapter_ListOutcomes_DropsInvalid(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	bad := validSpec(types.VenuePolymarket)
	bad.RangeMin = nil
	bad.RangeMax = nil
	c := &stubClient{
		venue: types.VenuePolymarket,
		specs: []*types.RangeSpec{validSpec(types.VenuePolymarket), bad},
	}

	a := NewAdapter(&AdapterConfig{Clients: []Client{c}, Logger: logger})
	specs := a.ListOutcomes(context.Background(), testCity(t), "2026-08-24")
	assert.Len(t, specs, 1)
}

func TestAdapter_FeePerContract(t *testing.T) {
	a := NewAdapter(&AdapterConfig{KalshiFeeMult: 0.07, Logger: zap.NewNop()})

	// Flat-fee venue pays nothing.
	assert.Equal(t, 0.0, a.FeePerContract(types.VenuePolymarket, 0.40))

	// Quadratic venue: 0.07 * p * (1-p).
	assert.InDelta(t, 0.07*0.40*0.60, a.FeePerContract(types.VenueKalshi, 0.40), 1e-12)
	assert.InDelta(t, 0.07*0.25, a.FeePerContract(types.VenueKalshi, 0.50), 1e-12)
}

func TestAdapter_SimulateBuy(t *testing.T) {
	a := NewAdapter(&AdapterConfig{KalshiFeeMult: 0.07, Logger: zap.NewNop()})
	spec := validSpec(types.VenueKalshi)
	spec.Ask = 0.40

	fill := a.SimulateBuy(spec, 125)
	assert.Equal(t, 0.40, fill.Price)
	assert.InDelta(t, 50.0, fill.Cost, 1e-9)
	assert.WithinDuration(t, time.Now(), fill.Timestamp, time.Second)
}
