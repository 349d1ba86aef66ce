package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"go.uber.org/zap"
)

// KalshiClient reads the structured venue's public market API.
type KalshiClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// KalshiConfig holds client configuration.
type KalshiConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewKalshiClient creates a client.
func NewKalshiClient(cfg *KalshiConfig) *KalshiClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &KalshiClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}
}

// Venue identifies this client.
func (c *KalshiClient) Venue() types.Venue { return types.VenueKalshi }

// highSeries maps registry city keys to the daily-high series tickers.
var highSeries = map[string]string{
	"nyc": "KXHIGHNY",
	"lax": "KXHIGHLAX",
	"chi": "KXHIGHCHI",
	"mia": "KXHIGHMIA",
	"aus": "KXHIGHAUS",
	"phl": "KXHIGHPHIL",
	"den": "KXHIGHDEN",
}

// EventTicker builds the event ticker for a city day,
// e.g. KXHIGHNY-26AUG24.
func EventTicker(cityKey, targetDate string) (string, error) {
	series, ok := highSeries[cityKey]
	if !ok {
		return "", fmt.Errorf("%w: no series for city %s", types.ErrConfig, cityKey)
	}
	t, err := units.ParseLocalDate(targetDate, time.UTC)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", series, strings.ToUpper(t.Format("06Jan02"))), nil
}

type kalshiMarket struct {
	Ticker      string   `json:"ticker"`
	EventTicker string   `json:"event_ticker"`
	Subtitle    string   `json:"subtitle"`
	StrikeType  string   `json:"strike_type"`
	FloorStrike *float64 `json:"floor_strike"`
	CapStrike   *float64 `json:"cap_strike"`
	YesBid      int      `json:"yes_bid"`
	YesAsk      int      `json:"yes_ask"`
	Volume      float64  `json:"volume"`
	Status      string   `json:"status"`
}

type kalshiMarketsResponse struct {
	Markets []kalshiMarket `json:"markets"`
}

// ListOutcomes enumerates a city day's markets by event ticker, mapping
// strike metadata to bounds on the integer settlement temperature.
func (c *KalshiClient) ListOutcomes(ctx context.Context, city *registry.City, targetDate string) ([]*types.RangeSpec, error) {
	event, err := EventTicker(city.Key, targetDate)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("event_ticker", event)
	params.Add("status", "open")
	params.Add("limit", "100")

	var resp kalshiMarketsResponse
	err = c.getJSON(ctx, fmt.Sprintf("%s/markets?%s", c.baseURL, params.Encode()), "markets", &resp)
	if err != nil {
		return nil, err
	}

	out := make([]*types.RangeSpec, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		parsed, err := MapStructuredStrike(m.StrikeType, m.FloorStrike, m.CapStrike)
		if err != nil {
			c.logger.Debug("kalshi-outcome-skipped",
				zap.String("ticker", m.Ticker),
				zap.Error(err))
			continue
		}

		bid := float64(m.YesBid) / 100
		ask := float64(m.YesAsk) / 100
		out = append(out, &types.RangeSpec{
			Venue:      types.VenueKalshi,
			MarketID:   m.Ticker,
			TokenID:    m.Ticker,
			City:       city.Key,
			TargetDate: targetDate,
			RangeName:  rangeNameFromTicker(m.Ticker, m.Subtitle),
			RangeMin:   parsed.Min,
			RangeMax:   parsed.Max,
			RangeType:  parsed.RangeType,
			Unit:       city.Unit,
			Bid:        bid,
			Ask:        ask,
			Spread:     ask - bid,
			Volume:     m.Volume,
		})
	}
	return out, nil
}

type kalshiMarketResponse struct {
	Market kalshiMarket `json:"market"`
}

// GetPrice refreshes the top-of-book for one market ticker.
func (c *KalshiClient) GetPrice(ctx context.Context, marketID, tokenID string) (*types.Quote, error) {
	var resp kalshiMarketResponse
	err := c.getJSON(ctx, fmt.Sprintf("%s/markets/%s", c.baseURL, url.PathEscape(marketID)), "market", &resp)
	if err != nil {
		return nil, err
	}
	bid := float64(resp.Market.YesBid) / 100
	ask := float64(resp.Market.YesAsk) / 100
	return &types.Quote{
		Bid:    bid,
		Ask:    ask,
		Spread: ask - bid,
		Volume: resp.Market.Volume,
	}, nil
}

type kalshiOrderbookResponse struct {
	Orderbook struct {
		// Resting bids as [price_cents, contracts] pairs.
		Yes [][]float64 `json:"yes"`
		No  [][]float64 `json:"no"`
	} `json:"orderbook"`
}

// GetOrderbook fetches YES ask-side depth. The venue exposes resting bids
// only; a NO bid at p cents is a YES ask at 1-p dollars.
func (c *KalshiClient) GetOrderbook(ctx context.Context, marketID, tokenID string) (*types.Depth, error) {
	var resp kalshiOrderbookResponse
	err := c.getJSON(ctx, fmt.Sprintf("%s/markets/%s/orderbook", c.baseURL, url.PathEscape(marketID)), "orderbook", &resp)
	if err != nil {
		return nil, err
	}

	depth := &types.Depth{AskDepth: make([]types.DepthLevel, 0, len(resp.Orderbook.No))}
	for _, level := range resp.Orderbook.No {
		if len(level) < 2 {
			continue
		}
		depth.AskDepth = append(depth.AskDepth, types.DepthLevel{
			Price: (100 - level[0]) / 100,
			Size:  level[1],
		})
	}
	return depth, nil
}

func (c *KalshiClient) getJSON(ctx context.Context, requestURL, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "weatheredge/1.0")

	APIRequestsTotal.WithLabelValues("kalshi", endpoint).Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &types.TransportError{Op: "kalshi " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &types.TransportError{
			Op:     "kalshi " + endpoint,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", endpoint, err)
	}
	return nil
}

// rangeNameFromTicker prefers the stable ticker suffix (e.g. "B60.5",
// "T63") over display subtitles that the venue edits freely.
func rangeNameFromTicker(ticker, subtitle string) string {
	if i := strings.LastIndex(ticker, "-"); i >= 0 && i < len(ticker)-1 {
		return ticker[i+1:]
	}
	return subtitle
}
