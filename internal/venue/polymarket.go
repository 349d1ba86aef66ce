package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"go.uber.org/zap"
)

// PolymarketClient reads the narrative venue's Gamma and CLOB APIs.
type PolymarketClient struct {
	gammaURL   string
	clobURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// PolymarketConfig holds client configuration.
type PolymarketConfig struct {
	GammaURL string
	ClobURL  string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewPolymarketClient creates a Gamma/CLOB client.
func NewPolymarketClient(cfg *PolymarketConfig) *PolymarketClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &PolymarketClient{
		gammaURL:   cfg.GammaURL,
		clobURL:    cfg.ClobURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}
}

// Venue identifies this client.
func (c *PolymarketClient) Venue() types.Venue { return types.VenuePolymarket }

type gammaEvent struct {
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Markets []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	ID             string `json:"id"`
	Question       string `json:"question"`
	GroupItemTitle string `json:"groupItemTitle"`
	BestBid        any    `json:"bestBid"`
	BestAsk        any    `json:"bestAsk"`
	Volume         any    `json:"volume"`
	ClobTokenIDs   string `json:"clobTokenIds"`
	Closed         bool   `json:"closed"`
}

// ListOutcomes enumerates the city-day event's markets as RangeSpecs.
// Events are discovered under the weather tag and matched by slug.
func (c *PolymarketClient) ListOutcomes(ctx context.Context, city *registry.City, targetDate string) ([]*types.RangeSpec, error) {
	params := url.Values{}
	params.Add("tag_slug", "weather")
	params.Add("closed", "false")
	params.Add("limit", "200")

	var events []gammaEvent
	err := c.getJSON(ctx, fmt.Sprintf("%s/events?%s", c.gammaURL, params.Encode()), "events", &events)
	if err != nil {
		return nil, err
	}

	dateFragment, err := slugDateFragment(targetDate)
	if err != nil {
		return nil, err
	}
	citySlug := strings.ToLower(strings.ReplaceAll(city.Name, " ", "-"))

	var out []*types.RangeSpec
	for _, ev := range events {
		slug := strings.ToLower(ev.Slug)
		if !strings.Contains(slug, citySlug) || !strings.Contains(slug, dateFragment) {
			continue
		}
		for _, m := range ev.Markets {
			if m.Closed {
				continue
			}
			spec, err := c.toRangeSpec(&m, city, targetDate)
			if err != nil {
				c.logger.Debug("polymarket-outcome-skipped",
					zap.String("question", m.Question),
					zap.Error(err))
				continue
			}
			out = append(out, spec)
		}
	}
	return out, nil
}

func (c *PolymarketClient) toRangeSpec(m *gammaMarket, city *registry.City, targetDate string) (*types.RangeSpec, error) {
	name := m.GroupItemTitle
	if name == "" {
		name = m.Question
	}
	parsed, err := ParseNarrativeRange(name)
	if err != nil {
		return nil, err
	}

	bid := anyToFloat(m.BestBid)
	ask := anyToFloat(m.BestAsk)
	if ask == 0 {
		ask = 1
	}

	var tokenIDs []string
	if m.ClobTokenIDs != "" {
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
			return nil, fmt.Errorf("parse token ids: %w", err)
		}
	}
	tokenID := ""
	if len(tokenIDs) > 0 {
		tokenID = tokenIDs[0]
	}

	return &types.RangeSpec{
		Venue:      types.VenuePolymarket,
		MarketID:   m.ID,
		TokenID:    tokenID,
		City:       city.Key,
		TargetDate: targetDate,
		RangeName:  name,
		RangeMin:   parsed.Min,
		RangeMax:   parsed.Max,
		RangeType:  parsed.RangeType,
		Unit:       ParseUnit(name, city.Unit),
		Bid:        bid,
		Ask:        ask,
		Spread:     ask - bid,
		Volume:     anyToFloat(m.Volume),
	}, nil
}

// GetPrice refreshes the top-of-book from the Gamma market record.
func (c *PolymarketClient) GetPrice(ctx context.Context, marketID, tokenID string) (*types.Quote, error) {
	var m gammaMarket
	err := c.getJSON(ctx, fmt.Sprintf("%s/markets/%s", c.gammaURL, marketID), "market", &m)
	if err != nil {
		return nil, err
	}
	bid := anyToFloat(m.BestBid)
	ask := anyToFloat(m.BestAsk)
	return &types.Quote{
		Bid:    bid,
		Ask:    ask,
		Spread: ask - bid,
		Volume: anyToFloat(m.Volume),
	}, nil
}

type clobBook struct {
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// GetOrderbook fetches ask-side depth from the CLOB.
func (c *PolymarketClient) GetOrderbook(ctx context.Context, marketID, tokenID string) (*types.Depth, error) {
	var book clobBook
	err := c.getJSON(ctx, fmt.Sprintf("%s/book?token_id=%s", c.clobURL, url.QueryEscape(tokenID)), "book", &book)
	if err != nil {
		return nil, err
	}
	depth := &types.Depth{AskDepth: make([]types.DepthLevel, 0, len(book.Asks))}
	for _, a := range book.Asks {
		price, err1 := strconv.ParseFloat(a.Price, 64)
		size, err2 := strconv.ParseFloat(a.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		depth.AskDepth = append(depth.AskDepth, types.DepthLevel{Price: price, Size: size})
	}
	return depth, nil
}

func (c *PolymarketClient) getJSON(ctx context.Context, requestURL, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "weatheredge/1.0")

	APIRequestsTotal.WithLabelValues("polymarket", endpoint).Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &types.TransportError{Op: "polymarket " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &types.TransportError{
			Op:     "polymarket " + endpoint,
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

// slugDateFragment renders a target date the way event slugs embed it,
// e.g. 2026-08-24 -> "august-24".
func slugDateFragment(targetDate string) (string, error) {
	t, err := units.ParseLocalDate(targetDate, time.UTC)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", strings.ToLower(t.Month().String()), t.Day()), nil
}

func anyToFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
