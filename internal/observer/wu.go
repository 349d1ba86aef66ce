package observer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"golang.org/x/time/rate"
)

// WUClient reads current conditions from the Weather Underground (The
// Weather Company) observation API by city geocode.
//
// Two instances run side by side: the fast loop's client has a short hard
// timeout and no pacing, because a stale answer is worthless 20 seconds
// later; the slow loop's client paces itself to stay friendly with the
// provider's rate limits.
type WUClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// WUClientConfig holds crowd-provider client options.
type WUClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// MinDelay spaces consecutive requests; zero disables pacing.
	MinDelay time.Duration
}

// NewWUClient creates a crowd-observation client.
func NewWUClient(cfg *WUClientConfig) *WUClient {
	c := &WUClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.MinDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}
	return c
}

type wuObservation struct {
	Temperature       *float64 `json:"temperature"`
	TemperatureMax24H *float64 `json:"temperatureMax24Hour"`
	ObsTimeLocal      string   `json:"obsTimeLocal"`
}

// CurrentTempF returns the current crowd-reported temperature near the
// city's resolution station, in Fahrenheit. Day-high tracking is the
// observer's job; this is a point read.
func (c *WUClient) CurrentTempF(ctx context.Context, city *registry.City) (float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("wu rate wait: %w", err)
		}
	}

	u := fmt.Sprintf("%s/v3/wx/observations/current?geocode=%.4f,%.4f&units=e&language=en-US&format=json&apiKey=%s",
		c.baseURL, city.Lat, city.Lon, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create wu request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "weatheredge/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &types.TransportError{Op: "wu", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read wu response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &types.TransportError{
			Op:     "wu",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("body: %s", snippet(body)),
		}
	}

	var obs wuObservation
	if err := json.Unmarshal(body, &obs); err != nil {
		return 0, fmt.Errorf("unmarshal wu response: %w", err)
	}
	if obs.Temperature == nil {
		return 0, fmt.Errorf("wu observation for %s has no temperature", city.Key)
	}
	return *obs.Temperature, nil
}
