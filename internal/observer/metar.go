package observer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// MetarReading is one fresh airport report.
type MetarReading struct {
	StationID  string
	TempC      float64
	ObservedAt time.Time
}

// MetarClient batch-fetches current METARs from the aviationweather.gov
// data API. All stations go into a single comma-separated request, so
// the fast loop costs one HTTP call per tick regardless of city count.
type MetarClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

const metarTimeout = 15 * time.Second

// NewMetarClient creates the batch METAR client.
func NewMetarClient(baseURL string, logger *zap.Logger) *MetarClient {
	return &MetarClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: metarTimeout},
		logger:  logger,
	}
}

type metarReport struct {
	IcaoID     string   `json:"icaoId"`
	Temp       *float64 `json:"temp"`
	ObsTime    int64    `json:"obsTime"`
	ReportTime string   `json:"reportTime"`
}

// FetchBatch returns the latest report per requested station. A station
// missing from the response, or one reporting no temperature, is simply
// absent from the result; the caller decides whether that is a problem.
func (c *MetarClient) FetchBatch(ctx context.Context, stations []string) (map[string]*MetarReading, error) {
	if len(stations) == 0 {
		return map[string]*MetarReading{}, nil
	}

	u := fmt.Sprintf("%s/metar?ids=%s&format=json",
		c.baseURL, url.QueryEscape(strings.Join(stations, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create metar request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "weatheredge/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.TransportError{Op: "metar", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read metar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &types.TransportError{
			Op:     "metar",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("body: %s", snippet(body)),
		}
	}

	var reports []metarReport
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, fmt.Errorf("unmarshal metar response: %w", err)
	}

	out := make(map[string]*MetarReading, len(reports))
	for _, r := range reports {
		if r.Temp == nil {
			c.logger.Warn("metar-no-temperature", zap.String("station", r.IcaoID))
			continue
		}
		reading := &MetarReading{
			StationID: r.IcaoID,
			TempC:     *r.Temp,
		}
		switch {
		case r.ObsTime > 0:
			reading.ObservedAt = time.Unix(r.ObsTime, 0).UTC()
		case r.ReportTime != "":
			if t, err := time.Parse("2006-01-02 15:04:05", r.ReportTime); err == nil {
				reading.ObservedAt = t.UTC()
			}
		}
		if reading.ObservedAt.IsZero() {
			reading.ObservedAt = time.Now().UTC()
		}
		// Keep the newest report when a station appears twice.
		if prev, ok := out[r.IcaoID]; ok && prev.ObservedAt.After(reading.ObservedAt) {
			continue
		}
		out[r.IcaoID] = reading
	}
	return out, nil
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
