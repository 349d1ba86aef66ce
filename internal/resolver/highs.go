package resolver

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
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// HighSource is one leg of a venue's settlement chain. Legs return the
// station's daily high in Fahrenheit, or ErrDataAbsent when the source
// answered but had no usable value for that day.
type HighSource interface {
	Name() string
	DailyHigh(ctx context.Context, city *registry.City, station, targetDate string) (float64, error)
}

// Highs is the stored running-high surface the database-backed legs read.
// A nil row with a nil error means the station has no rows for that day.
type Highs interface {
	StationHigh(ctx context.Context, city, targetDate, stationID string) (*storage.RunningHigh, error)
}

// IEMClient talks to the Iowa Environmental Mesonet, which republishes both
// the NWS daily climate reports and the full ASOS observation archive.
type IEMClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

const iemTimeout = 20 * time.Second

// NewIEMClient creates the archive client.
func NewIEMClient(baseURL string, logger *zap.Logger) *IEMClient {
	return &IEMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: iemTimeout},
		logger:  logger,
	}
}

// CLI is the climate-report leg: the official NWS daily high for stations
// that issue CLI products. This is the value the structured venue settles on.
func (c *IEMClient) CLI() HighSource { return &cliLeg{c: c} }

// METAR is the routine-observation leg over the archived ASOS feed.
func (c *IEMClient) METAR() HighSource { return &asosLeg{c: c, name: "metar", reportType: "3"} }

// Archive is the last-resort leg: every archived report for the day,
// specials included.
func (c *IEMClient) Archive() HighSource { return &asosLeg{c: c, name: "archive"} }

type cliLeg struct {
	c *IEMClient
}

func (l *cliLeg) Name() string { return "cli" }

type cliResponse struct {
	Data []struct {
		High *float64 `json:"high"`
	} `json:"data"`
}

func (l *cliLeg) DailyHigh(ctx context.Context, city *registry.City, station, targetDate string) (float64, error) {
	u := fmt.Sprintf("%s/api/1/cli.json?station=%s&date=%s",
		l.c.baseURL, url.QueryEscape(station), url.QueryEscape(targetDate))

	body, err := l.c.get(ctx, "cli", u)
	if err != nil {
		return 0, err
	}

	var resp cliResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal cli response: %w", err)
	}
	for _, d := range resp.Data {
		if d.High != nil {
			return *d.High, nil
		}
	}
	return 0, fmt.Errorf("%w: no cli high for %s %s", types.ErrDataAbsent, station, targetDate)
}

type asosLeg struct {
	c          *IEMClient
	name       string
	reportType string // empty includes specials
}

func (l *asosLeg) Name() string { return l.name }

func (l *asosLeg) DailyHigh(ctx context.Context, city *registry.City, station, targetDate string) (float64, error) {
	day, err := time.Parse("2006-01-02", targetDate)
	if err != nil {
		return 0, fmt.Errorf("parse target date: %w", err)
	}
	next := day.AddDate(0, 0, 1)

	u := fmt.Sprintf("%s/cgi-bin/request/asos.py?station=%s&data=tmpf"+
		"&year1=%d&month1=%d&day1=%d&year2=%d&month2=%d&day2=%d"+
		"&tz=%s&format=onlycomma&latlon=no&elev=no&missing=M&trace=T&direct=no",
		l.c.baseURL, url.QueryEscape(station),
		day.Year(), int(day.Month()), day.Day(),
		next.Year(), int(next.Month()), next.Day(),
		url.QueryEscape(city.Timezone))
	if l.reportType != "" {
		u += "&report_type=" + l.reportType
	}

	body, err := l.c.get(ctx, l.name, u)
	if err != nil {
		return 0, err
	}

	high := -999.0
	for _, line := range strings.Split(string(body), "\n") {
		if !strings.HasPrefix(line, station+",") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 || parts[2] == "M" {
			continue
		}
		temp, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil || temp < -100 || temp > 150 {
			continue
		}
		if temp > high {
			high = temp
		}
	}
	if high == -999.0 {
		return 0, fmt.Errorf("%w: no %s readings for %s %s", types.ErrDataAbsent, l.name, station, targetDate)
	}
	return high, nil
}

func (c *IEMClient) get(ctx context.Context, op, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("User-Agent", "weatheredge/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &types.TransportError{Op: op, Status: resp.StatusCode}
	}
	return body, nil
}

// hourlyLeg reads the running high the observer accumulated from the live
// station feed.
type hourlyLeg struct {
	highs Highs
}

// NewHourlyLeg returns the stored-observation leg.
func NewHourlyLeg(highs Highs) HighSource { return &hourlyLeg{highs: highs} }

func (l *hourlyLeg) Name() string { return "hourly" }

func (l *hourlyLeg) DailyHigh(ctx context.Context, city *registry.City, station, targetDate string) (float64, error) {
	h, err := l.lookup(ctx, city, station, targetDate)
	if err != nil {
		return 0, err
	}
	return h.HighF, nil
}

func (l *hourlyLeg) lookup(ctx context.Context, city *registry.City, station, targetDate string) (*storage.RunningHigh, error) {
	h, err := l.highs.StationHigh(ctx, city.Key, targetDate, station)
	if err != nil {
		return nil, fmt.Errorf("stored high: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: no stored high for %s %s", types.ErrDataAbsent, station, targetDate)
	}
	return h, nil
}

// wuLeg reads the crowd provider's tracked daily max, which the observer
// stores alongside the station high for crowd-resolving venues.
type wuLeg struct {
	inner hourlyLeg
}

// NewWULeg returns the crowd-provider leg.
func NewWULeg(highs Highs) HighSource { return &wuLeg{inner: hourlyLeg{highs: highs}} }

func (l *wuLeg) Name() string { return "wu" }

func (l *wuLeg) DailyHigh(ctx context.Context, city *registry.City, station, targetDate string) (float64, error) {
	h, err := l.inner.lookup(ctx, city, station, targetDate)
	if err != nil {
		return 0, err
	}
	if h.WUHighF == nil {
		return 0, fmt.Errorf("%w: no crowd high for %s %s", types.ErrDataAbsent, station, targetDate)
	}
	return *h.WUHighF, nil
}

// DefaultChains wires the per-venue settlement chains: the structured venue
// prefers the climate report, then stored hourly observations, then the
// METAR archive; the narrative venue prefers the crowd provider, then the
// METAR archive. Both end at the unfiltered archive.
func DefaultChains(iem *IEMClient, highs Highs) map[types.Venue][]HighSource {
	return map[types.Venue][]HighSource{
		types.VenueKalshi: {
			iem.CLI(),
			NewHourlyLeg(highs),
			iem.METAR(),
			iem.Archive(),
		},
		types.VenuePolymarket: {
			NewWULeg(highs),
			iem.METAR(),
			iem.Archive(),
		},
	}
}
