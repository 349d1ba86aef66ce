package forecast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/pkg/types"
	"github.com/nmoreira/weatheredge/pkg/units"
	"go.uber.org/zap"
)

const sourceTimeout = 15 * time.Second

// NWSSource reads the National Weather Service gridpoint forecast.
type NWSSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	gridURLs map[string]string
}

// NewNWSSource creates the source. baseURL defaults to the public API.
func NewNWSSource(baseURL string, logger *zap.Logger) *NWSSource {
	if baseURL == "" {
		baseURL = "https://api.weather.gov"
	}
	return &NWSSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: sourceTimeout},
		logger:     logger,
		gridURLs:   make(map[string]string),
	}
}

// Name identifies this source in ensembles and accuracy rows.
func (s *NWSSource) Name() string { return "nws" }

type nwsPointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type nwsForecastResponse struct {
	Properties struct {
		Periods []struct {
			StartTime       string  `json:"startTime"`
			IsDaytime       bool    `json:"isDaytime"`
			Temperature     float64 `json:"temperature"`
			TemperatureUnit string  `json:"temperatureUnit"`
		} `json:"periods"`
	} `json:"properties"`
}

// FetchHigh returns the forecast daytime high for the city day.
func (s *NWSSource) FetchHigh(ctx context.Context, city *registry.City, targetDate string) (float64, error) {
	gridURL, err := s.gridURL(ctx, city)
	if err != nil {
		return 0, err
	}

	var forecast nwsForecastResponse
	if err := getJSON(ctx, s.httpClient, gridURL, &forecast); err != nil {
		return 0, fmt.Errorf("nws forecast: %w", err)
	}

	for _, p := range forecast.Properties.Periods {
		if !p.IsDaytime {
			continue
		}
		start, err := time.Parse(time.RFC3339, p.StartTime)
		if err != nil {
			continue
		}
		if units.LocalDate(start, city.Location()) != targetDate {
			continue
		}
		temp := p.Temperature
		if p.TemperatureUnit == "C" {
			temp = units.CToF(temp)
		}
		return units.Convert(temp, types.UnitF, city.Unit), nil
	}
	return 0, fmt.Errorf("%w: nws has no daytime period for %s %s",
		types.ErrDataAbsent, city.Key, targetDate)
}

func (s *NWSSource) gridURL(ctx context.Context, city *registry.City) (string, error) {
	s.mu.Lock()
	cached, ok := s.gridURLs[city.Key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	var points nwsPointsResponse
	pointsURL := fmt.Sprintf("%s/points/%.4f,%.4f", s.baseURL, city.Lat, city.Lon)
	if err := getJSON(ctx, s.httpClient, pointsURL, &points); err != nil {
		return "", fmt.Errorf("nws points: %w", err)
	}
	if points.Properties.Forecast == "" {
		return "", fmt.Errorf("%w: nws points response missing forecast url", types.ErrDataAbsent)
	}

	s.mu.Lock()
	s.gridURLs[city.Key] = points.Properties.Forecast
	s.mu.Unlock()
	return points.Properties.Forecast, nil
}

// OpenMeteoSource reads the Open-Meteo daily forecast.
type OpenMeteoSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenMeteoSource creates the source.
func NewOpenMeteoSource(baseURL string, logger *zap.Logger) *OpenMeteoSource {
	if baseURL == "" {
		baseURL = "https://api.open-meteo.com"
	}
	return &OpenMeteoSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: sourceTimeout},
		logger:     logger,
	}
}

// Name identifies this source.
func (s *OpenMeteoSource) Name() string { return "openmeteo" }

type openMeteoResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		Temperature2mMax []float64 `json:"temperature_2m_max"`
	} `json:"daily"`
}

// FetchHigh returns the forecast daily maximum for the city day.
func (s *OpenMeteoSource) FetchHigh(ctx context.Context, city *registry.City, targetDate string) (float64, error) {
	params := url.Values{}
	params.Add("latitude", fmt.Sprintf("%.4f", city.Lat))
	params.Add("longitude", fmt.Sprintf("%.4f", city.Lon))
	params.Add("daily", "temperature_2m_max")
	params.Add("timezone", city.Timezone)
	if city.Unit == types.UnitF {
		params.Add("temperature_unit", "fahrenheit")
	}

	var resp openMeteoResponse
	requestURL := fmt.Sprintf("%s/v1/forecast?%s", s.baseURL, params.Encode())
	if err := getJSON(ctx, s.httpClient, requestURL, &resp); err != nil {
		return 0, fmt.Errorf("open-meteo forecast: %w", err)
	}

	for i, d := range resp.Daily.Time {
		if d == targetDate && i < len(resp.Daily.Temperature2mMax) {
			return resp.Daily.Temperature2mMax[i], nil
		}
	}
	return 0, fmt.Errorf("%w: open-meteo has no row for %s %s",
		types.ErrDataAbsent, city.Key, targetDate)
}

func getJSON(ctx context.Context, client *http.Client, requestURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "weatheredge/1.0 (weather-market research)")

	resp, err := client.Do(req)
	if err != nil {
		return &types.TransportError{Op: "forecast fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &types.TransportError{
			Op:     "forecast fetch",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
