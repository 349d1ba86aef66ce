package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TradingMode controls whether entries are paper, shadow (log-only), or live.
type TradingMode string

const (
	ModePaper  TradingMode = "paper"
	ModeShadow TradingMode = "shadow"
	ModeLive   TradingMode = "live"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// General
	ScanIntervalMinutes int
	TradingMode         TradingMode
	ScanDaysAhead       int

	// Entry
	MinEdgePct           float64
	MaxSpread            float64
	MaxSpreadPct         float64
	MinAskPrice          float64
	MinNoAskPrice        float64
	MinHoursToResolution float64
	MaxModelMarketRatio  float64

	// Sizing
	KellyFraction       float64
	YesBankroll         float64
	NoBankroll          float64
	NoMaxPerDate        float64
	MaxBankrollPct      float64
	MinBet              float64
	HardRejectVolumePct float64
	WarnVolumePct       float64
	MaxVolumePct        float64 // 0 disables volume clipping (paper mode)

	// Exit
	EvaluatorMode     string // "log_only" or "active"
	ActiveSignals     []string
	TakeProfitTrigger float64

	// Forecasts
	NWSBaseURL            string
	OpenMeteoBaseURL      string
	ForecastCacheMinutes  int
	CalibrationWindowDays int
	MinCityStdDevSamples  int
	EligibilityMinSamples int
	EligibilityBoundedF   float64
	EligibilityBoundedC   float64
	EligibilityUnboundedF float64
	EligibilityUnboundedC float64

	// Calibration
	CalBlocksMinN   int
	CalConfirmsMinN int

	// Observer
	PollIntervalMinutes int
	FastPollSeconds     int
	ActiveHoursStart    int
	ActiveHoursEnd      int
	CoolingHour         int
	DynamicPeakHour     bool
	PeakHourBuffer      int
	PeakHourMin         int
	PeakHourMax         int
	PeakHourMinSamples  int
	WULeadMaxLocalHour  int
	WULeadMinGapF       float64
	WULeadMinGapC       float64

	// Guaranteed entry
	GWEnabled               bool
	GWMinMarginCents        float64
	GWMaxAsk                float64
	GWMinAsk                float64
	GWMaxBankrollPct        float64
	GWRequireDualConfirm    bool
	GWNearThresholdBufferF  float64
	GWNearThresholdBufferC  float64
	GWMinGapF               float64
	GWMinGapC               float64
	GWDualStationMinGapF    float64
	GWDualStationMinGapC    float64

	// Platforms
	PolymarketEnabled bool
	PolymarketBaseURL string
	PolymarketClobURL string
	KalshiEnabled     bool
	KalshiBaseURL     string
	KalshiFeeMult     float64
	KalshiWSURL       string
	WSFeedEnabled     bool

	// Observation providers
	MetarBaseURL         string
	WUEnabled            bool
	WUBaseURL            string
	WUAPIKey             string
	WUFastTimeoutSeconds int
	WUSlowDelaySeconds   float64

	// Resolver
	ResolverIntervalMinutes int
	BackfillBatchSize       int
	IEMBaseURL              string

	// Alerts
	TelegramToken  string
	TelegramChatID int64

	// Storage
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		ScanIntervalMinutes: getIntOrDefault("SCAN_INTERVAL_MINUTES", 5),
		TradingMode:         TradingMode(getEnvOrDefault("TRADING_MODE", "paper")),
		ScanDaysAhead:       getIntOrDefault("SCAN_DAYS_AHEAD", 2),

		MinEdgePct:           getFloat64OrDefault("MIN_EDGE_PCT", 10),
		MaxSpread:            getFloat64OrDefault("MAX_SPREAD", 0.15),
		MaxSpreadPct:         getFloat64OrDefault("MAX_SPREAD_PCT", 0.50),
		MinAskPrice:          getFloat64OrDefault("MIN_ASK_PRICE", 0.10),
		MinNoAskPrice:        getFloat64OrDefault("MIN_NO_ASK_PRICE", 0.05),
		MinHoursToResolution: getFloat64OrDefault("MIN_HOURS_TO_RESOLUTION", 8),
		MaxModelMarketRatio:  getFloat64OrDefault("MAX_MODEL_MARKET_RATIO", 3.0),

		KellyFraction:       getFloat64OrDefault("KELLY_FRACTION", 0.5),
		YesBankroll:         getFloat64OrDefault("YES_BANKROLL", 1000),
		NoBankroll:          getFloat64OrDefault("NO_BANKROLL", 1000),
		NoMaxPerDate:        getFloat64OrDefault("NO_MAX_PER_DATE", 200),
		MaxBankrollPct:      getFloat64OrDefault("MAX_BANKROLL_PCT", 0.20),
		MinBet:              getFloat64OrDefault("MIN_BET", 10),
		HardRejectVolumePct: getFloat64OrDefault("HARD_REJECT_VOLUME_PCT", 75),
		WarnVolumePct:       getFloat64OrDefault("WARN_VOLUME_PCT", 50),
		MaxVolumePct:        getFloat64OrDefault("MAX_VOLUME_PCT", 0),

		EvaluatorMode:     getEnvOrDefault("EVALUATOR_MODE", "log_only"),
		ActiveSignals:     getListOrDefault("ACTIVE_SIGNALS", []string{"guaranteed_loss", "guaranteed_win"}),
		TakeProfitTrigger: getFloat64OrDefault("TAKE_PROFIT_TRIGGER_BID", 0.50),

		NWSBaseURL:            getEnvOrDefault("NWS_API_URL", "https://api.weather.gov"),
		OpenMeteoBaseURL:      getEnvOrDefault("OPENMETEO_API_URL", "https://api.open-meteo.com"),
		ForecastCacheMinutes:  getIntOrDefault("FORECAST_CACHE_MINUTES", 15),
		CalibrationWindowDays: getIntOrDefault("CALIBRATION_WINDOW_DAYS", 21),
		MinCityStdDevSamples:  getIntOrDefault("MIN_CITY_STDDEV_SAMPLES", 10),
		EligibilityMinSamples: getIntOrDefault("CITY_ELIGIBILITY_MIN_SAMPLES", 5),
		EligibilityBoundedF:   getFloat64OrDefault("CITY_ELIGIBILITY_BOUNDED_MAE_F", 2.5),
		EligibilityBoundedC:   getFloat64OrDefault("CITY_ELIGIBILITY_BOUNDED_MAE_C", 1.5),
		EligibilityUnboundedF: getFloat64OrDefault("CITY_ELIGIBILITY_UNBOUNDED_MAE_F", 4.0),
		EligibilityUnboundedC: getFloat64OrDefault("CITY_ELIGIBILITY_UNBOUNDED_MAE_C", 2.0),

		CalBlocksMinN:   getIntOrDefault("CAL_BLOCKS_MIN_N", 25),
		CalConfirmsMinN: getIntOrDefault("CAL_CONFIRMS_MIN_N", 50),

		PollIntervalMinutes: getIntOrDefault("POLL_INTERVAL_MINUTES", 10),
		FastPollSeconds:     getIntOrDefault("FAST_POLL_SECONDS", 20),
		ActiveHoursStart:    getIntOrDefault("ACTIVE_HOURS_START", 6),
		ActiveHoursEnd:      getIntOrDefault("ACTIVE_HOURS_END", 23),
		CoolingHour:         getIntOrDefault("COOLING_HOUR", 17),
		DynamicPeakHour:     getBoolOrDefault("DYNAMIC_PEAK_HOUR", true),
		PeakHourBuffer:      getIntOrDefault("PEAK_HOUR_BUFFER", 2),
		PeakHourMin:         getIntOrDefault("PEAK_HOUR_MIN", 14),
		PeakHourMax:         getIntOrDefault("PEAK_HOUR_MAX", 20),
		PeakHourMinSamples:  getIntOrDefault("PEAK_HOUR_MIN_SAMPLES", 3),
		WULeadMaxLocalHour:  getIntOrDefault("WU_LEAD_MAX_LOCAL_HOUR", 12),
		WULeadMinGapF:       getFloat64OrDefault("WU_LEAD_MIN_GAP_F", 2.5),
		WULeadMinGapC:       getFloat64OrDefault("WU_LEAD_MIN_GAP_C", 1.5),

		GWEnabled:              getBoolOrDefault("GUARANTEED_ENTRY_ENABLED", true),
		GWMinMarginCents:       getFloat64OrDefault("GW_MIN_MARGIN_CENTS", 5),
		GWMaxAsk:               getFloat64OrDefault("GW_MAX_ASK", 0.97),
		GWMinAsk:               getFloat64OrDefault("GW_MIN_ASK", 0.30),
		GWMaxBankrollPct:       getFloat64OrDefault("GW_MAX_BANKROLL_PCT", 0.15),
		GWRequireDualConfirm:   getBoolOrDefault("GW_REQUIRE_DUAL_CONFIRMATION", true),
		GWNearThresholdBufferF: getFloat64OrDefault("GW_NEAR_THRESHOLD_BUFFER_F", 1.0),
		GWNearThresholdBufferC: getFloat64OrDefault("GW_NEAR_THRESHOLD_BUFFER_C", 0.5),
		GWMinGapF:              getFloat64OrDefault("GW_MIN_GAP_F", 0.5),
		GWMinGapC:              getFloat64OrDefault("GW_MIN_GAP_C", 0.5),
		GWDualStationMinGapF:   getFloat64OrDefault("GW_DUAL_STATION_MIN_GAP_F", 1.5),
		GWDualStationMinGapC:   getFloat64OrDefault("GW_DUAL_STATION_MIN_GAP_C", 0.8),

		PolymarketEnabled: getBoolOrDefault("POLYMARKET_ENABLED", true),
		PolymarketBaseURL: getEnvOrDefault("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		PolymarketClobURL: getEnvOrDefault("POLYMARKET_CLOB_API_URL", "https://clob.polymarket.com"),
		KalshiEnabled:     getBoolOrDefault("KALSHI_ENABLED", true),
		KalshiBaseURL:     getEnvOrDefault("KALSHI_API_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		KalshiFeeMult:     getFloat64OrDefault("KALSHI_FEE_MULTIPLIER", 0.07),
		KalshiWSURL:       getEnvOrDefault("KALSHI_WS_URL", "wss://api.elections.kalshi.com/trade-api/ws/v2"),
		WSFeedEnabled:     getBoolOrDefault("WS_FEED_ENABLED", false),

		MetarBaseURL:         getEnvOrDefault("METAR_API_URL", "https://aviationweather.gov/api/data"),
		WUEnabled:            getBoolOrDefault("WU_ENABLED", true),
		WUBaseURL:            getEnvOrDefault("WU_API_URL", "https://api.weather.com"),
		WUAPIKey:             os.Getenv("WU_API_KEY"),
		WUFastTimeoutSeconds: getIntOrDefault("WU_FAST_TIMEOUT_SECONDS", 3),
		WUSlowDelaySeconds:   getFloat64OrDefault("WU_SLOW_DELAY_SECONDS", 2.5),

		ResolverIntervalMinutes: getIntOrDefault("RESOLVER_INTERVAL_MINUTES", 1),
		BackfillBatchSize:       getIntOrDefault("BACKFILL_BATCH_SIZE", 200),
		IEMBaseURL:              getEnvOrDefault("IEM_API_URL", "https://mesonet.agron.iastate.edu"),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: getInt64OrDefault("TELEGRAM_CHAT_ID", 0),

		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "weatheredge"),
		PostgresPass: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "weatheredge"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid. Live mode must be
// explicit; a typo never silently defaults to live.
func (c *Config) Validate() error {
	switch c.TradingMode {
	case ModePaper, ModeShadow, ModeLive:
	default:
		return fmt.Errorf("TRADING_MODE must be paper, shadow, or live, got %q", c.TradingMode)
	}

	if c.TradingMode == ModeLive && os.Getenv("TRADING_MODE") != "live" {
		return fmt.Errorf("live mode must be set explicitly via TRADING_MODE=live")
	}

	if c.EvaluatorMode != "log_only" && c.EvaluatorMode != "active" {
		return fmt.Errorf("EVALUATOR_MODE must be 'log_only' or 'active', got %q", c.EvaluatorMode)
	}

	if c.ScanIntervalMinutes <= 0 {
		return fmt.Errorf("SCAN_INTERVAL_MINUTES must be positive, got %d", c.ScanIntervalMinutes)
	}

	if c.MinEdgePct < 0 || c.MinEdgePct > 100 {
		return fmt.Errorf("MIN_EDGE_PCT must be in [0,100], got %f", c.MinEdgePct)
	}

	if c.KellyFraction <= 0 || c.KellyFraction > 1 {
		return fmt.Errorf("KELLY_FRACTION must be in (0,1], got %f", c.KellyFraction)
	}

	if c.YesBankroll <= 0 || c.NoBankroll <= 0 {
		return fmt.Errorf("bankrolls must be positive, got YES=%f NO=%f", c.YesBankroll, c.NoBankroll)
	}

	if c.ActiveHoursStart < 0 || c.ActiveHoursEnd > 24 || c.ActiveHoursStart >= c.ActiveHoursEnd {
		return fmt.Errorf("ACTIVE_HOURS window invalid: %d-%d", c.ActiveHoursStart, c.ActiveHoursEnd)
	}

	if c.GWMinAsk >= c.GWMaxAsk {
		return fmt.Errorf("GW_MIN_ASK %f must be below GW_MAX_ASK %f", c.GWMinAsk, c.GWMaxAsk)
	}

	if !c.PolymarketEnabled && !c.KalshiEnabled {
		return fmt.Errorf("at least one venue must be enabled")
	}

	return nil
}

// ScanInterval returns the scan cadence as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMinutes) * time.Minute
}

// FastPollInterval returns the fast observation cadence.
func (c *Config) FastPollInterval() time.Duration {
	return time.Duration(c.FastPollSeconds) * time.Second
}

// SlowPollInterval returns the slow observation cadence.
func (c *Config) SlowPollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// ResolverInterval returns the resolver cadence.
func (c *Config) ResolverInterval() time.Duration {
	return time.Duration(c.ResolverIntervalMinutes) * time.Minute
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
