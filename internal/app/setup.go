package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nmoreira/weatheredge/internal/executor"
	"github.com/nmoreira/weatheredge/internal/forecast"
	"github.com/nmoreira/weatheredge/internal/gwin"
	"github.com/nmoreira/weatheredge/internal/monitor"
	"github.com/nmoreira/weatheredge/internal/notify"
	"github.com/nmoreira/weatheredge/internal/observer"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/resolver"
	"github.com/nmoreira/weatheredge/internal/scanner"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/internal/venue"
	"github.com/nmoreira/weatheredge/pkg/cache"
	"github.com/nmoreira/weatheredge/pkg/config"
	"github.com/nmoreira/weatheredge/pkg/healthprobe"
	"github.com/nmoreira/weatheredge/pkg/httpserver"
	"github.com/nmoreira/weatheredge/pkg/wsfeed"
	"go.uber.org/zap"
)

// New creates a new application instance, wiring every pipeline from
// configuration. Nothing runs until Run is called.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	reg, err := registry.Default()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build registry: %w", err)
	}

	healthChecker := healthprobe.New()

	appCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	store, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	alerts, err := setupAlerts(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup alerts: %w", err)
	}

	markets := setupMarkets(cfg, logger, appCache)
	engine, gate, peaks := setupForecasts(cfg, logger, store, appCache)

	bankroll := executor.NewBankroll(cfg.YesBankroll, cfg.NoBankroll)
	exec := executor.New(&executor.Config{
		KellyFraction:       cfg.KellyFraction,
		MaxBankrollPct:      cfg.MaxBankrollPct,
		MinBet:              cfg.MinBet,
		NoMaxPerDate:        cfg.NoMaxPerDate,
		HardRejectVolumePct: cfg.HardRejectVolumePct,
		WarnVolumePct:       cfg.WarnVolumePct,
		MaxVolumePct:        cfg.MaxVolumePct,
		Storage:             store,
		Market:              markets,
		Bankroll:            bankroll,
		Logger:              logger,
	})

	scan := scanner.New(&scanner.Config{
		DaysAhead:            cfg.ScanDaysAhead,
		MinEdgePct:           cfg.MinEdgePct,
		MaxSpread:            cfg.MaxSpread,
		MaxSpreadPct:         cfg.MaxSpreadPct,
		MinAskPrice:          cfg.MinAskPrice,
		MinNoAskPrice:        cfg.MinNoAskPrice,
		MinHoursToResolution: cfg.MinHoursToResolution,
		MaxModelMarketRatio:  cfg.MaxModelMarketRatio,
		Registry:             reg,
		Markets:              markets,
		Forecasts:            engine,
		Eligibility:          gate,
		Executor:             exec,
		Storage:              store,
		Logger:               logger,
	})

	gw := gwin.New(&gwin.Config{
		Enabled:            cfg.GWEnabled,
		MinMarginCents:     cfg.GWMinMarginCents,
		MinAsk:             cfg.GWMinAsk,
		MaxAsk:             cfg.GWMaxAsk,
		MaxBankrollPct:     cfg.GWMaxBankrollPct,
		RequireDualConfirm: cfg.GWRequireDualConfirm,
		Registry:           reg,
		Markets:            markets,
		Storage:            store,
		Executor:           exec,
		Alerts:             alerts,
		Logger:             logger,
	})

	obs := setupObserver(cfg, logger, reg, markets, store, gw, alerts)

	feed := setupFeed(cfg, logger)
	mon := monitor.New(&monitor.Config{
		Mode:              cfg.EvaluatorMode,
		ActiveSignals:     cfg.ActiveSignals,
		CalConfirmsMinN:   cfg.CalConfirmsMinN,
		TakeProfitTrigger: cfg.TakeProfitTrigger,
		Registry:          reg,
		Markets:           markets,
		Forecasts:         engine,
		Storage:           store,
		Releaser:          exec,
		Feed:              monitorFeed(feed),
		Peaks:             peaks,
		Alerts:            alerts,
		Logger:            logger,
	})

	iem := resolver.NewIEMClient(cfg.IEMBaseURL, logger)
	res := resolver.New(&resolver.Config{
		BackfillLimit: cfg.BackfillBatchSize,
		Registry:      reg,
		Markets:       markets,
		Storage:       store,
		Chains:        resolver.DefaultChains(iem, store),
		Releaser:      exec,
		Alerts:        alerts,
		Logger:        logger,
	})

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Positions:     &positionReader{Postgres: store, Executor: exec},
		Events:        store,
	})

	return &App{
		cfg:           cfg,
		logger:        logger,
		registry:      reg,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		store:         store,
		markets:       markets,
		alerts:        alerts,
		forecasts:     engine,
		peaks:         peaks,
		bankroll:      bankroll,
		executor:      exec,
		scanner:       scan,
		observer:      obs,
		gw:            gw,
		monitor:       mon,
		resolver:      res,
		feed:          feed,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// positionReader joins the database's open trade rows with the executor's
// live bankroll for the positions endpoint.
type positionReader struct {
	*storage.Postgres
	*executor.Executor
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.Postgres, error) {
	store, err := storage.New(&storage.Config{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPass,
		Database: cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSL,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create postgres storage: %w", err)
	}
	err = store.EnsureSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func setupAlerts(cfg *config.Config, logger *zap.Logger) (*notify.Notifier, error) {
	sink, err := notify.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, logger)
	if err != nil {
		return nil, fmt.Errorf("create telegram sink: %w", err)
	}
	return notify.New(&notify.Config{Sink: sink, Logger: logger}), nil
}

func setupMarkets(cfg *config.Config, logger *zap.Logger, appCache cache.Cache) *venue.Adapter {
	var clients []venue.Client
	if cfg.PolymarketEnabled {
		clients = append(clients, venue.NewPolymarketClient(&venue.PolymarketConfig{
			GammaURL: cfg.PolymarketBaseURL,
			ClobURL:  cfg.PolymarketClobURL,
			Logger:   logger,
		}))
	}
	if cfg.KalshiEnabled {
		clients = append(clients, venue.NewKalshiClient(&venue.KalshiConfig{
			BaseURL: cfg.KalshiBaseURL,
			Logger:  logger,
		}))
	}
	return venue.NewAdapter(&venue.AdapterConfig{
		Clients:       clients,
		Cache:         appCache,
		CacheTTL:      cfg.ScanInterval(),
		KalshiFeeMult: cfg.KalshiFeeMult,
		Logger:        logger,
	})
}

func setupForecasts(cfg *config.Config, logger *zap.Logger, store *storage.Postgres, appCache cache.Cache) (*forecast.Engine, *forecast.EligibilityGate, *forecast.PeakHourEstimator) {
	engine := forecast.NewEngine(&forecast.EngineConfig{
		Sources: []forecast.Source{
			forecast.NewNWSSource(cfg.NWSBaseURL, logger),
			forecast.NewOpenMeteoSource(cfg.OpenMeteoBaseURL, logger),
		},
		Store:                 store,
		Cache:                 appCache,
		CacheTTL:              time.Duration(cfg.ForecastCacheMinutes) * time.Minute,
		CalibrationWindowDays: cfg.CalibrationWindowDays,
		MinStdDevSamples:      cfg.MinCityStdDevSamples,
		Logger:                logger,
	})

	gate := forecast.NewEligibilityGate(&forecast.EligibilityConfig{
		MinSamples:    cfg.EligibilityMinSamples,
		BoundedMaxF:   cfg.EligibilityBoundedF,
		BoundedMaxC:   cfg.EligibilityBoundedC,
		UnboundedMaxF: cfg.EligibilityUnboundedF,
		UnboundedMaxC: cfg.EligibilityUnboundedC,
		WindowDays:    cfg.CalibrationWindowDays,
	}, store, logger)

	peaks := forecast.NewPeakHourEstimator(&forecast.PeakHourConfig{
		Store:       store,
		WindowDays:  cfg.CalibrationWindowDays,
		Buffer:      cfg.PeakHourBuffer,
		MinHour:     cfg.PeakHourMin,
		MaxHour:     cfg.PeakHourMax,
		MinSamples:  cfg.PeakHourMinSamples,
		CoolingHour: cfg.CoolingHour,
		Logger:      logger,
	})

	return engine, gate, peaks
}

func setupObserver(cfg *config.Config, logger *zap.Logger, reg *registry.Registry, markets *venue.Adapter, store *storage.Postgres, gw *gwin.Scanner, alerts *notify.Notifier) *observer.Observer {
	var crowdFast, crowdSlow observer.CrowdSource
	if cfg.WUEnabled {
		crowdFast = observer.NewWUClient(&observer.WUClientConfig{
			BaseURL: cfg.WUBaseURL,
			APIKey:  cfg.WUAPIKey,
			Timeout: time.Duration(cfg.WUFastTimeoutSeconds) * time.Second,
		})
		crowdSlow = observer.NewWUClient(&observer.WUClientConfig{
			BaseURL:  cfg.WUBaseURL,
			APIKey:   cfg.WUAPIKey,
			Timeout:  10 * time.Second,
			MinDelay: time.Duration(cfg.WUSlowDelaySeconds * float64(time.Second)),
		})
	}

	return observer.New(&observer.Config{
		ActiveHoursStart:   cfg.ActiveHoursStart,
		ActiveHoursEnd:     cfg.ActiveHoursEnd,
		NearBufferF:        cfg.GWNearThresholdBufferF,
		NearBufferC:        cfg.GWNearThresholdBufferC,
		MinGapF:            cfg.GWMinGapF,
		MinGapC:            cfg.GWMinGapC,
		DualStationMinGapF: cfg.GWDualStationMinGapF,
		DualStationMinGapC: cfg.GWDualStationMinGapC,
		WULeadMinGapF:      cfg.WULeadMinGapF,
		WULeadMinGapC:      cfg.WULeadMinGapC,
		WULeadMaxLocalHour: cfg.WULeadMaxLocalHour,
		RepriceAsk:         cfg.GWMaxAsk,
		WUFastTimeout:      time.Duration(cfg.WUFastTimeoutSeconds) * time.Second,
		Registry:           reg,
		Markets:            markets,
		Storage:            store,
		Metar:              observer.NewMetarClient(cfg.MetarBaseURL, logger),
		CrowdFast:          crowdFast,
		CrowdSlow:          crowdSlow,
		GW:                 gw,
		Alerts:             alerts,
		Logger:             logger,
	})
}

func setupFeed(cfg *config.Config, logger *zap.Logger) *wsfeed.Feed {
	if !cfg.WSFeedEnabled || !cfg.KalshiEnabled {
		return nil
	}
	return wsfeed.New(&wsfeed.Config{
		URL:    cfg.KalshiWSURL,
		Logger: logger,
	})
}

// monitorFeed keeps the monitor's optional feed nil when the websocket is
// disabled; a typed nil pointer would defeat its nil check.
func monitorFeed(feed *wsfeed.Feed) monitor.Feed {
	if feed == nil {
		return nil
	}
	return feed
}
