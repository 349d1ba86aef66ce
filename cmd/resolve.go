package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/nmoreira/weatheredge/internal/executor"
	"github.com/nmoreira/weatheredge/internal/notify"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/resolver"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/internal/venue"
	"github.com/nmoreira/weatheredge/pkg/cache"
	"github.com/nmoreira/weatheredge/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run one resolver pass and exit",
	Long: `Settles every past-due open trade against the authoritative daily
high, backfills unresolved opportunity rows, and recomputes market
calibration. Useful after downtime or for cron-style deployments.`,
	RunE: runResolve,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()

	reg, err := registry.Default()
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

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
		return fmt.Errorf("create postgres storage: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	appCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}

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
	markets := venue.NewAdapter(&venue.AdapterConfig{
		Clients:       clients,
		Cache:         appCache,
		CacheTTL:      cfg.ScanInterval(),
		KalshiFeeMult: cfg.KalshiFeeMult,
		Logger:        logger,
	})

	sink, err := notify.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, logger)
	if err != nil {
		return fmt.Errorf("create telegram sink: %w", err)
	}
	alerts := notify.New(&notify.Config{Sink: sink, Logger: logger})

	// A one-shot pass has no live bankroll to credit; a fresh one absorbs
	// the releases and is discarded.
	bankroll := executor.NewBankroll(cfg.YesBankroll, cfg.NoBankroll)

	iem := resolver.NewIEMClient(cfg.IEMBaseURL, logger)
	res := resolver.New(&resolver.Config{
		BackfillLimit: cfg.BackfillBatchSize,
		Registry:      reg,
		Markets:       markets,
		Storage:       store,
		Chains:        resolver.DefaultChains(iem, store),
		Releaser:      bankroll,
		Alerts:        alerts,
		Logger:        logger,
	})

	err = res.Tick(ctx)
	if err != nil {
		return fmt.Errorf("resolver pass: %w", err)
	}
	alerts.Flush(ctx)
	return nil
}
