package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Recompute market calibration and print the buckets",
	Long: `Recomputes empirical win rates per (venue, range type, lead bucket,
price bucket) from resolved opportunities and prints the resulting table.
The exit evaluator reads these buckets for its calibration override.`,
	RunE: runCalibration,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(calibrationCmd)
}

func runCalibration(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	err = store.RecomputeCalibration(ctx)
	if err != nil {
		return fmt.Errorf("recompute calibration: %w", err)
	}

	counts, err := store.CalibrationCounts(ctx)
	if err != nil {
		return fmt.Errorf("read calibration: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VENUE\tRANGE\tLEAD\tPRICE\tN\tWIN RATE")
	for _, c := range counts {
		rate := 0.0
		if c.N > 0 {
			rate = float64(c.Wins) / float64(c.N)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.3f\n",
			c.Venue, c.RangeType, c.LeadTimeBucket, c.PriceBucket, c.N, rate)
	}
	return w.Flush()
}
