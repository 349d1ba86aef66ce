package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "weatheredge",
	Short: "Temperature prediction-market trading bot",
	Long: `Weatheredge trades daily-high temperature outcome markets on two
venues: a flat-fee venue that resolves on crowd weather observations and a
quadratic-fee venue that resolves on the NWS climate report.

The bot scans listed outcomes against a fused multi-source forecast, sizes
entries with fractional Kelly, watches airport and crowd observations for
guaranteed outcomes, and settles finished trades against the authoritative
daily high.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
