package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ModePaper, cfg.TradingMode)
	assert.Equal(t, "log_only", cfg.EvaluatorMode)
	assert.Equal(t, []string{"guaranteed_loss", "guaranteed_win"}, cfg.ActiveSignals)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval())
	assert.Equal(t, 20*time.Second, cfg.FastPollInterval())
	assert.Equal(t, time.Minute, cfg.ResolverInterval())
	assert.Equal(t, 0.5, cfg.KellyFraction)
	assert.Equal(t, 200, cfg.BackfillBatchSize)
	assert.True(t, cfg.PolymarketEnabled)
	assert.True(t, cfg.KalshiEnabled)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("SCAN_INTERVAL_MINUTES", "2")
	t.Setenv("ACTIVE_SIGNALS", "guaranteed_loss, edge_gone ,bid_3x_entry")
	t.Setenv("KALSHI_FEE_MULTIPLIER", "0.035")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.ScanInterval())
	assert.Equal(t, []string{"guaranteed_loss", "edge_gone", "bid_3x_entry"}, cfg.ActiveSignals)
	assert.Equal(t, 0.035, cfg.KalshiFeeMult)
}

func TestLoadFromEnv_BadValueFallsBackToDefault(t *testing.T) {
	t.Setenv("SCAN_DAYS_AHEAD", "soon")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ScanDaysAhead)
}

func TestValidate_RejectsUnknownTradingMode(t *testing.T) {
	t.Setenv("TRADING_MODE", "yolo")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRADING_MODE")
}

func TestValidate_LiveModeMustBeExplicit(t *testing.T) {
	t.Setenv("TRADING_MODE", "live")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ModeLive, cfg.TradingMode)
}

func TestValidate_RejectsBadEvaluatorMode(t *testing.T) {
	t.Setenv("EVALUATOR_MODE", "aggressive")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EVALUATOR_MODE")
}

func TestValidate_RequiresAVenue(t *testing.T) {
	t.Setenv("POLYMARKET_ENABLED", "false")
	t.Setenv("KALSHI_ENABLED", "false")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue")
}

func TestValidate_RejectsInvertedActiveHours(t *testing.T) {
	t.Setenv("ACTIVE_HOURS_START", "22")
	t.Setenv("ACTIVE_HOURS_END", "6")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACTIVE_HOURS")
}

func TestNewLogger_RespectsConfiguredLevel(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	cfg.LogLevel = "debug"

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	cfg := &Config{LogLevel: "chatty"}

	_, err := cfg.NewLogger()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}
