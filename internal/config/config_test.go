package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFillsEveryKnob(t *testing.T) {
	c := Default()

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 10.0, c.Limits.MaxPositionSizePct)
	assert.Equal(t, 20, c.Limits.MaxDailyTrades)
	assert.Equal(t, 2000.0, c.Limits.MaxDailyLossUSD)
	assert.Equal(t, 10.0, c.Limits.MinCashReservePct)
	assert.Equal(t, 10000.0, c.Limits.LargeTradeUSD)
	assert.Equal(t, 5, c.Overseer.PollIntervalSeconds)
	assert.Equal(t, 20.0, c.Overseer.HardPullDayLossPct)
	assert.Equal(t, 30, c.Bots.LiveTickSeconds)
	assert.Equal(t, 60, c.Bots.PaperTickSeconds)
	assert.Equal(t, 300, c.Bots.ResearchTickSeconds)
	assert.Equal(t, 0.65, c.Bots.MinConfidence)
	assert.Equal(t, 5.0, c.Bots.PromotionMarginPct)
	assert.Equal(t, 10000, c.Audit.MaxEntries)
	assert.Equal(t, "file", c.Store.Driver)
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
limits:
  max_daily_trades: 5
  blacklisted_symbols: [MEME, YOLO]
bots:
  live_tick_seconds: 15
store:
  driver: file
  file_path: /tmp/bots.json
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 5, c.Limits.MaxDailyTrades)
	assert.Equal(t, []string{"MEME", "YOLO"}, c.Limits.BlacklistedSymbols)
	assert.Equal(t, 15, c.Bots.LiveTickSeconds)
	// Untouched knobs keep their defaults.
	assert.Equal(t, 60, c.Bots.PaperTickSeconds)
	assert.Equal(t, 2000.0, c.Limits.MaxDailyLossUSD)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	t.Setenv("GOVERNOR_ALERT_WEBHOOK_URL", "https://hooks.example.com/x")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/x", c.Alerts.WebhookURL)
}

func TestValidateRejectsBadStoreDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: etcd\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestValidatePostgresNeedsDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: postgres\n"), 0o644))

	os.Unsetenv("GOVERNOR_STORE_DSN")
	_, err := Load(path)
	assert.ErrorContains(t, err, "requires a DSN")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
