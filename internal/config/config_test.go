package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/internal/execution"
	"github.com/ducminhle1904/order-pipeline/internal/sizing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIKey, EnvAPISecret, EnvMode, EnvDryRun, EnvTelegram, EnvChatID} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pipeline.yaml", `
instrument_class: equity
capital: 250000
timezone: Asia/Kolkata
sizing:
  mode: atr
  per_trade_risk_pct: 0.01
guardian:
  enabled: true
  max_lot_size: 500
  stale_after: 30s
breakers:
  max_daily_loss: 7500
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, execution.ModePaper, cfg.Mode)
	assert.Equal(t, "equity", cfg.InstrumentClass)
	assert.Equal(t, sizing.ModeATR, cfg.Sizing.Mode)
	assert.Equal(t, 1.0, cfg.Sizing.MaxExposurePct, "untouched defaults survive")
	assert.Equal(t, 250000.0, cfg.Sizing.SafeEquity)
	assert.Equal(t, 250000.0, cfg.Risk.Capital)
	assert.Equal(t, "Asia/Kolkata", cfg.Risk.Timezone)

	g, err := cfg.GuardianSettings()
	require.NoError(t, err)
	assert.True(t, g.Enabled)
	assert.Equal(t, 30*time.Second, g.StaleAfter)
	assert.Equal(t, 5, g.MaxOrdersPerSecond)

	router := cfg.RouterConfig()
	assert.Equal(t, 7500.0, router.MaxDailyLoss)
	assert.Equal(t, 20.0, router.MaxDrawdownPct)
}

func TestLoad_JSON(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pipeline.json", `{
  "mode": "paper",
  "capital": 50000,
  "execution": {"slippage_bps": 2, "retry_schedule": ["100ms", "1s"]},
  "monitoring": {"publish_interval": "10s"}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.RouterConfig().SlippageBps)

	schedule, err := cfg.RetrySchedule()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, time.Second}, schedule)

	interval, err := cfg.PublishInterval()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, interval)
}

func TestLoad_EnvOverridesModeAndCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvMode, "LIVE")
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvAPISecret, "secret")
	t.Setenv(EnvTelegram, "bot-token")
	t.Setenv(EnvChatID, "42")
	path := writeFile(t, "pipeline.json", `{"capital": 1000}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, execution.ModeLive, cfg.Mode)
	require.NotNil(t, cfg.Exchange.Bybit)
	assert.Equal(t, "key", cfg.Exchange.Bybit.APIKey)
	assert.Equal(t, "secret", cfg.Exchange.Bybit.APISecret)
	assert.Equal(t, "linear", cfg.Exchange.Bybit.Category)
	assert.Equal(t, "bot-token", cfg.Monitoring.TelegramToken)
	assert.Equal(t, "42", cfg.Monitoring.TelegramChat)
}

func TestLoad_LiveWithoutCredentialsNeedsDryRun(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pipeline.json", `{"mode": "live"}`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "exchange config")

	t.Setenv(EnvDryRun, "true")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.RouterConfig().Live.DryRun)
}

func TestLoad_LotSizesAreShared(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pipeline.yaml", `
sizing:
  default_lot_size: 0.001
  lot_sizes:
    BTCUSDT: 0.001
risk:
  lot_sizes:
    SOLUSDT: 0.1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	want := map[string]float64{"BTCUSDT": 0.001, "SOLUSDT": 0.1}
	assert.Equal(t, want, cfg.Sizing.LotSizes)
	assert.Equal(t, want, cfg.Risk.LotSizes)
	assert.Equal(t, 0.001, cfg.Sizing.DefaultLotSize)
	assert.Equal(t, 0.001, cfg.Risk.DefaultLotSize)

	cfg.Sizing.LotSizes["ETHUSDT"] = 0.01
	assert.NotContains(t, cfg.Risk.LotSizes, "ETHUSDT", "sections do not share one map")
}

func TestLoad_RejectsDisagreeingLotSizes(t *testing.T) {
	cases := map[string]string{
		"symbol":  `{"sizing": {"lot_sizes": {"BTCUSDT": 0.001}}, "risk": {"lot_sizes": {"BTCUSDT": 0.01}}}`,
		"default": `{"sizing": {"default_lot_size": 0.5}, "risk": {"default_lot_size": 0.01}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeFile(t, "pipeline.json", body))
			assert.ErrorContains(t, err, "lot size")
		})
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"mode":      `{"mode": "backtest"}`,
		"capital":   `{"capital": -1}`,
		"timezone":  `{"timezone": "Mars/Olympus"}`,
		"guardian":  `{"guardian": {"stale_after": "soon"}}`,
		"retry":     `{"execution": {"retry_schedule": ["0s"]}}`,
		"class":     `{"instrument_class": " "}`,
		"breakers":  `{"breakers": {"max_drawdown_pct": -5}}`,
		"store":     `{"store": {"root": ""}}`,
		"dry run":   `{}`,
		"risk stop": `{"risk": {"stop_pct": 0}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			if name == "dry run" {
				t.Setenv(EnvDryRun, "maybe")
			}
			_, err := Load(writeFile(t, "pipeline.json", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Unsetenv(EnvAPIKey))
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := writeFile(t, ".env", "BYBIT_API_KEY=from-file\n")
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv(EnvAPIKey))
}
