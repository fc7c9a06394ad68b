package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxvol/internal/fetcher"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: fxvol-test\n"))
	require.NoError(t, err)

	assert.Equal(t, "fxvol-test", cfg.App.Name)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"EUR/USD", "GBP/USD", "USD/JPY"}, cfg.Market.Subjects)
	assert.Equal(t, 20, cfg.Volatility.Window)
	assert.Equal(t, 14, cfg.Volatility.ATRWindow)
	assert.Equal(t, 0.2, cfg.Volatility.ScoreFloor)
	assert.Equal(t, 3.0, cfg.Volatility.ScoreCeiling)
	assert.Equal(t, 80, cfg.Alerting.ScoreThreshold)
	assert.Len(t, cfg.Sessions.Windows, 4)

	tf, err := cfg.Timeframe("Hourly")
	require.NoError(t, err)
	assert.Equal(t, fetcher.Interval1h, tf.Interval)
	assert.Equal(t, "60d", tf.Period)
}

func TestLoadOverridesFromFileAndEnv(t *testing.T) {
	t.Setenv("FXVOL_ALERTING_SCORE_THRESHOLD", "65")
	path := writeConfig(t, `
scheduler:
  interval: 5m
market:
  subjects: [EUR/JPY, AAPL]
sessions:
  windows:
    - name: Asia
      start_hour: 22
      end_hour: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"EUR/JPY", "AAPL"}, cfg.Market.Subjects)
	assert.Equal(t, 65, cfg.Alerting.ScoreThreshold)
	require.Len(t, cfg.Sessions.Windows, 1)
	assert.Equal(t, 22, cfg.Sessions.Windows[0].StartHour)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]string{
		"provider":     "market:\n  provider: fxcm\n",
		"oanda key":    "market:\n  provider: oanda\n",
		"thresholds":   "volatility:\n  score_floor: 3\n  score_ceiling: 1\n",
		"telegram":     "alerting:\n  telegram:\n    enabled: true\n",
		"record store": "alerting:\n  record_store: postgres\n",
		"webhook":      "webhook:\n  enabled: true\n",
		"timeframe":    "market:\n  timeframe: minutely\n",
		"session":      "sessions:\n  windows:\n    - name: X\n      start_hour: 3\n      end_hour: 3\n",
		"timezone":     "sessions:\n  timezone: Mars/Olympus\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	assert.Equal(t, 100, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 7, cfg.ResolveMaxPoints(7))
}

func TestLoadSecretsFromEnvOnly(t *testing.T) {
	t.Setenv("FXVOL_WEBHOOK_STRIPE_SECRET", "whsec_env")
	t.Setenv("FXVOL_DATABASE_DSN", "postgres://fxvol@localhost/fxvol")
	t.Setenv("FXVOL_MARKET_POLYGON_API_KEY", "poly-env")
	t.Setenv("FXVOL_ALERTING_TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("FXVOL_ALERTING_TELEGRAM_CHAT_ID", "42")
	t.Setenv("FXVOL_REDIS_PASSWORD", "redis-pw")
	path := writeConfig(t, `
webhook:
  enabled: true
market:
  provider: polygon
alerting:
  telegram:
    enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "whsec_env", cfg.Webhook.StripeSecret)
	assert.Equal(t, "postgres://fxvol@localhost/fxvol", cfg.Database.DSN)
	assert.Equal(t, "poly-env", cfg.Market.Polygon.APIKey)
	assert.Equal(t, "tg-token", cfg.Alerting.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Alerting.Telegram.ChatID)
	assert.Equal(t, "redis-pw", cfg.Redis.Password)
}

func TestCheckoutRequiresKeyAndPrice(t *testing.T) {
	_, err := Load(writeConfig(t, "checkout:\n  enabled: true\n  subscription_price_id: price_sub\n"))
	require.ErrorContains(t, err, "checkout.api_key")

	t.Setenv("FXVOL_CHECKOUT_API_KEY", "sk_env")
	_, err = Load(writeConfig(t, "checkout:\n  enabled: true\n"))
	require.ErrorContains(t, err, "checkout.subscription_price_id")

	cfg, err := Load(writeConfig(t, "checkout:\n  enabled: true\n  subscription_price_id: price_sub\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk_env", cfg.Checkout.APIKey)
	assert.Equal(t, "http://localhost:8080", cfg.Checkout.AppURL)
}
