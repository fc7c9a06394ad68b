package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fxvol/internal/cache"
	"fxvol/internal/fetcher"
	"fxvol/internal/logging"
	"fxvol/internal/session"
	"fxvol/internal/version"
	"fxvol/internal/volatility"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Logging    logging.Config    `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      cache.Config      `mapstructure:"redis"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Market     MarketConfig      `mapstructure:"market"`
	Volatility volatility.Config `mapstructure:"volatility"`
	Sessions   SessionsConfig    `mapstructure:"sessions"`
	Alerting   AlertingConfig    `mapstructure:"alerting"`
	Webhook    WebhookConfig     `mapstructure:"webhook"`
	Checkout   CheckoutConfig    `mapstructure:"checkout"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Export     ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
	Workers         int           `mapstructure:"workers"`
}

// MarketConfig selects the price source and monitored subjects.
type MarketConfig struct {
	Provider   string              `mapstructure:"provider"`
	Subjects   []string            `mapstructure:"subjects"`
	Timeframe  string              `mapstructure:"timeframe"`
	Timeframes []fetcher.Timeframe `mapstructure:"timeframes"`
	Timeout    time.Duration       `mapstructure:"request_timeout"`
	UserAgent  string              `mapstructure:"user_agent"`
	Yahoo      ProviderConfig      `mapstructure:"yahoo"`
	OANDA      ProviderConfig      `mapstructure:"oanda"`
	Polygon    ProviderConfig      `mapstructure:"polygon"`
}

// ProviderConfig holds endpoint and credential for one market-data provider.
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// SessionsConfig lists the trading sessions used for breakdowns.
type SessionsConfig struct {
	Timezone string           `mapstructure:"timezone"`
	Windows  []session.Window `mapstructure:"windows"`
}

// AlertingConfig defines alert policy and routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Mode           string         `mapstructure:"mode"`
	ScoreThreshold int            `mapstructure:"score_threshold"`
	RecordStore    string         `mapstructure:"record_store"`
	RearmOnLow     bool           `mapstructure:"rearm_on_low"`
	MaxAttempts    int            `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration  `mapstructure:"retry_backoff"`
	Channels       []string       `mapstructure:"channels"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebhookConfig covers payment-provider event intake.
type WebhookConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	StripeSecret string        `mapstructure:"stripe_secret"`
	Tolerance    time.Duration `mapstructure:"tolerance"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// CheckoutConfig configures Stripe Checkout sessions for upgrades and donations.
type CheckoutConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	APIKey              string        `mapstructure:"api_key"`
	APIBase             string        `mapstructure:"api_base"`
	SubscriptionPriceID string        `mapstructure:"subscription_price_id"`
	DonationPriceID     string        `mapstructure:"donation_price_id"`
	AppURL              string        `mapstructure:"app_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FXVOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindSecrets(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// secretKeys have no default, so AutomaticEnv alone would never surface
// them to Unmarshal.
var secretKeys = []string{
	"database.dsn",
	"redis.password",
	"market.oanda.api_key",
	"market.polygon.api_key",
	"alerting.telegram.bot_token",
	"alerting.telegram.chat_id",
	"webhook.stripe_secret",
	"checkout.api_key",
}

func bindSecrets(v *viper.Viper) error {
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fxvol")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.key_prefix", "fxvol")
	v.SetDefault("redis.bar_cache_ttl", "60s")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66787631))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.cycle_timeout", "2m")
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("market.provider", "yahoo")
	v.SetDefault("market.subjects", []string{"EUR/USD", "GBP/USD", "USD/JPY"})
	v.SetDefault("market.timeframe", "hourly")
	v.SetDefault("market.timeframes", timeframeDefaults())
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.user_agent", version.UserAgent())
	v.SetDefault("market.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market.oanda.base_url", "https://api-fxpractice.oanda.com")
	v.SetDefault("market.polygon.base_url", "https://api.polygon.io")

	v.SetDefault("volatility.window", volatility.DefaultWindow)
	v.SetDefault("volatility.atr_window", volatility.DefaultATRWindow)
	v.SetDefault("volatility.score_floor", volatility.DefaultScoreFloor)
	v.SetDefault("volatility.score_ceiling", volatility.DefaultScoreCeiling)
	v.SetDefault("volatility.medium_threshold", volatility.DefaultMediumThreshold)
	v.SetDefault("volatility.high_threshold", volatility.DefaultHighThreshold)

	v.SetDefault("sessions.timezone", "UTC")
	v.SetDefault("sessions.windows", windowDefaults())

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.mode", "score")
	v.SetDefault("alerting.score_threshold", 80)
	v.SetDefault("alerting.record_store", "memory")
	v.SetDefault("alerting.rearm_on_low", true)
	v.SetDefault("alerting.max_attempts", 3)
	v.SetDefault("alerting.retry_backoff", "2s")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.tolerance", "5m")
	v.SetDefault("webhook.max_body_bytes", int64(65536))

	v.SetDefault("checkout.enabled", false)
	v.SetDefault("checkout.api_base", "https://api.stripe.com")
	v.SetDefault("checkout.subscription_price_id", "")
	v.SetDefault("checkout.donation_price_id", "")
	v.SetDefault("checkout.app_url", "http://localhost:8080")
	v.SetDefault("checkout.timeout", "15s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("export.max_data_points", 10000)
}

func timeframeDefaults() []map[string]any {
	out := make([]map[string]any, 0)
	for _, tf := range fetcher.DefaultTimeframes() {
		out = append(out, map[string]any{"name": tf.Name, "interval": string(tf.Interval), "period": tf.Period})
	}
	return out
}

func windowDefaults() []map[string]any {
	out := make([]map[string]any, 0)
	for _, w := range session.DefaultWindows() {
		out = append(out, map[string]any{"name": w.Name, "start_hour": w.StartHour, "end_hour": w.EndHour})
	}
	return out
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks; any failure is fatal at startup.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if err := c.Volatility.Validate(); err != nil {
		return err
	}

	switch c.Market.Provider {
	case "yahoo":
	case "oanda":
		if c.Market.OANDA.APIKey == "" {
			return fmt.Errorf("market.oanda.api_key is required for the oanda provider")
		}
	case "polygon":
		if c.Market.Polygon.APIKey == "" {
			return fmt.Errorf("market.polygon.api_key is required for the polygon provider")
		}
	default:
		return fmt.Errorf("market.provider %q is not supported", c.Market.Provider)
	}
	if len(c.Market.Subjects) == 0 {
		return fmt.Errorf("market.subjects must list at least one symbol")
	}
	for _, tf := range c.Market.Timeframes {
		if _, err := fetcher.ParseInterval(string(tf.Interval)); err != nil {
			return fmt.Errorf("market.timeframes %q: %w", tf.Name, err)
		}
		if _, err := fetcher.PeriodStart(time.Now(), tf.Period); err != nil {
			return fmt.Errorf("market.timeframes %q: %w", tf.Name, err)
		}
	}
	if _, err := c.Timeframe(c.Market.Timeframe); err != nil {
		return err
	}

	if _, err := c.SessionLocation(); err != nil {
		return err
	}
	for _, w := range c.Sessions.Windows {
		if err := w.Validate(); err != nil {
			return err
		}
	}

	switch c.Alerting.Mode {
	case "level":
	case "score":
		if c.Alerting.ScoreThreshold < 0 || c.Alerting.ScoreThreshold > 100 {
			return fmt.Errorf("alerting.score_threshold must be within [0,100]")
		}
	default:
		return fmt.Errorf("alerting.mode must be level or score")
	}
	switch c.Alerting.RecordStore {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("alerting.record_store=postgres requires database.dsn")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("alerting.record_store=redis requires redis.addr")
		}
	default:
		return fmt.Errorf("alerting.record_store must be memory, postgres, or redis")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}

	if c.Webhook.Enabled && c.Webhook.StripeSecret == "" {
		return fmt.Errorf("webhook.stripe_secret is required when the webhook is enabled")
	}
	if c.Checkout.Enabled {
		if c.Checkout.APIKey == "" {
			return fmt.Errorf("checkout.api_key is required when checkout is enabled")
		}
		if c.Checkout.SubscriptionPriceID == "" {
			return fmt.Errorf("checkout.subscription_price_id is required when checkout is enabled")
		}
	}
	return nil
}

// Timeframe resolves a preset by name.
func (c *Config) Timeframe(name string) (fetcher.Timeframe, error) {
	for _, tf := range c.Market.Timeframes {
		if strings.EqualFold(tf.Name, name) {
			return tf, nil
		}
	}
	return fetcher.Timeframe{}, fmt.Errorf("unknown timeframe %q", name)
}

// SessionLocation loads the configured session timezone.
func (c *Config) SessionLocation() (*time.Location, error) {
	if c.Sessions.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Sessions.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sessions.timezone: %w", err)
	}
	return loc, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
