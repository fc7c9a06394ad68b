package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fxvol/internal/accounts"
	"fxvol/internal/alerting"
	"fxvol/internal/billing"
	"fxvol/internal/cache"
	"fxvol/internal/config"
	"fxvol/internal/fetcher"
	"fxvol/internal/httpapi"
	"fxvol/internal/metrics"
	"fxvol/internal/scheduler"
	"fxvol/internal/service"
	"fxvol/internal/storage"
	"fxvol/internal/volatility"
	"fxvol/internal/webhook"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// resources are the optional backing services opened for one command.
type resources struct {
	db    *storage.Store
	redis *redis.Client
	cache *cache.Store
}

func (r *resources) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
	r.db.Close()
}

func (a *App) open(ctx context.Context) (*resources, error) {
	res := &resources{}
	if a.Config.Database.DSN != "" {
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		res.db = storage.NewStore(pool)
		if a.Config.Database.AutoMigrate {
			applied, err := storage.Migrate(ctx, pool)
			if err != nil {
				res.Close()
				return nil, err
			}
			a.Logger.Debug().Strs("files", applied).Msg("schema migrations applied")
		}
	}
	if a.Config.Redis.Addr != "" {
		client, err := cache.NewClient(ctx, a.Config.Redis)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.redis = client
		res.cache = cache.NewStore(client, a.Config.Redis.KeyPrefix)
	}
	return res, nil
}

func (a *App) newSource(res *resources) fetcher.Source {
	market := a.Config.Market
	var src fetcher.Source
	switch market.Provider {
	case "oanda":
		src = fetcher.NewOANDA(fetcher.OANDAOptions{
			BaseURL: market.OANDA.BaseURL,
			APIKey:  market.OANDA.APIKey,
			Timeout: market.Timeout,
		}, a.Logger)
	case "polygon":
		src = fetcher.NewPolygon(fetcher.PolygonOptions{
			BaseURL: market.Polygon.BaseURL,
			APIKey:  market.Polygon.APIKey,
			Timeout: market.Timeout,
		}, a.Logger)
	default:
		src = fetcher.NewYahoo(fetcher.YahooOptions{
			BaseURL:   market.Yahoo.BaseURL,
			Timeout:   market.Timeout,
			UserAgent: market.UserAgent,
		}, a.Logger)
	}
	if res.cache != nil && a.Config.Redis.BarCacheTTL > 0 {
		src = fetcher.NewCached(src, res.cache, market.Provider, a.Config.Redis.BarCacheTTL, a.Logger)
	}
	return src
}

func (a *App) newNotifier() alerting.Notifier {
	fan := alerting.Fanout{alerting.NewLogNotifier(a.Logger)}
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		fan = append(fan, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, a.Logger))
	}
	return fan
}

func (a *App) accountStore(res *resources) accounts.Store {
	if res.db != nil {
		return res.db
	}
	a.Logger.Warn().Msg("database.dsn not configured; accounts are kept in memory")
	return accounts.NewMemoryStore()
}

func (a *App) recordStore(res *resources) (alerting.RecordStore, error) {
	switch a.Config.Alerting.RecordStore {
	case "postgres":
		if res.db == nil {
			return nil, errors.New("postgres record store requires database.dsn")
		}
		return res.db, nil
	case "redis":
		if res.cache == nil {
			return nil, errors.New("redis record store requires redis.addr")
		}
		return res.cache, nil
	default:
		return alerting.NewMemoryStore(), nil
	}
}

// buildService wires the pipeline. sched and m may be nil for one-shot commands.
func (a *App) buildService(res *resources, acct accounts.Store, sched *scheduler.Scheduler, m *metrics.Metrics) (*service.Service, error) {
	cfg := a.Config
	engine, err := volatility.NewEngine(cfg.Volatility)
	if err != nil {
		return nil, err
	}
	tf, err := cfg.Timeframe(cfg.Market.Timeframe)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.SessionLocation()
	if err != nil {
		return nil, err
	}
	records, err := a.recordStore(res)
	if err != nil {
		return nil, err
	}
	policy, err := alerting.NewPolicy(alerting.PolicyOptions{
		Mode:           alerting.Mode(cfg.Alerting.Mode),
		ScoreThreshold: cfg.Alerting.ScoreThreshold,
	}, records, a.Logger)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Scheduler: sched,
		Source:    a.newSource(res),
		Engine:    engine,
		Accounts:  acct,
		Policy:    policy,
		Notifier:  a.newNotifier(),
		Metrics:   m,
	}
	if res.db != nil {
		deps.Snapshots = res.db
		deps.Locker = res.db
	}

	return service.New(service.Options{
		Subjects:      cfg.Market.Subjects,
		Timeframe:     tf,
		Timeframes:    cfg.Market.Timeframes,
		Sessions:      cfg.Sessions.Windows,
		Location:      loc,
		Workers:       cfg.Scheduler.Workers,
		AlertsEnabled: cfg.Alerting.Enabled,
		RearmOnLow:    cfg.Alerting.RearmOnLow,
		Retry: alerting.RetryOptions{
			MaxAttempts: cfg.Alerting.MaxAttempts,
			Backoff:     cfg.Alerting.RetryBackoff,
		},
		Channels: cfg.Alerting.Channels,
		LockKey:  cfg.Scheduler.AdvisoryLockKey,
	}, deps, a.Logger)
}

// RunOptions configure the run command.
type RunOptions struct {
	Once bool
}

// Run executes the long-running monitoring service and its HTTP listener.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()
	if res.db == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		CycleTimeout: a.Config.Scheduler.CycleTimeout,
	}, a.Logger)

	m := metrics.New()
	acct := a.accountStore(res)
	svc, err := a.buildService(res, acct, sched, m)
	if err != nil {
		return err
	}

	if opts.Once {
		bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
		return svc.RunCycle(ctx, bucket)
	}

	httpDeps := httpapi.Deps{Dashboard: svc, Accounts: acct, Metrics: m.Handler()}
	if a.Config.Webhook.Enabled {
		hook, err := webhook.NewHandler(webhook.Options{
			Secret:       a.Config.Webhook.StripeSecret,
			Tolerance:    a.Config.Webhook.Tolerance,
			MaxBodyBytes: a.Config.Webhook.MaxBodyBytes,
		}, acct, m, a.Logger)
		if err != nil {
			return err
		}
		httpDeps.Webhook = hook
	}
	if co := a.Config.Checkout; co.Enabled {
		checkout, err := billing.NewCheckout(billing.Options{
			APIKey:              co.APIKey,
			APIBase:             co.APIBase,
			SubscriptionPriceID: co.SubscriptionPriceID,
			DonationPriceID:     co.DonationPriceID,
			AppURL:              co.AppURL,
			Timeout:             co.Timeout,
		}, a.Logger)
		if err != nil {
			return err
		}
		httpDeps.Checkout = checkout
	}
	api := httpapi.New(httpapi.Options{
		Addr:            a.Config.HTTP.Addr,
		ReadTimeout:     a.Config.HTTP.ReadTimeout,
		WriteTimeout:    a.Config.HTTP.WriteTimeout,
		ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
	}, httpDeps, a.Logger)

	a.Logger.Info().Strs("subjects", a.Config.Market.Subjects).Str("provider", a.Config.Market.Provider).Msg("starting monitoring service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return api.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// EvaluateOptions configure a one-off evaluation.
type EvaluateOptions struct {
	Subjects  []string
	Timeframe string
	Account   string
	JSON      bool
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Subjects  []string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Subject string
}
