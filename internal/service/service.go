package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fxvol/internal/accounts"
	"fxvol/internal/alerting"
	"fxvol/internal/fetcher"
	"fxvol/internal/metrics"
	"fxvol/internal/scheduler"
	"fxvol/internal/session"
	"fxvol/internal/storage"
	"fxvol/internal/volatility"
)

var (
	// ErrUnknownTimeframe reports a timeframe name with no configured preset.
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	// ErrProRequired reports a Pro-only action requested by a Free account.
	ErrProRequired = errors.New("pro account required")
	// ErrInvalidThreshold reports a manual alert threshold outside the allowed range.
	ErrInvalidThreshold = errors.New("invalid alert threshold")
)

// Bounds and default of the manual alert threshold.
const (
	MinSendThreshold     = 50
	MaxSendThreshold     = 100
	DefaultSendThreshold = 70
)

// Options configure the evaluation pipeline.
type Options struct {
	Subjects      []string
	Timeframe     fetcher.Timeframe
	Timeframes    []fetcher.Timeframe
	Sessions      []session.Window
	Location      *time.Location
	Workers       int
	AlertsEnabled bool
	RearmOnLow    bool
	Retry         alerting.RetryOptions
	Channels      []string
	LockKey       int64
}

// Deps are the collaborators of a Service. Optional ones may be nil.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Source    fetcher.Source
	Engine    *volatility.Engine
	Accounts  accounts.Store
	Policy    *alerting.Policy
	Notifier  alerting.Notifier
	Snapshots storage.SnapshotStore
	Locker    storage.AdvisoryLocker
	Metrics   *metrics.Metrics
}

// Row is one subject's scored reading.
type Row struct {
	Subject string           `json:"subject"`
	VolPct  float64          `json:"vol_pct"`
	ATR     *float64         `json:"atr,omitempty"`
	Score   int              `json:"score"`
	Level   volatility.Level `json:"level"`
	Bars    int              `json:"bars"`
	AsOf    time.Time        `json:"as_of"`
}

// Result carries a Row together with the samples it was derived from.
type Result struct {
	Row
	Samples []volatility.Sample
}

// Report is the dashboard view of one evaluation.
type Report struct {
	Generated time.Time                     `json:"generated"`
	Timeframe string                        `json:"timeframe"`
	Tier      accounts.Tier                 `json:"tier"`
	Locked    bool                          `json:"locked"`
	Hot       *Row                          `json:"hot,omitempty"`
	Rows      []Row                         `json:"rows"`
	Sessions  map[string]map[string]float64 `json:"sessions,omitempty"`
}

// Service orchestrates fetching, scoring, gating, and alerting.
type Service struct {
	opts Options
	deps Deps

	logger zerolog.Logger
}

// New constructs the pipeline service.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("price source is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("volatility engine is required")
	}
	if deps.Accounts == nil {
		return nil, errors.New("account store is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
	}, nil
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.RunCycle)
}

// RunCycle evaluates every monitored subject once. Pro-only stages run only
// when at least one Pro account exists at the start of the cycle.
func (s *Service) RunCycle(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	proActive := false
	if s.opts.AlertsEnabled && s.deps.Policy != nil && s.deps.Notifier != nil {
		pro, err := s.deps.Accounts.CountByTier(ctx, accounts.TierPro)
		if err != nil {
			s.logger.Error().Err(err).Msg("read pro account count; alerts skipped this cycle")
		}
		proActive = err == nil && pro > 0
	}

	var stage func(context.Context, Result)
	if proActive {
		stage = func(ctx context.Context, r Result) {
			sessions := session.Aggregate(r.Samples, s.opts.Sessions, s.opts.Location)
			if _, err := s.alert(ctx, r.Row, sessions); err != nil {
				s.logger.Error().Err(err).Str("subject", r.Subject).Msg("alert evaluation failed")
			}
		}
	}

	results := s.evaluate(ctx, s.opts.Subjects, s.opts.Timeframe, stage)
	s.persist(ctx, bucket, results)

	if m := s.deps.Metrics; m != nil {
		m.Cycles.Inc()
		m.CycleDuration.Observe(time.Since(started).Seconds())
	}
	s.logger.Info().Time("bucket", bucket).
		Int("evaluated", len(results)).
		Int("skipped", len(s.opts.Subjects)-len(results)).
		Bool("pro_stages", proActive).
		Msg("cycle complete")
	return nil
}

// Dashboard evaluates the subjects for an interactive request. Session
// breakdowns are included only when the account is Pro at request time.
func (s *Service) Dashboard(ctx context.Context, email, timeframe string) (Report, error) {
	tf := s.opts.Timeframe
	if timeframe != "" {
		found, ok := s.lookupTimeframe(timeframe)
		if !ok {
			return Report{}, fmt.Errorf("%w %q", ErrUnknownTimeframe, timeframe)
		}
		tf = found
	}

	tier := accounts.TierFree
	if email != "" {
		t, err := s.deps.Accounts.GetTier(ctx, email)
		if err != nil {
			s.logger.Warn().Err(err).Str("email", email).Msg("tier lookup failed; treating as Free")
		} else {
			tier = t
		}
	}

	results := s.evaluate(ctx, s.opts.Subjects, tf, nil)
	report := Report{
		Generated: time.Now().UTC(),
		Timeframe: tf.Name,
		Tier:      tier,
		Locked:    tier != accounts.TierPro,
		Rows:      make([]Row, 0, len(results)),
	}
	for _, r := range results {
		report.Rows = append(report.Rows, r.Row)
	}
	if len(report.Rows) > 0 {
		hot := report.Rows[0]
		report.Hot = &hot
	}
	if tier == accounts.TierPro {
		report.Sessions = make(map[string]map[string]float64, len(results))
		for _, r := range results {
			report.Sessions[r.Subject] = session.Aggregate(r.Samples, s.opts.Sessions, s.opts.Location)
		}
	}
	return report, nil
}

// Evaluate scores the given subjects without gating or alerting.
func (s *Service) Evaluate(ctx context.Context, subjects []string) []Row {
	results := s.evaluate(ctx, subjects, s.opts.Timeframe, nil)
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, r.Row)
	}
	return rows
}

// AlertVolatility runs the alert stage for a synthetic reading; used to
// exercise alert routing without market data.
func (s *Service) AlertVolatility(ctx context.Context, subject string, volPct float64) (bool, error) {
	score, err := s.deps.Engine.Score(volPct)
	if err != nil {
		return false, err
	}
	level, err := s.deps.Engine.Classify(volPct)
	if err != nil {
		return false, err
	}
	return s.alert(ctx, Row{Subject: subject, VolPct: volPct, Score: score, Level: level, AsOf: time.Now().UTC()}, nil)
}

// SendResult describes a manual hot-subject alert request.
type SendResult struct {
	Hot       *Row `json:"hot,omitempty"`
	Threshold int  `json:"threshold"`
	Sent      bool `json:"sent"`
}

// SendHotAlert lets a Pro account push the current hottest subject to the
// notifiers when its score is at or above threshold. A zero threshold means
// DefaultSendThreshold. Manual sends bypass the edge-triggered records.
func (s *Service) SendHotAlert(ctx context.Context, email string, threshold int) (SendResult, error) {
	if threshold == 0 {
		threshold = DefaultSendThreshold
	}
	if threshold < MinSendThreshold || threshold > MaxSendThreshold {
		return SendResult{}, fmt.Errorf("%w: %d not within [%d,%d]", ErrInvalidThreshold, threshold, MinSendThreshold, MaxSendThreshold)
	}
	if s.deps.Notifier == nil {
		return SendResult{}, errors.New("alerting not configured")
	}
	if email == "" {
		return SendResult{}, ErrProRequired
	}
	tier, err := s.deps.Accounts.GetTier(ctx, email)
	if err != nil {
		return SendResult{}, fmt.Errorf("lookup tier: %w", err)
	}
	if tier != accounts.TierPro {
		return SendResult{}, ErrProRequired
	}

	res := SendResult{Threshold: threshold}
	results := s.evaluate(ctx, s.opts.Subjects, s.opts.Timeframe, nil)
	if len(results) == 0 {
		return res, nil
	}
	hot := results[0].Row
	res.Hot = &hot
	if hot.Score < threshold {
		return res, nil
	}

	note := alerting.Notification{
		Message: alerting.Message{
			Subject: hot.Subject,
			Level:   hot.Level,
			Score:   hot.Score,
			FiredAt: time.Now().UTC(),
			Text:    fmt.Sprintf("🔥 %s volatility score %d", hot.Subject, hot.Score),
		},
		VolPct:   hot.VolPct,
		Channels: s.opts.Channels,
	}
	if err := alerting.Deliver(ctx, s.deps.Notifier, note, s.opts.Retry); err != nil {
		if m := s.deps.Metrics; m != nil {
			m.DeliveryFailures.Inc()
		}
		return res, err
	}
	if m := s.deps.Metrics; m != nil {
		m.AlertsFired.WithLabelValues(hot.Subject).Inc()
	}
	s.logger.Info().Str("subject", hot.Subject).Int("score", hot.Score).Int("threshold", threshold).Msg("manual alert dispatched")
	res.Sent = true
	return res, nil
}

// ResetAlert re-arms a subject.
func (s *Service) ResetAlert(ctx context.Context, subject string) error {
	if s.deps.Policy == nil {
		return errors.New("alerting not configured")
	}
	return s.deps.Policy.Reset(ctx, subject)
}

// evaluate runs each subject's pipeline on a bounded pool. Subjects that fail
// are logged and omitted. stage, when set, runs after scoring inside the
// subject's own goroutine.
func (s *Service) evaluate(ctx context.Context, subjects []string, tf fetcher.Timeframe, stage func(context.Context, Result)) []Result {
	slots := make([]*Result, len(subjects))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, subject := range subjects {
		g.Go(func() error {
			res, err := s.evaluateSubject(ctx, subject, tf)
			if err != nil {
				s.recordOutcome(outcomeFor(err))
				s.logger.Warn().Err(err).Str("subject", subject).Msg("subject skipped this cycle")
				return nil
			}
			s.recordOutcome("ok")
			if m := s.deps.Metrics; m != nil {
				m.Score.WithLabelValues(subject).Set(float64(res.Score))
				m.VolPct.WithLabelValues(subject).Set(res.VolPct)
			}
			if stage != nil {
				stage(ctx, res)
			}
			slots[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(subjects))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Subject < results[j].Subject
	})
	return results
}

func (s *Service) evaluateSubject(ctx context.Context, subject string, tf fetcher.Timeframe) (Result, error) {
	bars, err := s.deps.Source.Fetch(ctx, subject, tf.Interval, tf.Period)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", subject, err)
	}
	samples, reading, err := s.deps.Engine.Evaluate(bars)
	if err != nil {
		return Result{}, fmt.Errorf("score %s: %w", subject, err)
	}

	row := Row{
		Subject: subject,
		VolPct:  reading.Sample.RollingVolPct,
		Score:   reading.Score,
		Level:   reading.Level,
		Bars:    len(bars),
		AsOf:    reading.Sample.Time,
	}
	if !math.IsNaN(reading.Sample.ATR) {
		atr := reading.Sample.ATR
		row.ATR = &atr
	}
	return Result{Row: row, Samples: samples}, nil
}

// alert applies the edge-triggered policy to one reading and delivers any
// resulting message. Delivery failures are logged and swallowed; the record
// stays set so the unchanged condition is not re-sent.
func (s *Service) alert(ctx context.Context, row Row, sessions map[string]float64) (bool, error) {
	if s.deps.Policy == nil || s.deps.Notifier == nil {
		return false, errors.New("alerting not configured")
	}

	if row.Level == volatility.LevelLow && s.opts.RearmOnLow {
		if err := s.deps.Policy.Reset(ctx, row.Subject); err != nil {
			return false, err
		}
		return false, nil
	}

	msg, err := s.deps.Policy.Evaluate(ctx, row.Subject, row.Level, row.Score)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	if m := s.deps.Metrics; m != nil {
		m.AlertsFired.WithLabelValues(row.Subject).Inc()
	}

	note := alerting.Notification{
		Message:  *msg,
		VolPct:   row.VolPct,
		Sessions: sessions,
		Channels: s.opts.Channels,
	}
	if err := alerting.Deliver(ctx, s.deps.Notifier, note, s.opts.Retry); err != nil {
		if m := s.deps.Metrics; m != nil {
			m.DeliveryFailures.Inc()
		}
		s.logger.Error().Err(err).Str("subject", row.Subject).Msg("failed to dispatch alert")
		return true, nil
	}
	s.logger.Info().Str("subject", row.Subject).Int("score", row.Score).Str("level", row.Level.String()).Msg("alert dispatched")
	return true, nil
}

func (s *Service) persist(ctx context.Context, bucket time.Time, results []Result) {
	if s.deps.Snapshots == nil || len(results) == 0 {
		return
	}
	snaps := make([]storage.Snapshot, 0, len(results))
	for _, r := range results {
		snaps = append(snaps, storage.Snapshot{
			Bucket:  bucket,
			Subject: r.Subject,
			VolPct:  r.VolPct,
			ATR:     r.ATR,
			Score:   r.Score,
			Level:   r.Level,
			Bars:    r.Bars,
		})
	}
	if err := s.deps.Snapshots.UpsertSnapshots(ctx, snaps); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist snapshots")
	}
}

func (s *Service) lookupTimeframe(name string) (fetcher.Timeframe, bool) {
	for _, tf := range s.opts.Timeframes {
		if strings.EqualFold(tf.Name, name) {
			return tf, true
		}
	}
	if strings.EqualFold(name, s.opts.Timeframe.Name) {
		return s.opts.Timeframe, true
	}
	return fetcher.Timeframe{}, false
}

func (s *Service) recordOutcome(outcome string) {
	if m := s.deps.Metrics; m != nil {
		m.SubjectOutcomes.WithLabelValues(outcome).Inc()
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, volatility.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, volatility.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
