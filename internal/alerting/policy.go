package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fxvol/internal/volatility"
)

// Mode selects what counts as an alerting condition.
type Mode string

const (
	// ModeLevel fires when the level reaches High.
	ModeLevel Mode = "level"
	// ModeScore fires when the score reaches the configured threshold.
	ModeScore Mode = "score"
)

// Record is the last alert fired for a subject.
type Record struct {
	Subject   string
	Condition string
	Level     volatility.Level
	Score     int
	FiredAt   time.Time
}

// RecordStore persists one Record per subject.
type RecordStore interface {
	// Swap installs rec unless the stored record for rec.Subject already has
	// the same Condition. It reports whether the record was installed. The
	// check and the write are atomic per subject.
	Swap(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, subject string) (Record, bool, error)
	Clear(ctx context.Context, subject string) error
}

// Message is an alert ready for delivery.
type Message struct {
	Subject string
	Level   volatility.Level
	Score   int
	FiredAt time.Time
	Text    string
}

// PolicyOptions configure a Policy.
type PolicyOptions struct {
	Mode           Mode
	ScoreThreshold int
}

// Policy decides whether a reading produces an alert and de-duplicates repeats.
type Policy struct {
	opts   PolicyOptions
	store  RecordStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewPolicy constructs a Policy backed by store.
func NewPolicy(opts PolicyOptions, store RecordStore, logger zerolog.Logger) (*Policy, error) {
	if store == nil {
		return nil, fmt.Errorf("alert record store is required")
	}
	switch opts.Mode {
	case ModeLevel:
	case ModeScore:
		if opts.ScoreThreshold < 0 || opts.ScoreThreshold > 100 {
			return nil, fmt.Errorf("score threshold %d outside [0,100]", opts.ScoreThreshold)
		}
	default:
		return nil, fmt.Errorf("unknown alert mode %q", opts.Mode)
	}
	return &Policy{
		opts:   opts,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "alert_policy").Logger(),
	}, nil
}

// Evaluate returns a message when the reading meets the alert condition and
// the subject's record does not already hold that condition. A nil message
// means nothing should be sent.
func (p *Policy) Evaluate(ctx context.Context, subject string, level volatility.Level, score int) (*Message, error) {
	condition, ok := p.condition(level, score)
	if !ok {
		return nil, nil
	}

	firedAt := p.now()
	installed, err := p.store.Swap(ctx, Record{
		Subject:   subject,
		Condition: condition,
		Level:     level,
		Score:     score,
		FiredAt:   firedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("swap alert record for %s: %w", subject, err)
	}
	if !installed {
		p.logger.Debug().Str("subject", subject).Str("condition", condition).Msg("alert suppressed; condition unchanged")
		return nil, nil
	}

	return &Message{
		Subject: subject,
		Level:   level,
		Score:   score,
		FiredAt: firedAt,
		Text:    renderText(subject, level, score),
	}, nil
}

// Reset clears the subject's record so the next qualifying reading fires again.
func (p *Policy) Reset(ctx context.Context, subject string) error {
	if err := p.store.Clear(ctx, subject); err != nil {
		return fmt.Errorf("clear alert record for %s: %w", subject, err)
	}
	return nil
}

func (p *Policy) condition(level volatility.Level, score int) (string, bool) {
	if p.opts.Mode == ModeScore {
		if score >= p.opts.ScoreThreshold {
			return fmt.Sprintf("score>=%d", p.opts.ScoreThreshold), true
		}
		return "", false
	}
	if level == volatility.LevelHigh {
		return "level=" + level.String(), true
	}
	return "", false
}

func renderText(subject string, level volatility.Level, score int) string {
	b := strings.Builder{}
	b.WriteString("🚨 ")
	b.WriteString(subject)
	b.WriteString(" volatility spike")
	b.WriteString(fmt.Sprintf(" | Level %s | Score %d", level, score))
	return b.String()
}
