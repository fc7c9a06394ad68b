package volatility

import (
	"fmt"
	"math"
	"strings"
)

// Defaults used when an Engine is built from a zero Config.
const (
	DefaultWindow          = 20
	DefaultATRWindow       = 14
	DefaultScoreFloor      = 0.2
	DefaultScoreCeiling    = 3.0
	DefaultMediumThreshold = 1.0
	DefaultHighThreshold   = 2.0
)

// Level buckets rolling volatility.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelMedium:
		return "Medium"
	case LevelHigh:
		return "High"
	default:
		return "Low"
	}
}

// MarshalText renders the level name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel accepts level names case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	}
	return LevelLow, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, s)
}

// Config holds the engine's named constants.
type Config struct {
	Window          int     `mapstructure:"window"`
	ATRWindow       int     `mapstructure:"atr_window"`
	ScoreFloor      float64 `mapstructure:"score_floor"`
	ScoreCeiling    float64 `mapstructure:"score_ceiling"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`
	HighThreshold   float64 `mapstructure:"high_threshold"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Window:          DefaultWindow,
		ATRWindow:       DefaultATRWindow,
		ScoreFloor:      DefaultScoreFloor,
		ScoreCeiling:    DefaultScoreCeiling,
		MediumThreshold: DefaultMediumThreshold,
		HighThreshold:   DefaultHighThreshold,
	}
}

// Validate checks window sizes and threshold ordering.
func (c Config) Validate() error {
	if c.Window < 2 {
		return fmt.Errorf("volatility.window must be at least 2")
	}
	if c.ATRWindow < 2 {
		return fmt.Errorf("volatility.atr_window must be at least 2")
	}
	if c.ScoreCeiling <= c.ScoreFloor {
		return fmt.Errorf("volatility.score_ceiling must exceed volatility.score_floor")
	}
	if c.HighThreshold < c.MediumThreshold {
		return fmt.Errorf("volatility.high_threshold cannot be below volatility.medium_threshold")
	}
	return nil
}

// Engine applies a Config to price series.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine, rejecting inconsistent configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Compute derives samples using the configured volatility and ATR windows.
func (e *Engine) Compute(bars []PriceBar) ([]Sample, error) {
	return compute(bars, e.cfg.Window, e.cfg.ATRWindow)
}

// Score maps volPct linearly from [floor, ceiling] onto [0, 100], saturating.
func (e *Engine) Score(volPct float64) (int, error) {
	if math.IsNaN(volPct) || math.IsInf(volPct, 0) || volPct < 0 {
		return 0, fmt.Errorf("%w: cannot score volatility %v", ErrInvalidInput, volPct)
	}
	scaled := 100 * (volPct - e.cfg.ScoreFloor) / (e.cfg.ScoreCeiling - e.cfg.ScoreFloor)
	return int(math.Round(math.Min(100, math.Max(0, scaled)))), nil
}

// Classify buckets volPct by the medium/high thresholds.
func (e *Engine) Classify(volPct float64) (Level, error) {
	if math.IsNaN(volPct) || math.IsInf(volPct, 0) || volPct < 0 {
		return LevelLow, fmt.Errorf("%w: cannot classify volatility %v", ErrInvalidInput, volPct)
	}
	switch {
	case volPct > e.cfg.HighThreshold:
		return LevelHigh, nil
	case volPct > e.cfg.MediumThreshold:
		return LevelMedium, nil
	default:
		return LevelLow, nil
	}
}

// Reading is the scored view of the latest sample in a series.
type Reading struct {
	Sample Sample
	Score  int
	Level  Level
}

// Evaluate computes samples and scores the most recent one.
func (e *Engine) Evaluate(bars []PriceBar) ([]Sample, Reading, error) {
	samples, err := e.Compute(bars)
	if err != nil {
		return nil, Reading{}, err
	}
	latest, err := Latest(samples)
	if err != nil {
		return nil, Reading{}, err
	}
	score, err := e.Score(latest.RollingVolPct)
	if err != nil {
		return nil, Reading{}, err
	}
	level, err := e.Classify(latest.RollingVolPct)
	if err != nil {
		return nil, Reading{}, err
	}
	return samples, Reading{Sample: latest, Score: score, Level: level}, nil
}
