package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fxvol/internal/volatility"
)

// ErrDataUnavailable reports an empty, partial, rate-limited, or failed upstream response.
var ErrDataUnavailable = errors.New("fetcher: data unavailable")

// Interval is a supported bar sampling.
type Interval string

const (
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
	Interval3mo Interval = "3mo"
)

// ParseInterval validates s against the supported samplings.
func ParseInterval(s string) (Interval, error) {
	switch iv := Interval(strings.ToLower(strings.TrimSpace(s))); iv {
	case Interval15m, Interval1h, Interval1d, Interval1wk, Interval1mo, Interval3mo:
		return iv, nil
	}
	return "", fmt.Errorf("unsupported interval %q", s)
}

// Duration approximates the bar width.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1wk:
		return 7 * 24 * time.Hour
	case Interval1mo:
		return 30 * 24 * time.Hour
	case Interval3mo:
		return 91 * 24 * time.Hour
	}
	return 0
}

// Timeframe is a named interval/period preset.
type Timeframe struct {
	Name     string   `mapstructure:"name" json:"name"`
	Interval Interval `mapstructure:"interval" json:"interval"`
	Period   string   `mapstructure:"period" json:"period"`
}

// DefaultTimeframes lists the dashboard presets.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Name: "hourly", Interval: Interval1h, Period: "60d"},
		{Name: "daily", Interval: Interval1d, Period: "2y"},
		{Name: "weekly", Interval: Interval1wk, Period: "5y"},
		{Name: "quarterly", Interval: Interval3mo, Period: "3y"},
	}
}

// Source supplies ordered price bars for a symbol.
type Source interface {
	Fetch(ctx context.Context, symbol string, interval Interval, period string) ([]volatility.PriceBar, error)
}

// PeriodStart resolves a lookback such as "60d", "2wk", "3mo" or "5y" relative to now.
func PeriodStart(now time.Time, period string) (time.Time, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	units := []struct {
		suffix string
		apply  func(n int) time.Time
	}{
		{"wk", func(n int) time.Time { return now.AddDate(0, 0, -7*n) }},
		{"mo", func(n int) time.Time { return now.AddDate(0, -n, 0) }},
		{"d", func(n int) time.Time { return now.AddDate(0, 0, -n) }},
		{"y", func(n int) time.Time { return now.AddDate(-n, 0, 0) }},
	}
	for _, u := range units {
		if !strings.HasSuffix(p, u.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(p, u.suffix))
		if err != nil || n <= 0 {
			return time.Time{}, fmt.Errorf("invalid period %q", period)
		}
		return u.apply(n), nil
	}
	return time.Time{}, fmt.Errorf("invalid period %q", period)
}

// finalize enforces the boundary contract: non-empty, ordered, finite bars.
func finalize(source, symbol string, bars []volatility.PriceBar) ([]volatility.PriceBar, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s returned no rows for %s", ErrDataUnavailable, source, symbol)
	}
	if err := volatility.Validate(bars); err != nil {
		return nil, fmt.Errorf("%w: %s returned malformed rows for %s: %w", ErrDataUnavailable, source, symbol, err)
	}
	return bars, nil
}

func parseHTTPError(source string, status int, payload []byte) error {
	var apiErr struct {
		Error        any    `json:"error"`
		ErrorMessage string `json:"errorMessage"`
		Message      string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.ErrorMessage != "":
			msg = apiErr.ErrorMessage
		case apiErr.Message != "":
			msg = apiErr.Message
		case apiErr.Error != nil:
			msg = fmt.Sprint(apiErr.Error)
		}
	}
	if msg == "" && len(payload) > 0 {
		msg = strings.TrimSpace(string(payload))
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("%w: %s status %d: %s", ErrDataUnavailable, source, status, msg)
}

func pairParts(symbol string) (string, string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok && base != "" && quote != "" {
			return base, quote, true
		}
	}
	return "", "", false
}
