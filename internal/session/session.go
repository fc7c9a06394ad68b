package session

import (
	"fmt"
	"math"
	"time"

	"fxvol/internal/volatility"
)

// Window is a named hour-of-day range, half-open as [StartHour, EndHour).
// A window with StartHour > EndHour wraps past midnight.
type Window struct {
	Name      string `mapstructure:"name" json:"name"`
	StartHour int    `mapstructure:"start_hour" json:"start_hour"`
	EndHour   int    `mapstructure:"end_hour" json:"end_hour"`
}

// DefaultWindows are the major FX trading sessions in UTC.
func DefaultWindows() []Window {
	return []Window{
		{Name: "Sydney", StartHour: 21, EndHour: 6},
		{Name: "Tokyo", StartHour: 0, EndHour: 9},
		{Name: "London", StartHour: 7, EndHour: 16},
		{Name: "New York", StartHour: 13, EndHour: 22},
	}
}

// Validate rejects out-of-range hours and empty windows.
func (w Window) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("session window name is required")
	}
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return fmt.Errorf("session %q: hours must be within [0,24)", w.Name)
	}
	if w.StartHour == w.EndHour {
		return fmt.Errorf("session %q: start_hour equals end_hour", w.Name)
	}
	return nil
}

// Contains reports whether hour falls within the window.
func (w Window) Contains(hour int) bool {
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// Aggregate returns the mean rolling volatility per session. Hours are read in
// loc (UTC when nil), so a multi-day series folds into the same buckets.
// Sessions with no defined samples are absent from the result.
func Aggregate(samples []volatility.Sample, windows []Window, loc *time.Location) map[string]float64 {
	if loc == nil {
		loc = time.UTC
	}

	sums := make(map[string]float64, len(windows))
	counts := make(map[string]int, len(windows))
	for _, s := range samples {
		if math.IsNaN(s.RollingVolPct) {
			continue
		}
		hour := s.Time.In(loc).Hour()
		for _, w := range windows {
			if w.Contains(hour) {
				sums[w.Name] += s.RollingVolPct
				counts[w.Name]++
			}
		}
	}

	out := make(map[string]float64, len(counts))
	for name, n := range counts {
		out[name] = sums[name] / float64(n)
	}
	return out
}
