package volatility

import (
	"errors"
	"fmt"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"
)

var (
	// ErrInsufficientData reports a series too short for the requested window.
	ErrInsufficientData = errors.New("volatility: insufficient data")
	// ErrInvalidInput reports NaN, negative, or otherwise malformed numeric input.
	ErrInvalidInput = errors.New("volatility: invalid input")
)

// PriceBar is a single OHLC observation.
type PriceBar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Sample is the derived volatility state at one bar. Undefined values are NaN.
type Sample struct {
	Time          time.Time
	Return        float64
	RollingVolPct float64
	ATR           float64
}

// Validate rejects series that are unordered or carry non-finite or negative prices.
func Validate(bars []PriceBar) error {
	for i, bar := range bars {
		for _, v := range [...]float64{bar.Open, bar.High, bar.Low, bar.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("%w: bar %d has non-finite or negative price", ErrInvalidInput, i)
			}
		}
		if bar.Close == 0 {
			return fmt.Errorf("%w: bar %d has zero close", ErrInvalidInput, i)
		}
		if i > 0 && !bar.Time.After(bars[i-1].Time) {
			return fmt.Errorf("%w: bar %d timestamp %s not after %s", ErrInvalidInput, i,
				bar.Time.UTC().Format(time.RFC3339), bars[i-1].Time.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// Compute derives one Sample per bar using window for both the rolling
// volatility and the ATR average.
func Compute(bars []PriceBar, window int) ([]Sample, error) {
	return compute(bars, window, window)
}

func compute(bars []PriceBar, volWindow, atrWindow int) ([]Sample, error) {
	if volWindow < 2 || atrWindow < 2 {
		return nil, fmt.Errorf("%w: window must be at least 2", ErrInvalidInput)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 bars, have %d", ErrInsufficientData, len(bars))
	}
	if err := Validate(bars); err != nil {
		return nil, err
	}

	n := len(bars)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	returns := make([]float64, n)
	returns[0] = math.NaN()
	for i, bar := range bars {
		highs[i], lows[i], closes[i] = bar.High, bar.Low, bar.Close
		if i > 0 {
			returns[i] = bar.Close/bars[i-1].Close - 1
		}
	}

	// talib zero-fills its lookback prefix; those slots stay NaN here.
	// Returns and true ranges both start at index 1, so a full window
	// ending at i exists once i >= window.
	volPct := nanSeries(n)
	if n > volWindow {
		// talib.StdDev is the population deviation; rescale to n-1.
		bessel := math.Sqrt(float64(volWindow) / float64(volWindow-1))
		dev := talib.StdDev(returns[1:], volWindow, 1)
		for i := volWindow; i < n; i++ {
			volPct[i] = dev[i-1] * bessel * 100
		}
	}
	atr := nanSeries(n)
	if n > atrWindow {
		avg := talib.Sma(talib.TRange(highs, lows, closes), atrWindow)
		for i := atrWindow; i < n; i++ {
			atr[i] = avg[i]
		}
	}

	samples := make([]Sample, n)
	for i := range bars {
		samples[i] = Sample{
			Time:          bars[i].Time,
			Return:        returns[i],
			RollingVolPct: volPct[i],
			ATR:           atr[i],
		}
	}
	return samples, nil
}

// Latest returns the most recent sample.
func Latest(samples []Sample) (Sample, error) {
	if len(samples) == 0 {
		return Sample{}, fmt.Errorf("%w: empty sample set", ErrInsufficientData)
	}
	return samples[len(samples)-1], nil
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
