package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	rmodels "github.com/polygon-io/client-go/rest/models"
	"github.com/rs/zerolog"

	"fxvol/internal/volatility"
)

// PolygonOptions parameterise the Polygon aggregates source.
type PolygonOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Polygon fetches aggregate bars through the Polygon.io REST client.
type Polygon struct {
	opts   PolygonOptions
	logger zerolog.Logger
	rest   *polygonrest.Client
	now    func() time.Time
}

// NewPolygon constructs a Polygon source.
func NewPolygon(opts PolygonOptions, logger zerolog.Logger) *Polygon {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rest := polygonrest.NewWithClient(opts.APIKey, &http.Client{Timeout: timeout})
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		// every sub-client shares one resty client
		rest.AggsClient.HTTP.SetBaseURL(base)
	}
	return &Polygon{
		opts:   opts,
		logger: logger.With().Str("component", "polygon_fetcher").Logger(),
		rest:   rest,
		now:    func() time.Time { return time.Now().UTC() },
	}
}
// PolygonTicker maps "EUR/USD" to "C:EURUSD"; equities pass through.
func PolygonTicker(symbol string) string {
	if base, quote, ok := pairParts(symbol); ok {
		return "C:" + base + quote
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var polygonSpans = map[Interval]struct {
	multiplier int
	timespan   rmodels.Timespan
}{
	Interval15m: {15, rmodels.Minute},
	Interval1h:  {1, rmodels.Hour},
	Interval1d:  {1, rmodels.Day},
	Interval1wk: {1, rmodels.Week},
	Interval1mo: {1, rmodels.Month},
	Interval3mo: {1, rmodels.Quarter},
}

// Fetch implements Source.
func (p *Polygon) Fetch(ctx context.Context, symbol string, interval Interval, period string) ([]volatility.PriceBar, error) {
	if p.opts.APIKey == "" {
		return nil, errors.New("polygon api key not configured")
	}
	span, ok := polygonSpans[interval]
	if !ok {
		return nil, fmt.Errorf("polygon does not support interval %s", interval)
	}

	now := p.now()
	from, err := PeriodStart(now, period)
	if err != nil {
		return nil, err
	}

	ticker := PolygonTicker(symbol)
	limit := 50000
	order := rmodels.Asc
	adjusted := true
	params := &rmodels.ListAggsParams{
		Ticker:     ticker,
		Multiplier: span.multiplier,
		Timespan:   span.timespan,
		From:       rmodels.Millis(from),
		To:         rmodels.Millis(now),
		Limit:      &limit,
		Order:      &order,
		Adjusted:   &adjusted,
	}

	// The iterator follows next_url across pages.
	var bars []volatility.PriceBar
	iter := p.rest.ListAggs(ctx, params)
	for iter.Next() {
		agg := iter.Item()
		bars = append(bars, volatility.PriceBar{
			Time:  time.Time(agg.Timestamp).UTC(),
			Open:  agg.Open,
			High:  agg.High,
			Low:   agg.Low,
			Close: agg.Close,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, polygonError(err)
	}

	return finalize("polygon", ticker, bars)
}

func polygonError(err error) error {
	var apiErr *rmodels.ErrorResponse
	if errors.As(err, &apiErr) {
		msg := apiErr.ErrorMessage
		if msg == "" {
			msg = apiErr.Error()
		}
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("%w: polygon status %d: %s", ErrDataUnavailable, apiErr.StatusCode, msg)
	}
	return fmt.Errorf("%w: polygon request: %w", ErrDataUnavailable, err)
}

var _ Source = (*Polygon)(nil)
