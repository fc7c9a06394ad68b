package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fxvol/internal/volatility"
)

const oandaMaxCount = 5000

// OANDAOptions parameterise the OANDA v3 candles source.
type OANDAOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OANDA fetches mid-price candles from the OANDA v20 REST API.
type OANDA struct {
	opts    OANDAOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewOANDA constructs an OANDA source.
func NewOANDA(opts OANDAOptions, logger zerolog.Logger) *OANDA {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-fxpractice.oanda.com"
	}
	return &OANDA{
		opts:    opts,
		logger:  logger.With().Str("component", "oanda_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var oandaGranularity = map[Interval]string{
	Interval15m: "M15",
	Interval1h:  "H1",
	Interval1d:  "D",
	Interval1wk: "W",
	Interval1mo: "M",
}

// Fetch implements Source. Incomplete candles are skipped.
func (o *OANDA) Fetch(ctx context.Context, symbol string, interval Interval, period string) ([]volatility.PriceBar, error) {
	if o.opts.APIKey == "" {
		return nil, errors.New("oanda api key not configured")
	}
	base, quote, ok := pairParts(symbol)
	if !ok {
		return nil, fmt.Errorf("oanda supports currency pairs only, got %q", symbol)
	}
	granularity, ok := oandaGranularity[interval]
	if !ok {
		return nil, fmt.Errorf("oanda does not support interval %s", interval)
	}

	now := o.now()
	start, err := PeriodStart(now, period)
	if err != nil {
		return nil, err
	}
	count := int(now.Sub(start) / interval.Duration())
	if count > oandaMaxCount {
		count = oandaMaxCount
	}
	if count < 2 {
		count = 2
	}

	instrument := base + "_" + quote
	q := url.Values{}
	q.Set("granularity", granularity)
	q.Set("count", strconv.Itoa(count))
	q.Set("price", "M")
	endpoint := fmt.Sprintf("%s/v3/instruments/%s/candles?%s", o.baseURL, instrument, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: oanda request: %w", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read oanda response: %w", ErrDataUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError("oanda", resp.StatusCode, payload)
	}

	var res oandaCandlesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("%w: decode oanda response: %w", ErrDataUnavailable, err)
	}

	bars := make([]volatility.PriceBar, 0, len(res.Candles))
	for _, c := range res.Candles {
		if !c.Complete {
			continue
		}
		bar, err := c.toBar()
		if err != nil {
			return nil, fmt.Errorf("%w: oanda candle %s: %w", ErrDataUnavailable, c.Time, err)
		}
		bars = append(bars, bar)
	}

	return finalize("oanda", instrument, bars)
}

type oandaCandlesResponse struct {
	Instrument string        `json:"instrument"`
	Candles    []oandaCandle `json:"candles"`
}

type oandaCandle struct {
	Complete bool   `json:"complete"`
	Time     string `json:"time"`
	Mid      struct {
		O string `json:"o"`
		H string `json:"h"`
		L string `json:"l"`
		C string `json:"c"`
	} `json:"mid"`
}

func (c oandaCandle) toBar() (volatility.PriceBar, error) {
	ts, err := time.Parse(time.RFC3339Nano, c.Time)
	if err != nil {
		return volatility.PriceBar{}, fmt.Errorf("parse time: %w", err)
	}
	prices := make([]float64, 4)
	for i, raw := range []string{c.Mid.O, c.Mid.H, c.Mid.L, c.Mid.C} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return volatility.PriceBar{}, fmt.Errorf("parse price %q: %w", raw, err)
		}
		prices[i] = d.InexactFloat64()
	}
	return volatility.PriceBar{Time: ts.UTC(), Open: prices[0], High: prices[1], Low: prices[2], Close: prices[3]}, nil
}

var _ Source = (*OANDA)(nil)
