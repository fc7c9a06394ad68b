package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxvol/internal/accounts"
	"fxvol/internal/billing"
	"fxvol/internal/metrics"
	"fxvol/internal/service"
	"fxvol/internal/volatility"
)

type stubDashboard struct {
	accounts *accounts.MemoryStore
	reset    []string
}

func (s *stubDashboard) Dashboard(ctx context.Context, email, timeframe string) (service.Report, error) {
	if timeframe == "bogus" {
		return service.Report{}, fmt.Errorf("%w %q", service.ErrUnknownTimeframe, timeframe)
	}
	tier, err := s.accounts.GetTier(ctx, email)
	if err != nil {
		return service.Report{}, err
	}
	rep := service.Report{
		Timeframe: "hourly",
		Tier:      tier,
		Locked:    tier != accounts.TierPro,
		Rows:      []service.Row{{Subject: "EUR/USD", VolPct: 2.5, Score: 83, Level: volatility.LevelHigh}},
	}
	if tier == accounts.TierPro {
		rep.Sessions = map[string]map[string]float64{"EUR/USD": {"London": 2.1}}
	}
	return rep, nil
}

func (s *stubDashboard) ResetAlert(_ context.Context, subject string) error {
	s.reset = append(s.reset, subject)
	return nil
}

func (s *stubDashboard) SendHotAlert(ctx context.Context, email string, threshold int) (service.SendResult, error) {
	if threshold != 0 && (threshold < service.MinSendThreshold || threshold > service.MaxSendThreshold) {
		return service.SendResult{}, service.ErrInvalidThreshold
	}
	tier, err := s.accounts.GetTier(ctx, email)
	if err != nil {
		return service.SendResult{}, err
	}
	if email == "" || tier != accounts.TierPro {
		return service.SendResult{}, service.ErrProRequired
	}
	hot := service.Row{Subject: "EUR/USD", Score: 83}
	return service.SendResult{Hot: &hot, Threshold: threshold, Sent: hot.Score >= threshold}, nil
}

type stubCheckout struct {
	calls []billing.Kind
}

func (c *stubCheckout) Create(_ context.Context, kind billing.Kind, email string) (billing.Session, error) {
	if kind == billing.KindDonation {
		return billing.Session{}, fmt.Errorf("%w: %s", billing.ErrKindUnavailable, kind)
	}
	c.calls = append(c.calls, kind)
	return billing.Session{ID: "cs_1", Kind: kind, URL: "https://checkout.stripe.com/c/pay/cs_1?prefill=" + email}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubDashboard) {
	t.Helper()
	ts, dash, _ := newTestServerWithCheckout(t)
	return ts, dash
}

func newTestServerWithCheckout(t *testing.T) (*httptest.Server, *stubDashboard, *stubCheckout) {
	t.Helper()
	store := accounts.NewMemoryStore()
	dash := &stubDashboard{accounts: store}
	checkout := &stubCheckout{}
	srv := New(Options{}, Deps{
		Dashboard: dash,
		Accounts:  store,
		Checkout:  checkout,
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}),
		Metrics: metrics.New().Handler(),
	}, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, dash, checkout
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVolatilityLockedForFree(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/volatility?account=nobody@example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["locked"])
	assert.Equal(t, "Free", body["tier"])
	assert.NotContains(t, body, "sessions")
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "High", rows[0].(map[string]any)["level"])
}

func TestVolatilityUnlockedForPro(t *testing.T) {
	ts, dash := newTestServer(t)
	require.NoError(t, dash.accounts.SetTier(context.Background(), "pro@example.com", accounts.TierPro))

	resp, err := http.Get(ts.URL + "/api/volatility?account=pro@example.com")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["locked"])
	assert.Contains(t, body, "sessions")
}

func TestVolatilityUnknownTimeframe(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/volatility?timeframe=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginRegistersFreeAccount(t *testing.T) {
	ts, dash := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(`{"email":"New@Example.com"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var acct accounts.Account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acct))
	assert.Equal(t, "new@example.com", acct.Email)
	assert.Equal(t, accounts.TierFree, acct.Tier)

	count, err := dash.accounts.CountByTier(context.Background(), accounts.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	bad, err := http.Post(ts.URL+"/api/login", "application/json", strings.NewReader(`{"email":"nope"}`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestResetAlert(t *testing.T) {
	ts, dash := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/alerts/XAUUSD/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"XAUUSD"}, dash.reset)
}

func TestWebhookAndMetricsMounted(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/stripe-webhook", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/stripe-webhook")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestSendHotAlertGatedByTier(t *testing.T) {
	ts, dash := newTestServer(t)
	require.NoError(t, dash.accounts.SetTier(context.Background(), "pro@example.com", accounts.TierPro))

	resp, err := http.Post(ts.URL+"/api/alerts/send?account=free@example.com&threshold=70", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/alerts/send?account=pro@example.com&threshold=abc", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/alerts/send?account=pro@example.com&threshold=20", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/alerts/send?account=pro@example.com&threshold=80", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res service.SendResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Sent)
	assert.Equal(t, 80, res.Threshold)
}

func TestCheckout(t *testing.T) {
	ts, _, checkout := newTestServerWithCheckout(t)

	resp, err := http.Post(ts.URL+"/api/checkout", "application/json", strings.NewReader(`{"email":"a@example.com"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess billing.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, billing.KindSubscription, sess.Kind)

	for body, want := range map[string]int{
		`{"kind":"subscription"}`:                     http.StatusBadRequest,
		`{"email":"a@example.com","kind":"gift"}`:     http.StatusBadRequest,
		`{"email":"a@example.com","kind":"donation"}`: http.StatusBadRequest,
		`not json`:                                    http.StatusBadRequest,
	} {
		resp, err := http.Post(ts.URL+"/api/checkout", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, body)
	}
	assert.Equal(t, []billing.Kind{billing.KindSubscription}, checkout.calls)
}

func TestCheckoutNotMountedWithoutProvider(t *testing.T) {
	srv := New(Options{}, Deps{Dashboard: &stubDashboard{}, Accounts: accounts.NewMemoryStore()}, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/checkout", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0"}, Deps{Dashboard: &stubDashboard{}, Accounts: accounts.NewMemoryStore()}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.ListenAndServe(ctx))
}
