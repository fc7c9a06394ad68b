package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxvol/internal/volatility"
)

func testNote() Notification {
	return Notification{
		Message: Message{
			Subject: "EUR/USD",
			Level:   volatility.LevelHigh,
			Score:   100,
			FiredAt: time.Now(),
			Text:    "🚨 EUR/USD volatility spike | Level High | Score 100",
		},
		VolPct: 4.0,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), testNote()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "EUR/USD")
	assert.Contains(t, received["text"], "Score 100")
	assert.Contains(t, received["text"], "Vol: 4.00%")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), testNote())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	assert.Error(t, notifier.Notify(context.Background(), testNote()))
}

type flakyNotifier struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyNotifier) Notify(context.Context, Notification) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("transport down")
	}
	return nil
}

func TestDeliverRetries(t *testing.T) {
	n := &flakyNotifier{failures: 2}
	err := Deliver(context.Background(), n, testNote(), RetryOptions{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, int32(3), n.calls.Load())
}

func TestDeliverGivesUp(t *testing.T) {
	n := &flakyNotifier{failures: 10}
	err := Deliver(context.Background(), n, testNote(), RetryOptions{MaxAttempts: 2, Backoff: time.Millisecond})
	require.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, err.Error(), "transport down")
	assert.Equal(t, int32(2), n.calls.Load())
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &flakyNotifier{}
	bad := &flakyNotifier{failures: 1}
	err := Fanout{ok, bad}.Notify(context.Background(), testNote())
	require.Error(t, err)
	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(1), bad.calls.Load())
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
