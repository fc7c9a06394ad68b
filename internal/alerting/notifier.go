package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrDelivery reports that a notification could not be delivered.
var ErrDelivery = errors.New("alerting: delivery failed")

// Notification wraps an alert message with routing context.
type Notification struct {
	Message
	VolPct   float64
	Sessions map[string]float64
	Channels []string
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderNotification(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Str("subject", note.Subject).
		Str("level", note.Level.String()).
		Int("score", note.Score).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes alerts to the log; used when no transport is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert text.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Str("subject", note.Subject).Int("score", note.Score).Msg(note.Text)
	return nil
}

// Fanout sends to every notifier and joins their errors.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RetryOptions bound delivery attempts.
type RetryOptions struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Deliver tries n up to MaxAttempts times with a fixed backoff. The returned
// error wraps ErrDelivery together with the last transport error.
func Deliver(ctx context.Context, n Notifier, note Notification, opts RetryOptions) error {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if last = n.Notify(ctx, note); last == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(opts.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w after %d attempts: %w", ErrDelivery, attempt, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDelivery, attempts, last)
}

func renderNotification(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(note.Text)
	builder.WriteString("\n")
	if note.VolPct > 0 {
		builder.WriteString(fmt.Sprintf("Vol: %.2f%%\n", note.VolPct))
	}
	if len(note.Sessions) > 0 {
		names := make([]string, 0, len(note.Sessions))
		for name := range note.Sessions {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s %.2f%%", name, note.Sessions[name]))
		}
		builder.WriteString("Sessions: " + strings.Join(parts, ", ") + "\n")
	}
	builder.WriteString(fmt.Sprintf("Fired: %s UTC", note.FiredAt.UTC().Format(time.RFC3339)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("\nChannels: %s", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
)
