package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"

	"fxvol/internal/accounts"
	"fxvol/internal/metrics"
)

// SignatureHeader carries Stripe's HMAC signature.
const SignatureHeader = "Stripe-Signature"

// ErrSignatureVerification reports a payload whose signature did not verify.
var ErrSignatureVerification = errors.New("webhook: signature verification failed")

// Options configure the Stripe handler.
type Options struct {
	Secret       string
	Tolerance    time.Duration
	MaxBodyBytes int64
}

// Outcome describes what an event did.
type Outcome struct {
	Type    string
	Email   string
	Tier    accounts.Tier
	Applied bool
}

// Handler verifies Stripe events and applies their tier changes.
type Handler struct {
	opts     Options
	accounts accounts.Store
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewHandler builds a Handler. metrics may be nil.
func NewHandler(opts Options, store accounts.Store, m *metrics.Metrics, logger zerolog.Logger) (*Handler, error) {
	if opts.Secret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if store == nil {
		return nil, errors.New("account store is required")
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = stripewebhook.DefaultTolerance
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 65536
	}
	return &Handler{
		opts:     opts,
		accounts: store,
		metrics:  m,
		logger:   logger.With().Str("component", "stripe_webhook").Logger(),
	}, nil
}

// Process verifies payload against the signature header and, only when it
// verifies, applies the event's tier change.
func (h *Handler) Process(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, h.opts.Secret, stripewebhook.ConstructEventOptions{
		Tolerance:                h.opts.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.count("unknown", "rejected")
		return Outcome{}, fmt.Errorf("%w: %w", ErrSignatureVerification, err)
	}

	out := Outcome{Type: string(event.Type)}
	tier, ok := tierFor(event.Type)
	if !ok {
		h.count(out.Type, "ignored")
		h.logger.Debug().Str("type", out.Type).Msg("event acknowledged without action")
		return out, nil
	}

	email, err := customerEmail(event)
	if err != nil {
		h.count(out.Type, "malformed")
		return out, err
	}
	out.Email = accounts.NormalizeEmail(email)
	out.Tier = tier
	if out.Email == "" {
		h.count(out.Type, "missing_email")
		h.logger.Warn().Str("type", out.Type).Str("event_id", event.ID).Msg("event carries no customer email")
		return out, nil
	}

	if err := h.accounts.SetTier(ctx, out.Email, tier); err != nil {
		h.count(out.Type, "error")
		return out, fmt.Errorf("apply %s: %w", out.Type, err)
	}
	out.Applied = true
	h.count(out.Type, "applied")
	h.logger.Info().Str("type", out.Type).Str("email", out.Email).Str("tier", string(tier)).Msg("account tier updated")
	return out, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	out, err := h.Process(r.Context(), payload, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, ErrSignatureVerification):
		h.logger.Warn().Err(err).Msg("rejected webhook")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("type", out.Type).Msg("webhook processing failed")
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"received": true, "applied": out.Applied})
}

func tierFor(t stripe.EventType) (accounts.Tier, bool) {
	switch t {
	case "checkout.session.completed", "invoice.payment_succeeded":
		return accounts.TierPro, true
	case "customer.subscription.deleted", "invoice.payment_failed":
		return accounts.TierFree, true
	default:
		return "", false
	}
}

func customerEmail(event stripe.Event) (string, error) {
	if event.Data == nil {
		return "", nil
	}
	var obj struct {
		CustomerEmail   string `json:"customer_email"`
		CustomerDetails *struct {
			Email string `json:"email"`
		} `json:"customer_details"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return "", fmt.Errorf("decode %s object: %w", event.Type, err)
	}
	if obj.CustomerDetails != nil && obj.CustomerDetails.Email != "" {
		return obj.CustomerDetails.Email, nil
	}
	return obj.CustomerEmail, nil
}

func (h *Handler) count(eventType, result string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(eventType, result).Inc()
	}
}
