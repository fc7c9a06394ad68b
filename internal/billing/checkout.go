package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"fxvol/internal/accounts"
)

var (
	// ErrUnknownKind reports a checkout kind other than subscription or donation.
	ErrUnknownKind = errors.New("unknown checkout kind")
	// ErrKindUnavailable reports a kind whose price is not configured.
	ErrKindUnavailable = errors.New("checkout kind not configured")
)

// Kind selects what a checkout session sells.
type Kind string

const (
	KindSubscription Kind = "subscription"
	KindDonation     Kind = "donation"
)

// ParseKind accepts "subscription" or "donation"; empty means subscription.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindSubscription:
		return KindSubscription, nil
	case KindDonation:
		return KindDonation, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
	}
}

// Options configure Stripe Checkout.
type Options struct {
	APIKey              string
	APIBase             string
	SubscriptionPriceID string
	DonationPriceID     string
	AppURL              string
	Timeout             time.Duration
}

// Session is the hosted checkout page a client is redirected to.
type Session struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	URL  string `json:"url"`
}

// Checkout creates Stripe Checkout sessions. Completed sessions come back
// through the webhook, which applies the Pro tier.
type Checkout struct {
	opts     Options
	sessions *checkoutsession.Client
	logger   zerolog.Logger
}

// NewCheckout builds a client with its own backend, leaving stripe's
// package-level key untouched.
func NewCheckout(opts Options, logger zerolog.Logger) (*Checkout, error) {
	if opts.APIKey == "" {
		return nil, errors.New("stripe api key is required")
	}
	if opts.SubscriptionPriceID == "" {
		return nil, errors.New("subscription price id is required")
	}
	if opts.AppURL == "" {
		return nil, errors.New("app url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger = logger.With().Str("component", "stripe_checkout").Logger()

	cfg := &stripe.BackendConfig{
		HTTPClient:    &http.Client{Timeout: timeout},
		LeveledLogger: stripeLogger{logger},
	}
	if base := strings.TrimRight(opts.APIBase, "/"); base != "" {
		cfg.URL = stripe.String(base)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	return &Checkout{
		opts:     opts,
		sessions: &checkoutsession.Client{B: backend, Key: opts.APIKey},
		logger:   logger,
	}, nil
}

// Create opens a checkout session for email.
func (c *Checkout) Create(ctx context.Context, kind Kind, email string) (Session, error) {
	mode, price := stripe.CheckoutSessionModeSubscription, c.opts.SubscriptionPriceID
	if kind == KindDonation {
		mode, price = stripe.CheckoutSessionModePayment, c.opts.DonationPriceID
	}
	if kind != KindSubscription && kind != KindDonation {
		return Session{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	if price == "" {
		return Session{}, fmt.Errorf("%w: %s", ErrKindUnavailable, kind)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(c.opts.AppURL + "?success=true"),
		CancelURL:  stripe.String(c.opts.AppURL),
	}
	params.Context = ctx
	if e := accounts.NormalizeEmail(email); e != "" {
		params.CustomerEmail = stripe.String(e)
	}

	sess, err := c.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create %s checkout session: %w", kind, err)
	}
	c.logger.Info().Str("kind", string(kind)).Str("session", sess.ID).Msg("checkout session created")
	return Session{ID: sess.ID, Kind: kind, URL: sess.URL}, nil
}

// stripeLogger routes stripe-go's leveled logs through zerolog.
type stripeLogger struct {
	logger zerolog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }
func (l stripeLogger) Infof(format string, v ...interface{})  { l.logger.Debug().Msgf(format, v...) }
func (l stripeLogger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l stripeLogger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }
