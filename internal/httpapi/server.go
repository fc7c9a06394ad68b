package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fxvol/internal/accounts"
	"fxvol/internal/billing"
	"fxvol/internal/service"
)

// Dashboard is the read side the API exposes.
type Dashboard interface {
	Dashboard(ctx context.Context, email, timeframe string) (service.Report, error)
	ResetAlert(ctx context.Context, subject string) error
	SendHotAlert(ctx context.Context, email string, threshold int) (service.SendResult, error)
}

// Checkout opens hosted payment pages.
type Checkout interface {
	Create(ctx context.Context, kind billing.Kind, email string) (billing.Session, error)
}

// Options configure the listener.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Deps are the handlers' collaborators. Checkout, Webhook and Metrics may be nil.
type Deps struct {
	Dashboard Dashboard
	Accounts  accounts.Store
	Checkout  Checkout
	Webhook   http.Handler
	Metrics   http.Handler
}

// Server serves the dashboard API, the payment webhook, and metrics.
type Server struct {
	opts   Options
	deps   Deps
	mux    *http.ServeMux
	logger zerolog.Logger
}

// New wires the routes.
func New(opts Options, deps Deps, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		opts:   opts,
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger.With().Str("component", "http").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/volatility", s.handleVolatility)
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/alerts/send", s.handleSend)
	s.mux.HandleFunc("POST /api/alerts/{subject}/reset", s.handleReset)
	if s.deps.Checkout != nil {
		s.mux.HandleFunc("POST /api/checkout", s.handleCheckout)
	}
	if s.deps.Webhook != nil {
		s.mux.Handle("POST /stripe-webhook", s.deps.Webhook)
	}
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

// Handler returns the routed handler with access logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http listener started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http listener stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := s.deps.Dashboard.Dashboard(r.Context(), q.Get("account"), q.Get("timeframe"))
	if err != nil {
		if errors.Is(err, service.ErrUnknownTimeframe) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error().Err(err).Msg("dashboard evaluation failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if !strings.Contains(body.Email, "@") {
		writeError(w, http.StatusBadRequest, errors.New("a valid email is required"))
		return
	}
	acct, err := s.deps.Accounts.Register(r.Context(), body.Email)
	if err != nil {
		s.logger.Error().Err(err).Msg("register account")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	if err := s.deps.Dashboard.ResetAlert(r.Context(), subject); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("reset alert")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threshold := 0
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("threshold must be an integer"))
			return
		}
		threshold = v
	}
	res, err := s.deps.Dashboard.SendHotAlert(r.Context(), q.Get("account"), threshold)
	switch {
	case errors.Is(err, service.ErrProRequired):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, service.ErrInvalidThreshold):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.logger.Error().Err(err).Msg("manual alert failed")
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Kind  string `json:"kind"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	kind, err := billing.ParseKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if kind == billing.KindSubscription && !strings.Contains(body.Email, "@") {
		writeError(w, http.StatusBadRequest, errors.New("a valid email is required to subscribe"))
		return
	}
	sess, err := s.deps.Checkout.Create(r.Context(), kind, body.Email)
	switch {
	case errors.Is(err, billing.ErrKindUnavailable), errors.Is(err, billing.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("create checkout session")
		writeError(w, http.StatusBadGateway, errors.New("payment provider unavailable"))
	default:
		writeJSON(w, http.StatusOK, sess)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(started)).
			Msg("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
