// Package webhook receives call events pushed by the voice platform.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/callsim/internal/event"
	"github.com/sweeney/callsim/internal/metrics"
	"github.com/sweeney/callsim/internal/normalize"
)

const (
	DefaultPath            = "/webhook"
	DefaultSignatureHeader = "x-vapi-signature"
	DefaultMaxBodyBytes    = 1 << 20

	// Wildcard registers a handler for every event type.
	Wildcard = "*"
)

// HandlerFunc reacts to one event after it has been applied.
type HandlerFunc func(ctx context.Context, evt event.Event) error

// Ingester applies a decoded event. *normalize.Pipeline satisfies it.
type Ingester interface {
	Ingest(evt event.Event) (normalize.Action, bool)
}

// Config controls the ingress endpoint.
type Config struct {
	Path            string
	Secret          string
	SignatureHeader string
	MaxBodyBytes    int64
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Server authenticates, decodes and applies webhook deliveries.
type Server struct {
	cfg      Config
	ingester Ingester
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// Option configures a Server.
type Option func(*Server)

// WithIngester applies every accepted event, usually to the registry.
func WithIngester(i Ingester) Option {
	return func(s *Server) { s.ingester = i }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithClock(c func() time.Time) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a Server.
func New(cfg Config, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    time.Now,
		handlers: make(map[string][]HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the path deliveries are accepted on.
func (s *Server) Path() string {
	return s.cfg.Path
}

// On registers h for eventType, or for every type with Wildcard.
func (s *Server) On(eventType string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], h)
}

// ServeHTTP routes the standalone ingress: POST on the webhook path,
// GET /health, and 404 for everything else.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == s.cfg.Path && r.Method == http.MethodPost:
		s.HandleWebhook(w, r)
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		s.HandleHealth(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	}
}

// Register mounts the webhook and health routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+s.cfg.Path, s.HandleWebhook)
	mux.HandleFunc("GET /health", s.HandleHealth)
}

// HandleHealth answers liveness probes.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.clock().UTC().Format(time.RFC3339),
	})
}

// HandleWebhook processes one delivery. Fan-out to push subscribers
// happens through registry listeners and never blocks the response.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	delivery := uuid.NewString()
	logger := s.logger.With("delivery", delivery)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.RecordRejection("too_large")
			logger.Warn("webhook body too large", "limit", tooLarge.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		s.metrics.RecordRejection("read")
		logger.Error("reading webhook body", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	if s.cfg.Secret != "" {
		if err := VerifySignature(s.cfg.Secret, r.Header.Get(s.cfg.SignatureHeader), body); err != nil {
			s.metrics.RecordRejection("signature")
			logger.Warn("rejected webhook", "err", err, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
			return
		}
	}

	evt, err := event.Decode(body)
	if err != nil {
		s.metrics.RecordRejection("malformed")
		logger.Error("decoding webhook", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	s.metrics.RecordEvent(evt.Type)
	logger.Debug("webhook received", "type", evt.Type, "call_id", evt.CallID())

	if s.ingester != nil {
		s.ingester.Ingest(evt)
	}
	s.dispatch(r.Context(), logger, evt)

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, evt event.Event) {
	s.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(s.handlers[evt.Type])+len(s.handlers[Wildcard]))
	handlers = append(handlers, s.handlers[evt.Type]...)
	if evt.Type != Wildcard {
		handlers = append(handlers, s.handlers[Wildcard]...)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		if err := runHandler(ctx, h, evt); err != nil {
			logger.Error("webhook handler failed", "type", evt.Type, "call_id", evt.CallID(), "err", err)
		}
	}
}

func runHandler(ctx context.Context, h HandlerFunc, evt event.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(ctx, evt)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
