// Package dashboard serves the JSON API used by the monitoring dashboard
// alongside the webhook ingress, push channels and metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/callsim/internal/launcher"
	"github.com/sweeney/callsim/internal/platform"
	"github.com/sweeney/callsim/internal/provision"
	"github.com/sweeney/callsim/internal/registry"
)

const maxRequestBytes = 64 << 10

// Calls is the registry view served by /api/calls.
type Calls interface {
	Get(id string) (registry.Call, bool)
	GetAll() []registry.Call
}

// Platform is the pass-through slice of the platform client.
type Platform interface {
	ListAssistants(ctx context.Context) ([]platform.Assistant, error)
	ListCalls(ctx context.Context, opts platform.ListCallsOptions) ([]platform.Call, error)
	GetCall(ctx context.Context, id string) (*platform.Call, error)
}

type Provisioner interface {
	ConfigureWebhooks(ctx context.Context, url string) (provision.Report, error)
	WebhookStatus(ctx context.Context) (provision.Report, error)
}

type Launcher interface {
	Launch(ctx context.Context, number, personaKey, lineKey string, opts launcher.Options) (launcher.Result, error)
}

// Mounter adds routes to a mux.
type Mounter interface {
	Register(mux *http.ServeMux)
}

// Deps are the components behind the routes. Platform, Provisioner and
// Launcher may be nil when no API key is configured; their routes then
// answer 500 with the configuration error.
type Deps struct {
	Calls       Calls
	Platform    Platform
	Provisioner Provisioner
	Launcher    Launcher

	Ingress Mounter
	Stream  http.Handler
	WS      http.Handler
	Metrics http.Handler
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{deps: deps, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.deps.Ingress != nil {
		s.deps.Ingress.Register(s.mux)
	}
	if s.deps.Stream != nil {
		s.mux.Handle("GET /api/stream", s.deps.Stream)
	}
	if s.deps.WS != nil {
		s.mux.Handle("GET /api/ws", s.deps.WS)
	}
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}

	s.mux.HandleFunc("GET /api/calls", s.handleListCalls)
	s.mux.HandleFunc("GET /api/calls/{id}", s.handleGetCall)
	s.mux.HandleFunc("POST /api/calls/launch", s.handleLaunch)
	s.mux.HandleFunc("GET /api/vapi/calls", s.handlePlatformCalls)
	s.mux.HandleFunc("GET /api/vapi/assistants", s.handleAssistants)
	s.mux.HandleFunc("GET /api/vapi/configure", s.handleConfigureStatus)
	s.mux.HandleFunc("POST /api/vapi/configure", s.handleConfigure)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"calls": s.deps.Calls.GetAll()})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.deps.Calls.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Call not found")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

type launchRequest struct {
	Number     string `json:"number"`
	Persona    string `json:"persona"`
	Line       string `json:"line"`
	EarliestAt string `json:"earliestAt"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Launcher == nil {
		s.upstreamError(w, "launch", platform.ErrMissingAPIKey)
		return
	}

	var req launchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	var opts launcher.Options
	if req.EarliestAt != "" {
		at, err := time.Parse(time.RFC3339, req.EarliestAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "earliestAt must be RFC 3339")
			return
		}
		opts.EarliestAt = at
	}

	res, err := s.deps.Launcher.Launch(r.Context(), req.Number, req.Persona, req.Line, opts)
	switch {
	case errors.Is(err, launcher.ErrConfig), errors.Is(err, launcher.ErrInvalidNumber):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.upstreamError(w, "launch", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handlePlatformCalls(w http.ResponseWriter, r *http.Request) {
	if s.deps.Platform == nil {
		s.upstreamError(w, "calls", platform.ErrMissingAPIKey)
		return
	}
	q := r.URL.Query()

	if id := q.Get("id"); id != "" {
		call, err := s.deps.Platform.GetCall(r.Context(), id)
		if err != nil {
			s.upstreamError(w, "calls", err)
			return
		}
		writeJSON(w, http.StatusOK, call)
		return
	}

	opts := platform.ListCallsOptions{AssistantID: q.Get("assistantId")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("createdAtGt"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "createdAtGt must be RFC 3339")
			return
		}
		opts.CreatedAfter = t
	}
	calls, err := s.deps.Platform.ListCalls(r.Context(), opts)
	if err != nil {
		s.upstreamError(w, "calls", err)
		return
	}
	if calls == nil {
		calls = []platform.Call{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

type assistantSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleAssistants(w http.ResponseWriter, r *http.Request) {
	if s.deps.Platform == nil {
		s.upstreamError(w, "assistants", platform.ErrMissingAPIKey)
		return
	}
	list, err := s.deps.Platform.ListAssistants(r.Context())
	if err != nil {
		s.upstreamError(w, "assistants", err)
		return
	}
	out := make([]assistantSummary, 0, len(list))
	for _, a := range list {
		out = append(out, assistantSummary{ID: a.ID, Name: a.Name, CreatedAt: a.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"assistants": out})
}

type webhookTarget struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Number     string `json:"number,omitempty"`
	WebhookURL string `json:"webhookUrl,omitempty"`
}

func (s *Server) handleConfigureStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Provisioner == nil {
		s.upstreamError(w, "configure", platform.ErrMissingAPIKey)
		return
	}
	report, err := s.deps.Provisioner.WebhookStatus(r.Context())
	if err != nil {
		s.upstreamError(w, "configure", err)
		return
	}

	assistants := []webhookTarget{}
	phones := []webhookTarget{}
	for _, res := range report.Results {
		t := webhookTarget{ID: res.ID, WebhookURL: res.WebhookURL}
		if res.Kind == provision.KindPhoneNumber {
			t.Number = res.Number
			phones = append(phones, t)
			continue
		}
		t.Name = res.Name
		assistants = append(assistants, t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"assistants": assistants, "phoneNumbers": phones})
}

type configureRequest struct {
	WebhookURL string `json:"webhookUrl"`
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	if s.deps.Provisioner == nil {
		s.upstreamError(w, "configure", platform.ErrMissingAPIKey)
		return
	}

	var req configureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.WebhookURL == "" {
		writeError(w, http.StatusBadRequest, "webhookUrl is required")
		return
	}

	report, err := s.deps.Provisioner.ConfigureWebhooks(r.Context(), req.WebhookURL)
	if err != nil {
		s.upstreamError(w, "configure", err)
		return
	}

	failed := report.Failed()
	msg := "Configured " + strconv.Itoa(len(report.Results)-failed) + " resources"
	if failed > 0 {
		msg += ", " + strconv.Itoa(failed) + " failed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    failed == 0,
		"message":    msg,
		"webhookUrl": report.WebhookURL,
		"results":    report.Results,
	})
}

func (s *Server) upstreamError(w http.ResponseWriter, route string, err error) {
	s.logger.Error("dashboard request failed", "route", route, "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
