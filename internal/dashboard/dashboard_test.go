package dashboard_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callsim/internal/config"
	"github.com/sweeney/callsim/internal/dashboard"
	"github.com/sweeney/callsim/internal/launcher"
	"github.com/sweeney/callsim/internal/metrics"
	"github.com/sweeney/callsim/internal/normalize"
	"github.com/sweeney/callsim/internal/platform"
	"github.com/sweeney/callsim/internal/provision"
	"github.com/sweeney/callsim/internal/registry"
	"github.com/sweeney/callsim/internal/stream"
	"github.com/sweeney/callsim/internal/webhook"
)

type fakePlatform struct {
	assistants []platform.Assistant
	calls      []platform.Call
	err        error
	lastOpts   platform.ListCallsOptions
}

func (f *fakePlatform) ListAssistants(context.Context) ([]platform.Assistant, error) {
	return f.assistants, f.err
}

func (f *fakePlatform) ListCalls(_ context.Context, opts platform.ListCallsOptions) ([]platform.Call, error) {
	f.lastOpts = opts
	return f.calls, f.err
}

func (f *fakePlatform) GetCall(_ context.Context, id string) (*platform.Call, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &platform.Call{ID: id, Status: "ended"}, nil
}

func (f *fakePlatform) CreateCall(_ context.Context, req platform.CreateCallRequest) (*platform.Call, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &platform.Call{ID: "new-call", Status: "queued"}, nil
}

func (f *fakePlatform) UpdateAssistant(_ context.Context, id string, _ map[string]any) (*platform.Assistant, error) {
	return &platform.Assistant{ID: id}, nil
}

func (f *fakePlatform) ListPhoneNumbers(context.Context) ([]platform.PhoneNumber, error) {
	return []platform.PhoneNumber{{ID: "p1", Number: "+16592167227", Server: &platform.Server{URL: "https://x/webhook"}}}, f.err
}

func (f *fakePlatform) UpdatePhoneNumber(_ context.Context, id string, _ map[string]any) (*platform.PhoneNumber, error) {
	return nil, errors.New("phone locked")
}

type stack struct {
	reg  *registry.Registry
	plat *fakePlatform
	srv  *httptest.Server
}

func newStack(t *testing.T, secret string) *stack {
	t.Helper()
	reg := registry.New()
	plat := &fakePlatform{
		assistants: []platform.Assistant{{ID: "a1", Name: "Joey", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}
	dir := config.NewDirectory(config.Default())
	m := metrics.New("test")

	ingress := webhook.New(webhook.Config{Secret: secret},
		webhook.WithIngester(normalize.NewPipeline(normalize.New(normalize.WithPersonas(dir)), reg, nil)),
		webhook.WithMetrics(m),
	)
	hub := stream.NewHub(reg, stream.WithHeartbeat(time.Hour))

	d := dashboard.New(dashboard.Deps{
		Calls:       reg,
		Platform:    plat,
		Provisioner: provision.New(plat, dir, nil),
		Launcher:    launcher.New(plat, dir, nil),
		Ingress:     ingress,
		Stream:      http.HandlerFunc(hub.ServeSSE),
		WS:          http.HandlerFunc(hub.ServeWS),
		Metrics:     m.Handler(),
	}, nil)

	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return &stack{reg: reg, plat: plat, srv: srv}
}

func (s *stack) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	b, _ := io.ReadAll(resp.Body)
	if len(b) > 0 && b[0] == '{' {
		require.NoError(t, json.Unmarshal(b, &out), string(b))
	}
	return resp.StatusCode, out
}

func postFixture(t *testing.T, url, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "fixtures", name))
	require.NoError(t, err)
	resp, err := http.Post(url+"/webhook", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookToCallsAPI(t *testing.T) {
	s := newStack(t, "")

	postFixture(t, s.srv.URL, "call-started.json")
	postFixture(t, s.srv.URL, "conversation-update.json")
	postFixture(t, s.srv.URL, "end-of-call-report.json")

	status, body := s.do(t, http.MethodGet, "/api/calls", "")
	require.Equal(t, http.StatusOK, status)
	calls := body["calls"].([]any)
	require.Len(t, calls, 1)

	status, call := s.do(t, http.MethodGet, "/api/calls/c1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ended", call["status"])
	assert.Equal(t, "+15551234567", call["customerNumber"])
	assert.Equal(t, "Joey (Optimized)", call["assistantName"])
	assert.Equal(t, "customer-ended-call", call["endedReason"])
	assert.Len(t, call["messages"], 1)
	analysis := call["analysis"].(map[string]any)
	assert.Equal(t, 8.7, analysis["overall_score"])
	breakdown := analysis["structuredData"].(map[string]any)
	assert.Equal(t, 0.42, breakdown["talk_ratio"], "rubric fields outside the typed view reach the API")

	status, body = s.do(t, http.MethodGet, "/api/calls/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Call not found", body["error"])
}

func TestMistypedBreakdownReachesCallsAPI(t *testing.T) {
	s := newStack(t, "")
	postFixture(t, s.srv.URL, "call-started.json")

	report := `{"message":{"type":"end-of-call-report","call":{"id":"c1"},` +
		`"analysis":{"structuredData":{"overall_score":"9","meeting_qualified":"yes","rapport":"warm"}}}}`
	status, _ := s.do(t, http.MethodPost, "/webhook", report)
	require.Equal(t, http.StatusOK, status)

	status, call := s.do(t, http.MethodGet, "/api/calls/c1", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, call, "analysis")
	analysis := call["analysis"].(map[string]any)
	assert.Equal(t, 9.0, analysis["overall_score"])
	breakdown := analysis["structuredData"].(map[string]any)
	assert.Equal(t, "9", breakdown["overall_score"])
	assert.Equal(t, "yes", breakdown["meeting_qualified"])
	assert.Equal(t, "warm", breakdown["rapport"])

	c, ok := s.reg.Get("c1")
	require.True(t, ok)
	assert.True(t, c.Analysis.Evaluation.MeetingQualified)
}

func TestStreamThroughDashboard(t *testing.T) {
	s := newStack(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	readData := func() map[string]any {
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				var m map[string]any
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
				return m
			}
		}
	}

	assert.Equal(t, "init", readData()["type"])
	postFixture(t, s.srv.URL, "call-started.json")
	assert.Equal(t, "call-updated", readData()["type"])
	postFixture(t, s.srv.URL, "end-of-call-report.json")
	assert.Equal(t, "call-ended", readData()["type"])
}

func TestIngressRejectsBadSignatureThroughDashboard(t *testing.T) {
	s := newStack(t, "shh")

	status, body := s.do(t, http.MethodPost, "/webhook", `{"message":{"type":"call-started","call":{"id":"x"}}}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid signature", body["error"])
	assert.Equal(t, 0, s.reg.Len())
}

func TestUnknownRoutes(t *testing.T) {
	s := newStack(t, "")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/webhook"},
		{http.MethodGet, "/nope"},
		{http.MethodDelete, "/api/calls"},
	} {
		status, body := s.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, status, tc.method+" "+tc.path)
		assert.Equal(t, "Not found", body["error"])
	}

	status, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsRoute(t *testing.T) {
	s := newStack(t, "")
	postFixture(t, s.srv.URL, "call-started.json")

	resp, err := http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), `test_webhook_events_total{type="call-started"} 1`)
}

func TestPlatformCalls(t *testing.T) {
	s := newStack(t, "")

	status, body := s.do(t, http.MethodGet, "/api/vapi/calls?assistantId=a1&limit=5", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["calls"])
	assert.Equal(t, platform.ListCallsOptions{AssistantID: "a1", Limit: 5}, s.plat.lastOpts)

	status, _ = s.do(t, http.MethodGet, "/api/vapi/calls?createdAtGt=2026-04-30T08:00:00Z", "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, s.plat.lastOpts.CreatedAfter.Equal(time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC)))

	status, body = s.do(t, http.MethodGet, "/api/vapi/calls?createdAtGt=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "createdAtGt must be RFC 3339", body["error"])

	status, body = s.do(t, http.MethodGet, "/api/vapi/calls?id=c9", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "c9", body["id"])

	status, _ = s.do(t, http.MethodGet, "/api/vapi/calls?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, status)

	s.plat.err = errors.New("upstream down")
	status, body = s.do(t, http.MethodGet, "/api/vapi/calls", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "upstream down", body["error"])
}

func TestAssistants(t *testing.T) {
	s := newStack(t, "")
	status, body := s.do(t, http.MethodGet, "/api/vapi/assistants", "")
	require.Equal(t, http.StatusOK, status)
	list := body["assistants"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Joey", list[0].(map[string]any)["name"])
}

func TestConfigure(t *testing.T) {
	s := newStack(t, "")

	status, body := s.do(t, http.MethodGet, "/api/vapi/configure", "")
	require.Equal(t, http.StatusOK, status)
	phones := body["phoneNumbers"].([]any)
	require.Len(t, phones, 1)
	assert.Equal(t, "+16592167227", phones[0].(map[string]any)["number"])
	assert.Equal(t, "https://x/webhook", phones[0].(map[string]any)["webhookUrl"])

	status, body = s.do(t, http.MethodPost, "/api/vapi/configure", `{"webhookUrl":"https://hooks.example/webhook"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Configured 1 resources, 1 failed", body["message"])
	assert.Len(t, body["results"], 2)

	status, body = s.do(t, http.MethodPost, "/api/vapi/configure", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "webhookUrl is required", body["error"])
}

func TestLaunch(t *testing.T) {
	s := newStack(t, "")

	status, body := s.do(t, http.MethodPost, "/api/calls/launch", `{"number":"5551234567"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "new-call", body["callId"])
	assert.Equal(t, "+15551234567", body["number"])

	status, body = s.do(t, http.MethodPost, "/api/calls/launch", `{"number":"5551234567","persona":"nobody"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "unknown persona")

	status, _ = s.do(t, http.MethodPost, "/api/calls/launch", `{"persona":"joey-elite"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/calls/launch", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	s.plat.err = errors.New("rate limited")
	status, body = s.do(t, http.MethodPost, "/api/calls/launch", `{"number":"5551234567"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body["error"], "rate limited")
}

func TestMissingPlatform(t *testing.T) {
	d := dashboard.New(dashboard.Deps{Calls: registry.New()}, nil)
	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/vapi/assistants")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, platform.ErrMissingAPIKey.Error(), body["error"])
}
