package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callsim/internal/metrics"
	"github.com/sweeney/callsim/internal/registry"
)

func TestRecorders(t *testing.T) {
	m := metrics.New("test")

	m.RecordEvent("call-started")
	m.RecordEvent("call-started")
	m.RecordEvent("")
	m.RecordRejection("signature")
	m.SubscriberOpened("sse")
	m.SubscriberOpened("sse")
	m.SubscriberClosed("sse")
	m.SubscriberDropped("ws", "slow")
	m.RecordPublish("call-ended", nil)
	m.RecordPublish("call-ended", errors.New("broker down"))
	m.RecordPublishDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("call-started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookRejections.WithLabelValues("signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscribers.WithLabelValues("sse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscribersDropped.WithLabelValues("ws", "slow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published.WithLabelValues("call-ended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishDropped))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.RecordEvent("x")
	m.RecordRejection("x")
	m.SubscriberOpened("sse")
	m.SubscriberClosed("sse")
	m.SubscriberDropped("sse", "slow")
	m.RecordPublish("x", nil)
	m.RecordPublishDropped()
	m.ObserveRegistry("", registry.New())()
}

func TestObserveRegistry(t *testing.T) {
	m := metrics.New("test")
	reg := registry.New()
	stop := m.ObserveRegistry("test", reg)

	reg.Apply("c1", registry.Update{})
	reg.AppendMessage("c1", registry.Message{Role: registry.RoleAssistant, Content: "hi"})
	stop()
	reg.Apply("c2", registry.Update{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("call-updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("message")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "test_registry_calls 2"), "expected call gauge in output")
	assert.Contains(t, string(body), "test_registry_reaped_total 0")
}
