package stream

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callsim/internal/metrics"
	"github.com/sweeney/callsim/internal/registry"
)

func TestSlowSubscriberDroppedAlone(t *testing.T) {
	reg := registry.New()
	m := metrics.New("test")
	h := NewHub(reg, WithBuffer(1), WithMetrics(m))

	slow, _ := h.open("sse")
	fast, _ := h.open("sse")
	require.Equal(t, 2, h.Count())

	reg.Apply("c1", registry.Update{})
	<-fast.ch

	// slow still holds the first update, so this one overflows it.
	reg.Apply("c1", registry.Update{})
	assert.True(t, slow.wasDropped())
	assert.False(t, fast.wasDropped())
	<-fast.ch

	_, ok := <-slow.ch
	assert.True(t, ok, "queued update is still readable")
	_, ok = <-slow.ch
	assert.False(t, ok, "channel is closed after the drop")

	reg.Apply("c1", registry.Update{})
	u := <-fast.ch
	assert.Equal(t, "c1", u.call.ID)

	h.close(slow, "client")
	assert.Equal(t, 1, h.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscribersDropped.WithLabelValues("sse", "slow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscribers.WithLabelValues("sse")))

	h.close(fast, "client")
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 1, reg.Len())
}

func TestCloseStopsDelivery(t *testing.T) {
	reg := registry.New()
	h := NewHub(reg, WithBuffer(4))
	sub, _ := h.open("ws")
	h.close(sub, "client")

	reg.Apply("c1", registry.Update{})
	assert.Len(t, sub.ch, 0)
}

func TestEncodeInitEmpty(t *testing.T) {
	b, err := encodeInit(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"init","calls":[]}`, string(b))
}

func TestEncodeUpdate(t *testing.T) {
	b, err := encodeUpdate(update{kind: registry.KindCallEnded, call: registry.Call{
		ID:       "c1",
		Phase:    registry.PhaseEnded,
		Messages: []registry.Message{},
	}})
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &frame))
	assert.JSONEq(t, `"call-ended"`, string(frame["type"]))

	var call map[string]any
	require.NoError(t, json.Unmarshal(frame["call"], &call))
	assert.Equal(t, "c1", call["id"])
	assert.Equal(t, "ended", call["status"])
}
