// Package stream pushes registry updates to dashboard clients over
// server-sent events and WebSocket.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/callsim/internal/metrics"
	"github.com/sweeney/callsim/internal/registry"
)

const (
	DefaultHeartbeat = 30 * time.Second
	DefaultBuffer    = 64

	writeTimeout = 10 * time.Second
)

// Source is the registry surface the hub subscribes to.
type Source interface {
	SubscribeWithSnapshot(l registry.Listener) ([]registry.Call, func())
}

// Hub tracks open push channel subscribers. Each subscriber gets its own
// bounded queue; the registry listener only ever does a non-blocking send.
type Hub struct {
	source    Source
	heartbeat time.Duration
	buffer    int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu   sync.Mutex
	subs map[string]*subscription
}

// Option configures a Hub.
type Option func(*Hub)

// WithHeartbeat sets the idle keepalive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithBuffer sets how many updates may queue per subscriber before it is
// dropped.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a Hub fed by src.
func NewHub(src Source, opts ...Option) *Hub {
	h := &Hub{
		source:    src,
		heartbeat: DefaultHeartbeat,
		buffer:    DefaultBuffer,
		logger:    slog.Default(),
		subs:      make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Count returns the number of open subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type update struct {
	kind registry.Kind
	call registry.Call
}

type subscription struct {
	id        string
	transport string
	ch        chan update

	mu      sync.Mutex
	closed  bool
	dropped bool

	unsubscribe func()
}

// deliver runs under the registry lock. A full queue closes the channel
// rather than unsubscribing, since unsubscribing needs the registry lock.
func (s *subscription) deliver(kind registry.Kind, call registry.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- update{kind: kind, call: call}:
	default:
		s.dropped = true
		s.closed = true
		close(s.ch)
	}
}

func (s *subscription) wasDropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// open subscribes a new client and returns it with the snapshot taken at
// the moment of subscription.
func (h *Hub) open(transport string) (*subscription, []registry.Call) {
	sub := &subscription{
		id:        uuid.NewString(),
		transport: transport,
		ch:        make(chan update, h.buffer),
	}
	snapshot, unsubscribe := h.source.SubscribeWithSnapshot(sub.deliver)
	sub.unsubscribe = unsubscribe

	h.mu.Lock()
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SubscriberOpened(transport)
	h.logger.Debug("subscriber connected", "subscriber", sub.id, "transport", transport, "open", n)
	return sub, snapshot
}

func (h *Hub) close(sub *subscription, reason string) {
	sub.unsubscribe()

	h.mu.Lock()
	delete(h.subs, sub.id)
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SubscriberClosed(sub.transport)
	if sub.wasDropped() {
		reason = "slow"
	}
	if reason != "" && reason != "client" {
		h.metrics.SubscriberDropped(sub.transport, reason)
	}
	h.logger.Debug("subscriber disconnected", "subscriber", sub.id, "transport", sub.transport, "reason", reason, "open", n)
}

type initFrame struct {
	Type  string          `json:"type"`
	Calls []registry.Call `json:"calls"`
}

type updateFrame struct {
	Type string        `json:"type"`
	Call registry.Call `json:"call"`
}

func encodeInit(calls []registry.Call) ([]byte, error) {
	if calls == nil {
		calls = []registry.Call{}
	}
	return json.Marshal(initFrame{Type: "init", Calls: calls})
}

func encodeUpdate(u update) ([]byte, error) {
	return json.Marshal(updateFrame{Type: string(u.kind), Call: u.call})
}
