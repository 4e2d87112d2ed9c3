package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/callsim/internal/metrics"
	"github.com/sweeney/callsim/internal/registry"
)

const (
	DefaultQueueSize = 256
	publishTimeout   = 10 * time.Second
)

// Subscriber is the registry surface the bridge listens on.
type Subscriber interface {
	Subscribe(l registry.Listener) func()
}

// payload is the JSON published for each call update.
type payload struct {
	Event     string        `json:"event"`
	CallID    string        `json:"call_id"`
	Timestamp string        `json:"timestamp"`
	Call      registry.Call `json:"call"`
}

type job struct {
	kind registry.Kind
	call registry.Call
	at   time.Time
}

// Bridge republishes registry mutations to a message bus. The registry
// listener only enqueues; a single worker does the network I/O, so a slow
// broker never stalls ingestion. Updates that do not fit in the queue are
// dropped.
type Bridge struct {
	pub     Publisher
	prefix  string
	queue   chan job
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

func WithTopicPrefix(prefix string) BridgeOption {
	return func(b *Bridge) { b.prefix = prefix }
}

func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.queue = make(chan job, n)
		}
	}
}

func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

func WithClock(c func() time.Time) BridgeOption {
	return func(b *Bridge) { b.clock = c }
}

// NewBridge creates a Bridge publishing through pub.
func NewBridge(pub Publisher, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		pub:    pub,
		prefix: DefaultTopicPrefix,
		queue:  make(chan job, DefaultQueueSize),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) enqueue(kind registry.Kind, call registry.Call) {
	select {
	case b.queue <- job{kind: kind, call: call, at: b.clock()}:
	default:
		b.metrics.RecordPublishDropped()
		b.logger.Warn("publish queue full, dropping update", "call_id", call.ID, "kind", kind)
	}
}

// Attach starts queueing every mutation of src. The returned function
// detaches.
func (b *Bridge) Attach(src Subscriber) func() {
	return src.Subscribe(b.enqueue)
}

// Run publishes queued updates until ctx is done. Updates still queued at
// shutdown are discarded.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-b.queue:
			if err := b.publish(ctx, j); err != nil {
				b.logger.Error("publish error", "call_id", j.call.ID, "kind", j.kind, "err", err)
			}
		}
	}
}

func (b *Bridge) publish(ctx context.Context, j job) error {
	topic := Topic(b.prefix, j.call.ID, string(j.kind))

	data, err := json.Marshal(payload{
		Event:     string(j.kind),
		CallID:    j.call.ID,
		Timestamp: j.at.UTC().Format(time.RFC3339),
		Call:      j.call,
	})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	b.logger.Debug("publishing", "topic", topic)
	err = b.pub.Publish(ctx, topic, data)
	b.metrics.RecordPublish(string(j.kind), err)
	return err
}
