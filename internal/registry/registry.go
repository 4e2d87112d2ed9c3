package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultRetention     = time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultPersonaLabel  = "Joey"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Listener is notified after every mutation with a private copy of the
// resulting call. It runs with the registry lock held, so it must return
// quickly and must not call back into the Registry.
type Listener func(kind Kind, call Call)

// entry tracks a call plus whether its identity fields came from an event
// rather than the creation defaults.
type entry struct {
	call       Call
	numberSet  bool
	personaSet bool
}

type listener struct {
	id uint64
	fn Listener
}

// Registry is the authoritative in-memory store of call state. All
// mutations and listener dispatch are serialized, so updates for one call
// are applied and observed in the order they reach the Registry.
type Registry struct {
	mu        sync.Mutex
	calls     map[string]*entry
	listeners []listener
	nextID    uint64
	reaped    atomic.Uint64

	clock         Clock
	logger        *slog.Logger
	personaLabel  string
	retention     time.Duration
	sweepInterval time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source for the registry.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger used for listener failures and sweeps.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPersonaLabel sets the label given to calls created before their
// persona is known.
func WithPersonaLabel(label string) Option {
	return func(r *Registry) {
		if label != "" {
			r.personaLabel = label
		}
	}
}

// WithRetention sets how long ended calls are kept.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithSweepInterval sets how often Run looks for expired calls.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		calls:         make(map[string]*entry),
		clock:         time.Now,
		logger:        slog.Default(),
		personaLabel:  DefaultPersonaLabel,
		retention:     DefaultRetention,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns a copy of the call with the given id.
func (r *Registry) Get(id string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.calls[id]
	if !ok {
		return Call{}, false
	}
	return e.call.clone(), true
}

// GetAll returns copies of all calls, most recently started first.
func (r *Registry) GetAll() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of calls currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reaped returns how many calls have been expired since creation.
func (r *Registry) Reaped() uint64 {
	return r.reaped.Load()
}

// Apply merges u into the call with the given id, creating it if absent,
// and returns the resulting state.
//
// Merge rules: phase only moves forward and never leaves ended; endedAt
// is stamped once on the transition into ended; counterpart number and
// persona label are fixed once an event has supplied them; analysis is
// accepted once the call has ended and is never replaced afterwards.
func (r *Registry) Apply(id string, u Update) Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	e, ok := r.calls[id]
	if !ok {
		e = &entry{call: Call{
			ID:                id,
			Phase:             PhaseRinging,
			CounterpartNumber: UnknownNumber,
			PersonaLabel:      r.personaLabel,
			StartedAt:         now,
			Messages:          []Message{},
		}}
		r.calls[id] = e
	}

	merge(e, u, now)

	kind := KindCallUpdated
	if u.Phase != nil && *u.Phase == PhaseEnded {
		kind = KindCallEnded
	}
	r.notifyLocked(kind, &e.call)
	return e.call.clone()
}

func merge(e *entry, u Update, now time.Time) {
	c := &e.call

	if u.CounterpartNumber != nil && *u.CounterpartNumber != "" && !e.numberSet {
		c.CounterpartNumber = *u.CounterpartNumber
		e.numberSet = true
	}
	if u.PersonaLabel != nil && *u.PersonaLabel != "" && !e.personaSet {
		c.PersonaLabel = *u.PersonaLabel
		e.personaSet = true
	}

	if u.Phase != nil && u.Phase.Valid() && phaseRank[*u.Phase] > phaseRank[c.Phase] {
		c.Phase = *u.Phase
		if c.Phase == PhaseEnded {
			ended := now
			if u.EndedAt != nil && !u.EndedAt.IsZero() {
				ended = *u.EndedAt
			}
			c.EndedAt = &ended
		}
	}

	if u.EndedReason != nil && *u.EndedReason != "" && c.EndedReason == "" {
		c.EndedReason = *u.EndedReason
	}
	if u.TranscriptTail != nil {
		c.TranscriptTail = *u.TranscriptTail
	}
	if u.Analysis != nil && c.Phase == PhaseEnded && c.Analysis == nil {
		c.Analysis = u.Analysis.clone()
	}
}

// AppendMessage adds m to the call's message log. Messages for unknown
// calls are dropped and false is returned.
func (r *Registry) AppendMessage(id string, m Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.calls[id]
	if !ok {
		return false
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.clock()
	}
	e.call.Messages = append(e.call.Messages, m)
	r.notifyLocked(KindMessage, &e.call)
	return true
}

// Subscribe registers l for all future mutations. The returned function
// removes it; calling it more than once is harmless.
func (r *Registry) Subscribe(l Listener) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(l)
}

// SubscribeWithSnapshot returns the current calls and registers l in one
// step, so l sees exactly the mutations that follow the snapshot.
func (r *Registry) SubscribeWithSnapshot(l Listener) ([]Call, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), r.addLocked(l)
}

func (r *Registry) addLocked(l Listener) func() {
	id := r.nextID
	r.nextID++
	r.listeners = append(r.listeners, listener{id: id, fn: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, ls := range r.listeners {
				if ls.id == id {
					r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

func (r *Registry) notifyLocked(kind Kind, c *Call) {
	for _, l := range r.listeners {
		r.dispatch(l, kind, c)
	}
}

func (r *Registry) dispatch(l listener, kind Kind, c *Call) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("registry listener panicked", "kind", kind, "call_id", c.ID, "panic", p)
		}
	}()
	l.fn(kind, c.clone())
}

func (r *Registry) snapshotLocked() []Call {
	out := make([]Call, 0, len(r.calls))
	for _, e := range r.calls {
		out = append(out, e.call.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reap removes ended calls whose endedAt is older than the retention
// window relative to now, returning how many were removed.
func (r *Registry) Reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.retention)
	n := 0
	for id, e := range r.calls {
		if e.call.EndedAt != nil && e.call.EndedAt.Before(cutoff) {
			delete(r.calls, id)
			n++
		}
	}
	r.reaped.Add(uint64(n))
	return n
}

// Run sweeps expired calls every sweep interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Reap(r.clock()); n > 0 {
				r.logger.Info("expired ended calls", "count", n, "remaining", r.Len())
			}
		}
	}
}
