package normalize

import (
	"log/slog"

	"github.com/sweeney/callsim/internal/event"
	"github.com/sweeney/callsim/internal/registry"
)

// Sink receives normalized mutations. *registry.Registry satisfies it.
type Sink interface {
	Apply(id string, u registry.Update) registry.Call
	AppendMessage(id string, m registry.Message) bool
}

// Pipeline normalizes events and applies them to a Sink.
type Pipeline struct {
	normalizer *Normalizer
	sink       Sink
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline. A nil logger uses slog.Default().
func NewPipeline(n *Normalizer, sink Sink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{normalizer: n, sink: sink, logger: logger}
}

// Ingest normalizes evt and applies the result. It returns the action and
// whether the sink accepted it.
func (p *Pipeline) Ingest(evt event.Event) (Action, bool) {
	action := p.normalizer.Normalize(evt)

	switch action.Kind {
	case ActionUpdate:
		p.sink.Apply(action.CallID, action.Update)
		return action, true
	case ActionAppend:
		if !p.sink.AppendMessage(action.CallID, action.Message) {
			p.logger.Debug("dropped message for unknown call", "call_id", action.CallID, "type", evt.Type)
			return action, false
		}
		return action, true
	default:
		p.logger.Debug("ignored event", "call_id", action.CallID, "type", evt.Type, "reason", action.Reason)
		return action, false
	}
}
