// Package normalize maps webhook events onto registry mutations.
package normalize

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/callsim/internal/event"
	"github.com/sweeney/callsim/internal/registry"
)

// ActionKind discriminates the variants of Action.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionUpdate
	ActionAppend
)

func (k ActionKind) String() string {
	switch k {
	case ActionUpdate:
		return "update"
	case ActionAppend:
		return "append"
	default:
		return "none"
	}
}

// Action is the effect one event has on the registry. Update is set for
// ActionUpdate, Message for ActionAppend; Reason explains an ActionNone.
type Action struct {
	Kind    ActionKind
	CallID  string
	Update  registry.Update
	Message registry.Message
	Reason  string
}

// PersonaResolver maps a platform assistant id to a display label.
type PersonaResolver interface {
	PersonaLabel(assistantID string) (string, bool)
}

// Normalizer is a pure mapping from events to actions. It never looks at
// registry state; merge rules are the registry's job.
type Normalizer struct {
	clock    registry.Clock
	personas PersonaResolver
	logger   *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

func WithClock(c registry.Clock) Option {
	return func(n *Normalizer) { n.clock = c }
}

func WithPersonas(p PersonaResolver) Option {
	return func(n *Normalizer) { n.personas = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps evt to an Action. Unknown types and events without a call
// id map to ActionNone.
func (n *Normalizer) Normalize(evt event.Event) Action {
	id := evt.CallID()
	if id == "" {
		return none("", "no call id")
	}

	switch evt.Type {
	case event.TypeCallStarted, event.TypeStatusUpdate:
		var u registry.Update
		if p, ok := PhaseFromStatus(evt.CallStatus()); ok {
			u.Phase = &p
		}
		if num := evt.CustomerNumber(); num != "" {
			u.CounterpartNumber = &num
		}
		if label := n.personaLabel(evt); label != "" {
			u.PersonaLabel = &label
		}
		return Action{Kind: ActionUpdate, CallID: id, Update: u}

	case event.TypeConversationUpdate:
		turn, ok := evt.LastTurn()
		if !ok {
			return none(id, "empty conversation")
		}
		role, ok := RoleFromString(turn.Role)
		if !ok {
			return none(id, "unmapped role "+turn.Role)
		}
		return Action{Kind: ActionAppend, CallID: id, Message: registry.Message{
			Role:      role,
			Content:   turn.Text(),
			Timestamp: n.clock(),
		}}

	case event.TypeTranscript:
		if evt.Transcript == "" {
			return none(id, "empty transcript")
		}
		tail := evt.Transcript
		return Action{Kind: ActionUpdate, CallID: id, Update: registry.Update{TranscriptTail: &tail}}

	case event.TypeEndOfCallReport:
		ended := registry.PhaseEnded
		at := n.clock()
		u := registry.Update{Phase: &ended, EndedAt: &at}
		if evt.EndedReason != "" {
			reason := evt.EndedReason
			u.EndedReason = &reason
		}
		if num := evt.CustomerNumber(); num != "" {
			u.CounterpartNumber = &num
		}
		if evt.Analysis != nil {
			a, skipped := parseAnalysis(evt.Analysis.Summary, evt.Analysis.SuccessEvaluation, evt.Analysis.StructuredData)
			if len(skipped) > 0 {
				n.logger.Warn("analysis fields not understood, kept raw", "call_id", id, "fields", skipped)
			}
			u.Analysis = a
		}
		return Action{Kind: ActionUpdate, CallID: id, Update: u}
	}

	return none(id, "unhandled type "+evt.Type)
}

func (n *Normalizer) personaLabel(evt event.Event) string {
	if n.personas != nil {
		if id := evt.AssistantID(); id != "" {
			if label, ok := n.personas.PersonaLabel(id); ok {
				return label
			}
		}
	}
	return evt.AssistantName()
}

func none(id, reason string) Action {
	return Action{Kind: ActionNone, CallID: id, Reason: reason}
}

// PhaseFromStatus maps a platform call status to a phase. Statuses with no
// phase equivalent report false.
func PhaseFromStatus(status string) (registry.Phase, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "scheduled", "queued", "ringing":
		return registry.PhaseRinging, true
	case "in-progress", "forwarding":
		return registry.PhaseInProgress, true
	case "ended":
		return registry.PhaseEnded, true
	}
	return "", false
}

// RoleFromString maps a platform speaker role to a message role. System
// and tool turns report false.
func RoleFromString(role string) (registry.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant", "bot":
		return registry.RoleAssistant, true
	case "user", "customer":
		return registry.RoleCounterpart, true
	}
	return "", false
}

// ParseAnalysis builds an Analysis from the platform's raw fields. It
// returns nil when nothing usable is present.
func ParseAnalysis(summary string, success, structured json.RawMessage) *registry.Analysis {
	a, _ := parseAnalysis(summary, success, structured)
	return a
}

// parseAnalysis is ParseAnalysis that also names the breakdown fields that
// could not be read.
func parseAnalysis(summary string, success, structured json.RawMessage) (*registry.Analysis, []string) {
	a := &registry.Analysis{
		Summary:           strings.TrimSpace(summary),
		SuccessEvaluation: rawText(success),
	}

	eval, score, skipped := parseEvaluation(structured)
	if eval != nil {
		a.Evaluation = eval
		a.OverallScore = score
	}

	if a.OverallScore == nil && a.SuccessEvaluation != "" {
		if f, err := strconv.ParseFloat(a.SuccessEvaluation, 64); err == nil {
			a.OverallScore = &f
		}
	}

	if a.Summary == "" && a.SuccessEvaluation == "" && a.Evaluation == nil {
		return nil, skipped
	}
	return a, skipped
}

// parseEvaluation decodes a structured breakdown. Non-objects and empty
// objects yield nil; any other object is kept even when some of its
// fields do not fit the Evaluation shape.
func parseEvaluation(raw json.RawMessage) (*registry.Evaluation, *float64, []string) {
	obj := bytes.TrimSpace(raw)
	if len(obj) == 0 || obj[0] != '{' {
		return nil, nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil || len(fields) == 0 {
		return nil, nil, nil
	}

	eval, skipped, err := registry.DecodeEvaluation(obj)
	if err != nil {
		return nil, nil, nil
	}

	var score *float64
	if _, ok := fields["overall_score"]; ok && !slices.Contains(skipped, "overall_score") {
		f := eval.OverallScore
		score = &f
	}
	return &eval, score, skipped
}

// rawText renders a JSON scalar as plain text: strings are unquoted,
// numbers and booleans are kept as written, null is empty.
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if s[0] == '"' {
		var out string
		if json.Unmarshal([]byte(s), &out) == nil {
			return strings.TrimSpace(out)
		}
	}
	if s[0] == '{' || s[0] == '[' {
		return ""
	}
	return s
}
