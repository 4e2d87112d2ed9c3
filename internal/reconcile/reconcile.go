// Package reconcile rebuilds call state from the platform's pull API.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sweeney/callsim/internal/normalize"
	"github.com/sweeney/callsim/internal/platform"
	"github.com/sweeney/callsim/internal/registry"
)

const (
	DefaultMaxWait      = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// ErrTimeout is returned when WaitForAnalysis gives up before the
// analysis is available.
var ErrTimeout = errors.New("timed out waiting for call analysis")

// Fetcher is the slice of the platform client used here.
type Fetcher interface {
	GetCall(ctx context.Context, id string) (*platform.Call, error)
}

// Client maps platform calls onto the registry's call shape.
type Client struct {
	fetcher      Fetcher
	personas     normalize.PersonaResolver
	personaLabel string
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPersonas resolves assistant ids to persona labels.
func WithPersonas(p normalize.PersonaResolver) Option {
	return func(c *Client) { c.personas = p }
}

// WithPersonaLabel sets the label used when no persona resolves.
func WithPersonaLabel(label string) Option {
	return func(c *Client) {
		if label != "" {
			c.personaLabel = label
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(f Fetcher, opts ...Option) *Client {
	c := &Client{
		fetcher:      f,
		personaLabel: registry.DefaultPersonaLabel,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the analysis view of a call.
type Result struct {
	CallID     string               `json:"callId"`
	Status     string               `json:"status,omitempty"`
	Summary    string               `json:"summary,omitempty"`
	Score      *float64             `json:"score,omitempty"`
	Success    string               `json:"successEvaluation,omitempty"`
	Evaluation *registry.Evaluation `json:"evaluation,omitempty"`
	Transcript string               `json:"transcript,omitempty"`
}

// Ready reports whether the platform has produced the analysis.
func (r Result) Ready() bool {
	return r.Summary != "" || r.Evaluation != nil
}

// FetchCall fetches a call and maps it to registry form.
func (c *Client) FetchCall(ctx context.Context, id string) (registry.Call, error) {
	pc, err := c.fetcher.GetCall(ctx, id)
	if err != nil {
		return registry.Call{}, err
	}
	return c.toCall(pc), nil
}

// FetchAnalysis fetches a call and extracts its analysis. The result may
// not be Ready yet.
func (c *Client) FetchAnalysis(ctx context.Context, id string) (Result, error) {
	pc, err := c.fetcher.GetCall(ctx, id)
	if err != nil {
		return Result{}, err
	}

	res := Result{CallID: pc.ID, Status: pc.Status, Transcript: transcript(pc)}
	if a := analysis(pc); a != nil {
		res.Summary = a.Summary
		res.Score = a.OverallScore
		res.Success = a.SuccessEvaluation
		res.Evaluation = a.Evaluation
	}
	return res, nil
}

// WaitForAnalysis polls FetchAnalysis until the result is Ready. Zero
// durations take the defaults. Polls are at least pollInterval apart and
// the whole wait, fetches included, is bounded by maxWait.
func (c *Client) WaitForAnalysis(ctx context.Context, id string, maxWait, pollInterval time.Duration) (Result, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	deadline, _ := ctx.Deadline()

	for attempt := 1; ; attempt++ {
		res, err := c.FetchAnalysis(ctx, id)
		switch {
		case err == nil && res.Ready():
			return res, nil
		case err != nil && ctx.Err() == nil:
			return Result{}, err
		}

		remaining := time.Until(deadline)
		if ctx.Err() != nil || remaining <= 0 {
			break
		}
		c.logger.Debug("analysis not ready", "call_id", id, "attempt", attempt)

		timer := time.NewTimer(min(pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	if parent := context.Cause(ctx); errors.Is(parent, context.Canceled) {
		return Result{}, parent
	}
	return Result{}, fmt.Errorf("call %s after %s: %w", id, maxWait, ErrTimeout)
}

func (c *Client) toCall(pc *platform.Call) registry.Call {
	call := registry.Call{
		ID:                pc.ID,
		Phase:             registry.PhaseRinging,
		CounterpartNumber: registry.UnknownNumber,
		PersonaLabel:      c.label(pc.AssistantID),
		StartedAt:         pc.CreatedAt,
		EndedReason:       pc.EndedReason,
		TranscriptTail:    transcript(pc),
		Messages:          []registry.Message{},
	}
	if pc.StartedAt != nil {
		call.StartedAt = *pc.StartedAt
	}
	if pc.Customer != nil && pc.Customer.Number != "" {
		call.CounterpartNumber = pc.Customer.Number
	}
	if phase, ok := normalize.PhaseFromStatus(pc.Status); ok {
		call.Phase = phase
	}
	if call.Phase == registry.PhaseEnded {
		ended := call.StartedAt
		if pc.EndedAt != nil {
			ended = *pc.EndedAt
		}
		call.EndedAt = &ended
		call.Analysis = analysis(pc)
	}

	for _, t := range turns(pc) {
		role, ok := normalize.RoleFromString(t.Role)
		if !ok {
			continue
		}
		ts := t.Timestamp()
		if ts.IsZero() {
			ts = call.StartedAt.Add(time.Duration(t.SecondsFromStart * float64(time.Second)))
		}
		call.Messages = append(call.Messages, registry.Message{
			Role:      role,
			Content:   strings.TrimSpace(t.Text()),
			Timestamp: ts,
		})
	}
	return call
}

func (c *Client) label(assistantID string) string {
	if c.personas != nil && assistantID != "" {
		if label, ok := c.personas.PersonaLabel(assistantID); ok {
			return label
		}
	}
	return c.personaLabel
}

func turns(pc *platform.Call) []platform.Turn {
	if len(pc.Messages) > 0 {
		return pc.Messages
	}
	if pc.Artifact != nil {
		return pc.Artifact.Messages
	}
	return nil
}

func transcript(pc *platform.Call) string {
	if pc.Transcript != "" {
		return pc.Transcript
	}
	if pc.Artifact != nil {
		return pc.Artifact.Transcript
	}
	return ""
}

// analysis prefers analysis.structuredData for the breakdown and falls
// back to the first structured output result.
func analysis(pc *platform.Call) *registry.Analysis {
	var summary string
	var success, structured json.RawMessage
	if pc.Analysis != nil {
		summary = pc.Analysis.Summary
		success = pc.Analysis.SuccessEvaluation
		structured = pc.Analysis.StructuredData
	}
	if a := normalize.ParseAnalysis(summary, success, structured); a != nil && a.Evaluation != nil {
		return a
	}
	return normalize.ParseAnalysis(summary, success, firstStructuredOutput(pc.Artifact))
}

// firstStructuredOutput returns the first output result by key order.
func firstStructuredOutput(a *platform.Artifact) json.RawMessage {
	if a == nil || len(a.StructuredOutputs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.StructuredOutputs))
	for k := range a.StructuredOutputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return a.StructuredOutputs[keys[0]].Result
}
