package registry

import (
	"encoding/json"
	"time"
)

// Phase represents the lifecycle stage of a call.
type Phase string

const (
	PhaseRinging    Phase = "ringing"
	PhaseInProgress Phase = "in-progress"
	PhaseEnded      Phase = "ended"
)

var phaseRank = map[Phase]int{
	PhaseRinging:    1,
	PhaseInProgress: 2,
	PhaseEnded:      3,
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

// Role identifies who spoke a message.
type Role string

const (
	RoleAssistant   Role = "assistant"
	RoleCounterpart Role = "user"
)

// Kind is the notification kind delivered to listeners.
type Kind string

const (
	KindCallUpdated Kind = "call-updated"
	KindCallEnded   Kind = "call-ended"
	KindMessage     Kind = "message"
)

// UnknownNumber is the placeholder counterpart before one is known.
const UnknownNumber = "Unknown"

// Message is one entry of a call's message log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CategoryScores are the per-category sub-scores of an evaluation.
type CategoryScores struct {
	OpeningPreparation float64 `json:"opening_preparation"`
	ObjectionHandling  float64 `json:"objection_handling"`
	PeerDiscourse      float64 `json:"peer_discourse"`
	BusinessValue      float64 `json:"business_value"`
	Professionalism    float64 `json:"professionalism"`
}

// QuotedExample is a caller quote cited by the evaluator.
type QuotedExample struct {
	Quote       string `json:"quote"`
	Category    string `json:"category"`
	Improvement string `json:"improvement,omitempty"`
}

// Evaluation is the structured scoring breakdown produced after a call.
type Evaluation struct {
	OverallScore          float64         `json:"overall_score"`
	OverallComment        string          `json:"overall_comment,omitempty"`
	MeetingQualified      bool            `json:"meeting_qualified"`
	WeeklyContestEligible bool            `json:"weekly_contest_eligible"`
	CategoryScores        *CategoryScores `json:"category_scores,omitempty"`
	PushbackQuality       string          `json:"pushback_quality,omitempty"`
	ObjectionsDeployed    []string        `json:"objections_deployed,omitempty"`
	QuotedExamples        []QuotedExample `json:"quoted_examples,omitempty"`
	CoachingProvided      string          `json:"coaching_provided,omitempty"`

	// Extra is the breakdown as received. It is what MarshalJSON emits, so
	// rubric fields outside this struct still reach consumers.
	Extra json.RawMessage `json:"-"`
}

// Analysis is the post-call scoring and summary.
type Analysis struct {
	Summary           string      `json:"summary,omitempty"`
	OverallScore      *float64    `json:"overall_score,omitempty"`
	SuccessEvaluation string      `json:"successEvaluation,omitempty"`
	Evaluation        *Evaluation `json:"structuredData,omitempty"`
}

// Call is the state held for one call.
type Call struct {
	ID                string     `json:"id"`
	Phase             Phase      `json:"status"`
	CounterpartNumber string     `json:"customerNumber"`
	PersonaLabel      string     `json:"assistantName"`
	StartedAt         time.Time  `json:"startedAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
	EndedReason       string     `json:"endedReason,omitempty"`
	TranscriptTail    string     `json:"transcript,omitempty"`
	Messages          []Message  `json:"messages"`
	Analysis          *Analysis  `json:"analysis,omitempty"`
}

// Update is a partial update; nil fields are absent and leave the current
// value untouched.
type Update struct {
	Phase             *Phase
	CounterpartNumber *string
	PersonaLabel      *string
	EndedAt           *time.Time
	EndedReason       *string
	TranscriptTail    *string
	Analysis          *Analysis
}

func (c *Call) clone() Call {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.Analysis != nil {
		out.Analysis = c.Analysis.clone()
	}
	return out
}

func (a *Analysis) clone() *Analysis {
	out := *a
	if a.OverallScore != nil {
		s := *a.OverallScore
		out.OverallScore = &s
	}
	if a.Evaluation != nil {
		e := *a.Evaluation
		if a.Evaluation.CategoryScores != nil {
			cs := *a.Evaluation.CategoryScores
			e.CategoryScores = &cs
		}
		e.ObjectionsDeployed = append([]string(nil), a.Evaluation.ObjectionsDeployed...)
		e.QuotedExamples = append([]QuotedExample(nil), a.Evaluation.QuotedExamples...)
		e.Extra = append(json.RawMessage(nil), a.Evaluation.Extra...)
		out.Evaluation = &e
	}
	return &out
}

// Score returns the overall score and whether one is known.
func (a *Analysis) Score() (float64, bool) {
	if a == nil || a.OverallScore == nil {
		return 0, false
	}
	return *a.OverallScore, true
}
