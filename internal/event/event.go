package event

import (
	"encoding/json"
	"strings"
)

// Well-known webhook event types. The platform owns this vocabulary and
// adds to it freely; anything not listed here is still a valid Event.
const (
	TypeCallStarted        = "call-started"
	TypeStatusUpdate       = "status-update"
	TypeConversationUpdate = "conversation-update"
	TypeTranscript         = "transcript"
	TypeEndOfCallReport    = "end-of-call-report"
	TypeSpeechUpdate       = "speech-update"
	TypeUserInterrupted    = "user-interrupted"
)

// Event is a single webhook delivery from the voice platform with the
// optional "message" wrapper already removed.
type Event struct {
	Type           string     `json:"type"`
	Status         string     `json:"status,omitempty"`
	Call           *Call      `json:"call,omitempty"`
	Assistant      *Assistant `json:"assistant,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
	TranscriptType string     `json:"transcriptType,omitempty"`
	Role           string     `json:"role,omitempty"`
	EndedReason    string     `json:"endedReason,omitempty"`
	Analysis       *Analysis  `json:"analysis,omitempty"`
	Conversation   []Turn     `json:"conversation,omitempty"`
	Messages       []Turn     `json:"messages,omitempty"`

	raw []byte
}

// Call is the call object embedded in most events.
type Call struct {
	ID            string    `json:"id"`
	Status        string    `json:"status,omitempty"`
	AssistantID   string    `json:"assistantId,omitempty"`
	PhoneNumberID string    `json:"phoneNumberId,omitempty"`
	Customer      *Customer `json:"customer,omitempty"`
	Monitor       *Monitor  `json:"monitor,omitempty"`
}

type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type Monitor struct {
	ListenURL  string `json:"listenUrl,omitempty"`
	ControlURL string `json:"controlUrl,omitempty"`
}

type Assistant struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Analysis is the post-call evaluation attached to an end-of-call report.
// SuccessEvaluation and StructuredData are kept raw because their shape
// depends on the assistant's analysis plan.
type Analysis struct {
	Summary           string          `json:"summary,omitempty"`
	SuccessEvaluation json.RawMessage `json:"successEvaluation,omitempty"`
	StructuredData    json.RawMessage `json:"structuredData,omitempty"`
}

// IsEmpty reports whether the analysis carries nothing usable.
func (a *Analysis) IsEmpty() bool {
	if a == nil {
		return true
	}
	return strings.TrimSpace(a.Summary) == "" && isNull(a.SuccessEvaluation) && isNull(a.StructuredData)
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "{}" || s == `""`
}

// Turn is one entry of a conversation-update.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text returns the spoken text, whichever field the platform used.
func (t Turn) Text() string {
	if t.Content != "" {
		return t.Content
	}
	return t.Message
}

// CallID returns the call id, or empty string if the event has none.
func (e Event) CallID() string {
	if e.Call == nil {
		return ""
	}
	return e.Call.ID
}

// CallStatus returns the top-level status when present, falling back to
// the embedded call's status.
func (e Event) CallStatus() string {
	if e.Status != "" {
		return e.Status
	}
	if e.Call != nil {
		return e.Call.Status
	}
	return ""
}

// CustomerNumber returns the counterpart's number, or empty string.
func (e Event) CustomerNumber() string {
	if e.Call == nil || e.Call.Customer == nil {
		return ""
	}
	return e.Call.Customer.Number
}

// AssistantID returns the assistant handling the call, or empty string.
func (e Event) AssistantID() string {
	if e.Call != nil && e.Call.AssistantID != "" {
		return e.Call.AssistantID
	}
	if e.Assistant != nil {
		return e.Assistant.ID
	}
	return ""
}

// AssistantName returns the assistant name sent inline, or empty string.
func (e Event) AssistantName() string {
	if e.Assistant == nil {
		return ""
	}
	return e.Assistant.Name
}

// LastTurn returns the most recent conversation turn.
func (e Event) LastTurn() (Turn, bool) {
	turns := e.Conversation
	if len(turns) == 0 {
		turns = e.Messages
	}
	if len(turns) == 0 {
		return Turn{}, false
	}
	return turns[len(turns)-1], true
}

// Raw returns the unwrapped JSON the event was decoded from.
func (e Event) Raw() []byte {
	return e.raw
}
