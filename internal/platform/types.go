package platform

import (
	"encoding/json"
	"time"
)

// Server is the webhook target configured on an assistant or number.
type Server struct {
	URL            string `json:"url,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type Assistant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Server    *Server    `json:"server,omitempty"`
	ServerURL string     `json:"serverUrl,omitempty"`
}

// WebhookURL returns the configured webhook, preferring server.url.
func (a Assistant) WebhookURL() string {
	if a.Server != nil && a.Server.URL != "" {
		return a.Server.URL
	}
	return a.ServerURL
}

type PhoneNumber struct {
	ID          string  `json:"id"`
	Number      string  `json:"number"`
	Name        string  `json:"name,omitempty"`
	Status      string  `json:"status,omitempty"`
	AssistantID string  `json:"assistantId,omitempty"`
	Server      *Server `json:"server,omitempty"`
	ServerURL   string  `json:"serverUrl,omitempty"`
}

func (p PhoneNumber) WebhookURL() string {
	if p.Server != nil && p.Server.URL != "" {
		return p.Server.URL
	}
	return p.ServerURL
}

type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// Turn is one entry of a call's message history.
type Turn struct {
	Role             string  `json:"role"`
	Message          string  `json:"message,omitempty"`
	Content          string  `json:"content,omitempty"`
	Time             float64 `json:"time,omitempty"`
	SecondsFromStart float64 `json:"secondsFromStart,omitempty"`
}

// Text returns the spoken text, whichever field carries it.
func (t Turn) Text() string {
	if t.Message != "" {
		return t.Message
	}
	return t.Content
}

// Timestamp converts the millisecond epoch in Time.
func (t Turn) Timestamp() time.Time {
	if t.Time <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(t.Time)).UTC()
}

type Analysis struct {
	Summary           string          `json:"summary,omitempty"`
	SuccessEvaluation json.RawMessage `json:"successEvaluation,omitempty"`
	StructuredData    json.RawMessage `json:"structuredData,omitempty"`
}

type StructuredOutput struct {
	Name   string          `json:"name,omitempty"`
	Result json.RawMessage `json:"result"`
}

type Artifact struct {
	Transcript        string                      `json:"transcript,omitempty"`
	Messages          []Turn                      `json:"messages,omitempty"`
	StructuredOutputs map[string]StructuredOutput `json:"structuredOutputs,omitempty"`
}

type Call struct {
	ID            string     `json:"id"`
	Type          string     `json:"type,omitempty"`
	Status        string     `json:"status"`
	AssistantID   string     `json:"assistantId,omitempty"`
	PhoneNumberID string     `json:"phoneNumberId,omitempty"`
	Customer      *Customer  `json:"customer,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	EndedReason   string     `json:"endedReason,omitempty"`
	Cost          float64    `json:"cost,omitempty"`
	Transcript    string     `json:"transcript,omitempty"`
	Messages      []Turn     `json:"messages,omitempty"`
	Analysis      *Analysis  `json:"analysis,omitempty"`
	Artifact      *Artifact  `json:"artifact,omitempty"`
}

// Duration is the connected time of the call, zero if not known.
func (c Call) Duration() time.Duration {
	if c.StartedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.StartedAt)
}

// SchedulePlan delays an outbound call.
type SchedulePlan struct {
	EarliestAt string `json:"earliestAt,omitempty"`
	LatestAt   string `json:"latestAt,omitempty"`
}

type CreateCallRequest struct {
	AssistantID   string        `json:"assistantId"`
	PhoneNumberID string        `json:"phoneNumberId"`
	Customer      Customer      `json:"customer"`
	SchedulePlan  *SchedulePlan `json:"schedulePlan,omitempty"`
}

// ListCallsOptions filters ListCalls. Zero values are omitted.
type ListCallsOptions struct {
	AssistantID  string
	CreatedAfter time.Time
	Limit        int
}
