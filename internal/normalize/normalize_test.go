package normalize_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callsim/internal/event"
	"github.com/sweeney/callsim/internal/normalize"
	"github.com/sweeney/callsim/internal/registry"
)

var fixedNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func fixturesDir() string {
	return filepath.Join("..", "..", "testdata", "fixtures")
}

func loadEvent(t *testing.T, name string) event.Event {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(fixturesDir(), name))
	require.NoError(t, err)
	evt, err := event.Decode(data)
	require.NoError(t, err)
	return evt
}

func decode(t *testing.T, body string) event.Event {
	t.Helper()
	evt, err := event.Decode([]byte(body))
	require.NoError(t, err)
	return evt
}

type personas map[string]string

func (p personas) PersonaLabel(id string) (string, bool) {
	label, ok := p[id]
	return label, ok
}

func newNormalizer() *normalize.Normalizer {
	return normalize.New(
		normalize.WithClock(func() time.Time { return fixedNow }),
		normalize.WithPersonas(personas{"46dec9e9-a844-4f66-b08a-ddc44735d403": "Joey (Optimized)"}),
	)
}

func TestCallStarted(t *testing.T) {
	a := newNormalizer().Normalize(loadEvent(t, "call-started.json"))

	require.Equal(t, normalize.ActionUpdate, a.Kind)
	assert.Equal(t, "c1", a.CallID)
	require.NotNil(t, a.Update.Phase)
	assert.Equal(t, registry.PhaseRinging, *a.Update.Phase)
	require.NotNil(t, a.Update.CounterpartNumber)
	assert.Equal(t, "+15551234567", *a.Update.CounterpartNumber)
	require.NotNil(t, a.Update.PersonaLabel)
	assert.Equal(t, "Joey (Optimized)", *a.Update.PersonaLabel)
	assert.Nil(t, a.Update.Analysis)
	assert.Nil(t, a.Update.EndedAt)
}

func TestPersonaFallsBackToInlineName(t *testing.T) {
	evt := decode(t, `{"type":"status-update","status":"in-progress","call":{"id":"x","assistantId":"nope"},"assistant":{"name":"Joey - VP Growth"}}`)
	a := newNormalizer().Normalize(evt)
	require.NotNil(t, a.Update.PersonaLabel)
	assert.Equal(t, "Joey - VP Growth", *a.Update.PersonaLabel)

	evt = decode(t, `{"type":"status-update","status":"in-progress","call":{"id":"x"}}`)
	a = newNormalizer().Normalize(evt)
	assert.Nil(t, a.Update.PersonaLabel)
	assert.Nil(t, a.Update.CounterpartNumber)
}

func TestStatusFallsBackToCallStatus(t *testing.T) {
	a := newNormalizer().Normalize(decode(t, `{"type":"status-update","call":{"id":"x","status":"forwarding"}}`))
	require.NotNil(t, a.Update.Phase)
	assert.Equal(t, registry.PhaseInProgress, *a.Update.Phase)
}

func TestUnknownStatusLeavesPhaseAbsent(t *testing.T) {
	a := newNormalizer().Normalize(decode(t, `{"type":"status-update","status":"teleporting","call":{"id":"x"}}`))
	assert.Equal(t, normalize.ActionUpdate, a.Kind)
	assert.Nil(t, a.Update.Phase)
}

func TestPhaseFromStatus(t *testing.T) {
	tests := []struct {
		status string
		want   registry.Phase
		ok     bool
	}{
		{"scheduled", registry.PhaseRinging, true},
		{"queued", registry.PhaseRinging, true},
		{"ringing", registry.PhaseRinging, true},
		{"in-progress", registry.PhaseInProgress, true},
		{"forwarding", registry.PhaseInProgress, true},
		{"ended", registry.PhaseEnded, true},
		{"ENDED", registry.PhaseEnded, true},
		{"", "", false},
		{"paused", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, ok := normalize.PhaseFromStatus(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleFromString(t *testing.T) {
	tests := []struct {
		role string
		want registry.Role
		ok   bool
	}{
		{"assistant", registry.RoleAssistant, true},
		{"bot", registry.RoleAssistant, true},
		{"user", registry.RoleCounterpart, true},
		{"customer", registry.RoleCounterpart, true},
		{"system", "", false},
		{"tool_calls", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got, ok := normalize.RoleFromString(tt.role)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConversationUpdateAppendsLastTurn(t *testing.T) {
	a := newNormalizer().Normalize(loadEvent(t, "conversation-update.json"))

	require.Equal(t, normalize.ActionAppend, a.Kind)
	assert.Equal(t, "c1", a.CallID)
	assert.Equal(t, registry.Message{Role: registry.RoleAssistant, Content: "Joey. Go.", Timestamp: fixedNow}, a.Message)
}

func TestConversationUpdateNoOps(t *testing.T) {
	for _, body := range []string{
		`{"type":"conversation-update","call":{"id":"x"}}`,
		`{"type":"conversation-update","call":{"id":"x"},"conversation":[]}`,
		`{"type":"conversation-update","call":{"id":"x"},"conversation":[{"role":"system","content":"prompt"}]}`,
	} {
		a := newNormalizer().Normalize(decode(t, body))
		assert.Equal(t, normalize.ActionNone, a.Kind, body)
		assert.NotEmpty(t, a.Reason)
	}
}

func TestTranscript(t *testing.T) {
	a := newNormalizer().Normalize(loadEvent(t, "transcript.json"))
	require.Equal(t, normalize.ActionUpdate, a.Kind)
	require.NotNil(t, a.Update.TranscriptTail)
	assert.Equal(t, "Hey Joey, this is Sam from LeadMagic.", *a.Update.TranscriptTail)
	assert.Nil(t, a.Update.Phase)
	assert.Nil(t, a.Update.CounterpartNumber)

	a = newNormalizer().Normalize(decode(t, `{"type":"transcript","call":{"id":"x"},"transcript":""}`))
	assert.Equal(t, normalize.ActionNone, a.Kind)
}

func TestEndOfCallReport(t *testing.T) {
	a := newNormalizer().Normalize(loadEvent(t, "end-of-call-report.json"))

	require.Equal(t, normalize.ActionUpdate, a.Kind)
	require.NotNil(t, a.Update.Phase)
	assert.Equal(t, registry.PhaseEnded, *a.Update.Phase)
	require.NotNil(t, a.Update.EndedAt)
	assert.Equal(t, fixedNow, *a.Update.EndedAt)
	require.NotNil(t, a.Update.EndedReason)
	assert.Equal(t, "customer-ended-call", *a.Update.EndedReason)

	an := a.Update.Analysis
	require.NotNil(t, an)
	assert.Equal(t, "Strong opener, handled the budget objection, booked a meeting.", an.Summary)
	assert.Equal(t, "8", an.SuccessEvaluation)
	score, ok := an.Score()
	require.True(t, ok)
	assert.Equal(t, 8.7, score)

	require.NotNil(t, an.Evaluation)
	assert.True(t, an.Evaluation.MeetingQualified)
	assert.True(t, an.Evaluation.WeeklyContestEligible)
	assert.Equal(t, "peer_level", an.Evaluation.PushbackQuality)
	require.NotNil(t, an.Evaluation.CategoryScores)
	assert.Equal(t, 9.1, an.Evaluation.CategoryScores.ObjectionHandling)
	require.Len(t, an.Evaluation.QuotedExamples, 1)
	assert.Equal(t, "objection_handling", an.Evaluation.QuotedExamples[0].Category)

	out, err := json.Marshal(an)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"talk_ratio":0.42`)
}

func TestEndOfCallMistypedBreakdownIsKept(t *testing.T) {
	a := newNormalizer().Normalize(decode(t, `{"type":"end-of-call-report","call":{"id":"c8"},`+
		`"analysis":{"structuredData":{"overall_score":"9","meeting_qualified":"yes","pushback_quality":["x"],"rapport":4}}}`))

	an := a.Update.Analysis
	require.NotNil(t, an, "a breakdown with mistyped fields still counts as an analysis")
	score, ok := an.Score()
	require.True(t, ok)
	assert.Equal(t, 9.0, score)
	require.NotNil(t, an.Evaluation)
	assert.True(t, an.Evaluation.MeetingQualified)
	assert.Empty(t, an.Evaluation.PushbackQuality)

	out, err := json.Marshal(an)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"overall_score":"9"`)
	assert.Contains(t, string(out), `"pushback_quality":["x"]`)
	assert.Contains(t, string(out), `"rapport":4`)
}

func TestEndOfCallWithoutAnalysis(t *testing.T) {
	a := newNormalizer().Normalize(loadEvent(t, "end-of-call-no-analysis.json"))
	require.Equal(t, normalize.ActionUpdate, a.Kind)
	assert.Equal(t, registry.PhaseEnded, *a.Update.Phase)
	assert.Nil(t, a.Update.Analysis)

	a = newNormalizer().Normalize(decode(t, `{"type":"end-of-call-report","call":{"id":"x"},"analysis":{}}`))
	assert.Nil(t, a.Update.Analysis, "empty analysis is absent")
}

func TestIgnoredEvents(t *testing.T) {
	a := newNormalizer().Normalize(loadEvent(t, "speech-update.json"))
	assert.Equal(t, normalize.ActionNone, a.Kind)
	assert.Equal(t, "c1", a.CallID)

	a = newNormalizer().Normalize(decode(t, `{"type":"call-started"}`))
	assert.Equal(t, normalize.ActionNone, a.Kind)
	assert.Equal(t, "no call id", a.Reason)

	a = newNormalizer().Normalize(decode(t, `{"type":"brand-new-type","call":{"id":"x"}}`))
	assert.Equal(t, normalize.ActionNone, a.Kind)
}

func TestWrappedAndUnwrappedNormalizeIdentically(t *testing.T) {
	inner := `{"type":"call-started","call":{"id":"c9","status":"queued","customer":{"number":"+15550001111"}}}`
	n := newNormalizer()
	assert.Equal(t, n.Normalize(decode(t, inner)), n.Normalize(decode(t, `{"message":`+inner+`}`)))
}

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		summary    string
		success    string
		structured string
		nilResult  bool
		score      *float64
		hasEval    bool
	}{
		{name: "nothing", nilResult: true},
		{name: "nulls", success: "null", structured: "null", nilResult: true},
		{name: "empty object", structured: "{}", nilResult: true},
		{name: "summary only", summary: "ok"},
		{name: "numeric success", success: "7", score: ptr(7.0)},
		{name: "quoted numeric success", success: `"6.5"`, score: ptr(6.5)},
		{name: "non numeric success", success: `"PASS"`},
		{name: "boolean success", success: "true"},
		{name: "structured wins", success: "3", structured: `{"overall_score":9}`, score: ptr(9.0), hasEval: true},
		{name: "structured without score", success: "4", structured: `{"meeting_qualified":true}`, score: ptr(4.0), hasEval: true},
		{name: "structured not an object", summary: "s", structured: `"text"`},
		{name: "quoted structured score", structured: `{"overall_score":"7.5"}`, score: ptr(7.5), hasEval: true},
		{name: "unreadable structured score", success: "6", structured: `{"overall_score":"high"}`, score: ptr(6.0), hasEval: true},
		{name: "only unknown rubric fields", structured: `{"rapport":4}`, hasEval: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := normalize.ParseAnalysis(tt.summary, raw(tt.success), raw(tt.structured))
			if tt.nilResult {
				assert.Nil(t, a)
				return
			}
			require.NotNil(t, a)
			if tt.score == nil {
				assert.Nil(t, a.OverallScore)
			} else {
				require.NotNil(t, a.OverallScore)
				assert.Equal(t, *tt.score, *a.OverallScore)
			}
			assert.Equal(t, tt.hasEval, a.Evaluation != nil)
		})
	}
}

func raw(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func ptr[T any](v T) *T { return &v }
