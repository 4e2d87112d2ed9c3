package console

import (
	"fmt"
	"time"

	"github.com/sweeney/callsim/internal/config"
	"github.com/sweeney/callsim/internal/event"
	"github.com/sweeney/callsim/internal/normalize"
	"github.com/sweeney/callsim/internal/platform"
	"github.com/sweeney/callsim/internal/reconcile"
	"github.com/sweeney/callsim/internal/registry"
)

// Directory identifies known personas and lines in listings.
type Directory interface {
	PersonaByAssistant(assistantID string) (string, config.Persona, bool)
	LineByID(phoneNumberID string) (string, config.Line, bool)
}

// FormatDuration renders m:ss, or N/A for zero.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "N/A"
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Assistants lists assistants, personas first.
func (p *Printer) Assistants(list []platform.Assistant, dir Directory) {
	p.Header("Assistants")
	p.Printf("Found %d assistant(s)\n", len(list))

	var others []platform.Assistant
	first := true
	for _, a := range list {
		key, persona, ok := dir.PersonaByAssistant(a.ID)
		if !ok {
			others = append(others, a)
			continue
		}
		if first {
			p.Section("Personas")
			first = false
		}
		p.Println()
		p.Println("• " + p.accent.Render(a.Name))
		p.Info("  ID", a.ID)
		p.Info("  Key", key)
		if persona.Difficulty != "" {
			p.Info("  Difficulty", persona.Difficulty)
		}
		p.Info("  Created", a.CreatedAt.Local().Format("2006-01-02"))
		if url := a.WebhookURL(); url != "" {
			p.Info("  Webhook", url)
		}
	}

	if len(others) > 0 {
		p.Section(p.muted.Render("Other assistants"))
		for _, a := range others {
			p.Println()
			p.Println("• " + a.Name)
			p.Info("  ID", a.ID)
			p.Info("  Created", a.CreatedAt.Local().Format("2006-01-02"))
		}
	}
}

func (p *Printer) PhoneNumbers(list []platform.PhoneNumber, dir Directory) {
	p.Header("Phone numbers")
	p.Printf("Found %d phone number(s)\n\n", len(list))

	for _, ph := range list {
		p.phoneEntry(ph, dir)
		p.Println()
	}
}

// PhoneNumber prints one number with its webhook.
func (p *Printer) PhoneNumber(ph platform.PhoneNumber, dir Directory) {
	p.Header("Phone number " + ph.ID)
	p.phoneEntry(ph, dir)
	p.Info("  Webhook", orNA(ph.WebhookURL()))
}

func (p *Printer) phoneEntry(ph platform.PhoneNumber, dir Directory) {
	name := ph.Name
	if name == "" {
		name = "unnamed"
	}
	p.Printf("• %s (%s)\n", p.accent.Render(ph.Number), name)
	p.Info("  ID", ph.ID)
	p.Info("  Status", p.Status(ph.Status))
	if key, line, ok := dir.LineByID(ph.ID); ok {
		p.Info("  Key", key)
		if line.DefaultPersona != "" {
			p.Info("  Default persona", line.DefaultPersona)
		}
	}
	if ph.AssistantID != "" {
		p.Info("  Assigned assistant", ph.AssistantID)
	}
}

func (p *Printer) Calls(list []platform.Call) {
	p.Header("Recent calls")
	p.Printf("Found %d call(s)\n\n", len(list))

	for _, c := range list {
		p.Println("• " + p.accent.Render(c.ID))
		p.Info("  Status", p.Status(c.Status))
		p.Info("  Duration", FormatDuration(c.Duration()))
		p.Info("  Ended", orNA(c.EndedReason))
		p.Info("  Created", c.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		p.Println()
	}
}

// CallDetails prints a reconciled call with its message log.
func (p *Printer) CallDetails(c registry.Call) {
	p.Header("Call " + c.ID)

	p.Section("Call info")
	p.Info("Status", p.Status(string(c.Phase)))
	p.Info("Persona", c.PersonaLabel)
	p.Info("Customer", c.CounterpartNumber)
	p.Info("Started", c.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if c.EndedAt != nil {
		p.Info("Duration", FormatDuration(c.EndedAt.Sub(c.StartedAt)))
	}
	p.Info("Ended reason", orNA(c.EndedReason))

	if c.Analysis != nil {
		p.Section("Analysis")
		if c.Analysis.Summary != "" {
			p.Println("  " + c.Analysis.Summary)
		}
		if score, ok := c.Analysis.Score(); ok {
			p.Info("Score", p.Score(score))
		}
	}

	if len(c.Messages) > 0 {
		p.Section("Conversation")
		for _, m := range c.Messages {
			p.Turn(m.Role, m.Content)
		}
	} else if c.TranscriptTail != "" {
		p.Section("Transcript")
		p.Println(c.TranscriptTail)
	}
}

// Turn prints one line of conversation.
func (p *Printer) Turn(role registry.Role, text string) {
	who := p.accent.Render("Caller")
	if role == registry.RoleAssistant {
		who = p.success.Render("Joey")
	}
	p.Printf("%s: %s\n", who, text)
}

// Analysis prints the post-call evaluation.
func (p *Printer) Analysis(r reconcile.Result) {
	if r.Summary != "" {
		p.Section("Summary")
		p.Println(r.Summary)
	}
	if r.Success != "" {
		p.Println()
		p.Printf("%s %s/10\n", p.bold.Render("Success score:"), r.Success)
	}

	e := r.Evaluation
	if e == nil {
		if !r.Ready() {
			p.Println(p.muted.Render("Analysis not available yet."))
		}
		return
	}

	p.Section("SDR evaluation")
	p.Println()
	p.Printf("  Overall score: %s\n", p.Score(e.OverallScore))
	if e.OverallComment != "" {
		p.Println("  " + e.OverallComment)
	}
	p.Println()
	p.Printf("  Meeting qualified: %s\n", p.YesNo(e.MeetingQualified))
	p.Printf("  Weekly contest: %s\n", p.YesNo(e.WeeklyContestEligible))

	if cs := e.CategoryScores; cs != nil {
		p.Println()
		p.Println("  " + p.accent.Render("Category scores:"))
		p.Printf("    Opening & prep:     %.1f/10\n", cs.OpeningPreparation)
		p.Printf("    Objection handling: %.1f/10\n", cs.ObjectionHandling)
		p.Printf("    Peer discourse:     %.1f/10\n", cs.PeerDiscourse)
		p.Printf("    Business value:     %.1f/10\n", cs.BusinessValue)
		p.Printf("    Professionalism:    %.1f/10\n", cs.Professionalism)
	}
	if e.PushbackQuality != "" {
		p.Println()
		p.Printf("  Pushback quality: %s\n", e.PushbackQuality)
	}
	if len(e.ObjectionsDeployed) > 0 {
		p.Println()
		p.Println("  " + p.accent.Render("Objections deployed:"))
		for _, o := range e.ObjectionsDeployed {
			p.Println("    • " + o)
		}
	}
	if len(e.QuotedExamples) > 0 {
		p.Println()
		p.Println("  " + p.accent.Render("Quoted examples:"))
		for _, ex := range e.QuotedExamples {
			p.Printf("    [%s] %q\n", ex.Category, ex.Quote)
			if ex.Improvement != "" {
				p.Println("      → " + ex.Improvement)
			}
		}
	}
	if e.CoachingProvided != "" {
		p.Println()
		p.Println("  " + p.accent.Render("Coaching:"))
		p.Println("    " + e.CoachingProvided)
	}
}

// Event prints a live webhook event. It matches webhook.HandlerFunc once
// wrapped by the caller.
func (p *Printer) Event(evt event.Event) {
	switch evt.Type {
	case event.TypeCallStarted:
		p.Println()
		p.Println(p.success.Render("Call started: " + evt.CallID()))
		p.Info("Customer", orNA(evt.CustomerNumber()))
		if evt.Call != nil && evt.Call.Monitor != nil && evt.Call.Monitor.ListenURL != "" {
			p.Info("Listen", evt.Call.Monitor.ListenURL)
		}
	case event.TypeTranscript:
		if evt.Transcript != "" && evt.TranscriptType != "partial" {
			p.Println(p.muted.Render("… " + evt.Transcript))
		}
	case event.TypeConversationUpdate:
		if turn, ok := evt.LastTurn(); ok {
			if role, ok := normalize.RoleFromString(turn.Role); ok {
				p.Turn(role, turn.Text())
			}
		}
	case event.TypeEndOfCallReport:
		p.Println()
		p.Println(p.warning.Render("Call ended: " + evt.CallID()))
		p.Info("Reason", orNA(evt.EndedReason))
		if evt.Analysis.IsEmpty() {
			return
		}
		a := normalize.ParseAnalysis(evt.Analysis.Summary, evt.Analysis.SuccessEvaluation, evt.Analysis.StructuredData)
		if a == nil {
			return
		}
		p.Analysis(reconcile.Result{
			CallID:     evt.CallID(),
			Summary:    a.Summary,
			Score:      a.OverallScore,
			Success:    a.SuccessEvaluation,
			Evaluation: a.Evaluation,
		})
	}
}
