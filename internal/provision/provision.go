// Package provision pushes local configuration to the voice platform.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/sweeney/callsim/internal/config"
	"github.com/sweeney/callsim/internal/platform"
)

// WebhookTimeoutSeconds is how long the platform waits on our webhook.
const WebhookTimeoutSeconds = 30

// Resource kinds reported in results.
const (
	KindAssistant   = "assistant"
	KindPhoneNumber = "phone"
)

// API is the slice of the platform client used here.
type API interface {
	ListAssistants(ctx context.Context) ([]platform.Assistant, error)
	UpdateAssistant(ctx context.Context, id string, patch map[string]any) (*platform.Assistant, error)
	ListPhoneNumbers(ctx context.Context) ([]platform.PhoneNumber, error)
	UpdatePhoneNumber(ctx context.Context, id string, patch map[string]any) (*platform.PhoneNumber, error)
}

// Personas resolves persona keys.
type Personas interface {
	Persona(key string) (config.Persona, bool)
	PersonaKeys() []string
}

// ErrUnknownPersona is returned by SyncPersona for a key not in the
// directory.
var ErrUnknownPersona = errors.New("unknown persona")

// ResourceResult is the outcome for one assistant or phone number.
type ResourceResult struct {
	Kind       string `json:"type"`
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Number     string `json:"number,omitempty"`
	WebhookURL string `json:"webhookUrl,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type Report struct {
	WebhookURL string           `json:"webhookUrl,omitempty"`
	Results    []ResourceResult `json:"results"`
}

// Failed counts resources that could not be updated.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Success {
			n++
		}
	}
	return n
}

type Provisioner struct {
	api      API
	personas Personas
	logger   *slog.Logger
}

func New(api API, personas Personas, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{api: api, personas: personas, logger: logger}
}

func serverPatch(url string) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"url":            url,
			"timeoutSeconds": WebhookTimeoutSeconds,
		},
	}
}

// ConfigureWebhooks points every assistant and phone number at url. A
// failed update is recorded and the rest still proceed; only a failed
// listing aborts.
func (p *Provisioner) ConfigureWebhooks(ctx context.Context, url string) (Report, error) {
	if url == "" {
		return Report{}, errors.New("webhook url is required")
	}

	assistants, err := p.api.ListAssistants(ctx)
	if err != nil {
		return Report{}, err
	}
	phones, err := p.api.ListPhoneNumbers(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{WebhookURL: url, Results: make([]ResourceResult, 0, len(assistants)+len(phones))}
	for _, a := range assistants {
		res := ResourceResult{Kind: KindAssistant, ID: a.ID, Name: a.Name, WebhookURL: url}
		if _, err := p.api.UpdateAssistant(ctx, a.ID, serverPatch(url)); err != nil {
			res.Error = err.Error()
			p.logger.Warn("webhook update failed", "type", KindAssistant, "id", a.ID, "err", err)
		} else {
			res.Success = true
		}
		report.Results = append(report.Results, res)
	}
	for _, ph := range phones {
		name := ph.Name
		if name == "" {
			name = ph.Number
		}
		res := ResourceResult{Kind: KindPhoneNumber, ID: ph.ID, Name: name, Number: ph.Number, WebhookURL: url}
		if _, err := p.api.UpdatePhoneNumber(ctx, ph.ID, serverPatch(url)); err != nil {
			res.Error = err.Error()
			p.logger.Warn("webhook update failed", "type", KindPhoneNumber, "id", ph.ID, "err", err)
		} else {
			res.Success = true
		}
		report.Results = append(report.Results, res)
	}

	p.logger.Info("webhooks configured", "url", url, "resources", len(report.Results), "failed", report.Failed())
	return report, nil
}

// WebhookStatus reports the webhook currently set on each resource.
func (p *Provisioner) WebhookStatus(ctx context.Context) (Report, error) {
	assistants, err := p.api.ListAssistants(ctx)
	if err != nil {
		return Report{}, err
	}
	phones, err := p.api.ListPhoneNumbers(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Results: make([]ResourceResult, 0, len(assistants)+len(phones))}
	for _, a := range assistants {
		report.Results = append(report.Results, ResourceResult{
			Kind: KindAssistant, ID: a.ID, Name: a.Name, WebhookURL: a.WebhookURL(), Success: true,
		})
	}
	for _, ph := range phones {
		name := ph.Name
		if name == "" {
			name = ph.Number
		}
		report.Results = append(report.Results, ResourceResult{
			Kind: KindPhoneNumber, ID: ph.ID, Name: name, Number: ph.Number, WebhookURL: ph.WebhookURL(), Success: true,
		})
	}
	return report, nil
}

// SyncPersona pushes a persona's name, its overrides and, when webhookURL
// is set, the webhook server to its assistant.
func (p *Provisioner) SyncPersona(ctx context.Context, key, webhookURL string) (*platform.Assistant, error) {
	persona, ok := p.personas.Persona(key)
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownPersona, key, p.personas.PersonaKeys())
	}

	patch := map[string]any{}
	maps.Copy(patch, persona.Overrides)
	if persona.Name != "" {
		patch["name"] = persona.Name
	}
	if webhookURL != "" {
		maps.Copy(patch, serverPatch(webhookURL))
	}

	a, err := p.api.UpdateAssistant(ctx, persona.AssistantID, patch)
	if err != nil {
		return nil, fmt.Errorf("syncing persona %s: %w", key, err)
	}
	p.logger.Info("persona synced", "persona", key, "assistant_id", persona.AssistantID, "fields", len(patch))
	return a, nil
}
