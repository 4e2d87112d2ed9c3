// Package launcher places outbound simulation calls.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweeney/callsim/internal/config"
	"github.com/sweeney/callsim/internal/platform"
)

var (
	// ErrConfig marks launch failures caused by local configuration.
	ErrConfig = errors.New("launch configuration error")

	ErrUnknownPersona = fmt.Errorf("%w: unknown persona", ErrConfig)
	ErrUnknownLine    = fmt.Errorf("%w: unknown line", ErrConfig)
	ErrInvalidNumber  = errors.New("invalid phone number")
)

// DefaultCountryCode is prefixed to bare ten digit numbers.
const DefaultCountryCode = "+1"

// Caller is the slice of the platform client used to create calls.
type Caller interface {
	CreateCall(ctx context.Context, req platform.CreateCallRequest) (*platform.Call, error)
}

// Directory resolves persona and line keys.
type Directory interface {
	Persona(key string) (config.Persona, bool)
	Line(key string) (config.Line, bool)
	Defaults() config.DefaultsConfig
	CountryCode() string
}

type Options struct {
	// EarliestAt schedules the call instead of dialing immediately.
	EarliestAt time.Time
}

type Result struct {
	CallID      string `json:"callId"`
	Status      string `json:"status"`
	Number      string `json:"number"`
	PersonaKey  string `json:"persona"`
	LineKey     string `json:"line"`
	AssistantID string `json:"assistantId"`
	From        string `json:"from,omitempty"`
}

type Launcher struct {
	caller Caller
	dir    Directory
	logger *slog.Logger
}

func New(caller Caller, dir Directory, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{caller: caller, dir: dir, logger: logger}
}

// Launch dials number from the line as the persona. Empty keys take the
// configured defaults. Key and number errors are reported before any
// request is made.
func (l *Launcher) Launch(ctx context.Context, number, personaKey, lineKey string, opts Options) (Result, error) {
	defaults := l.dir.Defaults()
	if personaKey == "" {
		personaKey = defaults.Persona
	}
	if lineKey == "" {
		lineKey = defaults.Line
	}

	persona, ok := l.dir.Persona(personaKey)
	if !ok {
		return Result{}, fmt.Errorf("%w %q", ErrUnknownPersona, personaKey)
	}
	line, ok := l.dir.Line(lineKey)
	if !ok {
		return Result{}, fmt.Errorf("%w %q", ErrUnknownLine, lineKey)
	}

	dial, err := NormalizeNumber(number, l.dir.CountryCode())
	if err != nil {
		return Result{}, err
	}

	req := platform.CreateCallRequest{
		AssistantID:   persona.AssistantID,
		PhoneNumberID: line.PhoneNumberID,
		Customer:      platform.Customer{Number: dial},
	}
	if !opts.EarliestAt.IsZero() {
		req.SchedulePlan = &platform.SchedulePlan{
			EarliestAt: opts.EarliestAt.UTC().Format(time.RFC3339Nano),
		}
	}

	call, err := l.caller.CreateCall(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("launching %s call to %s: %w", personaKey, dial, err)
	}

	l.logger.Info("call launched", "call_id", call.ID, "status", call.Status,
		"persona", personaKey, "line", lineKey, "number", dial)

	return Result{
		CallID:      call.ID,
		Status:      call.Status,
		Number:      dial,
		PersonaKey:  personaKey,
		LineKey:     lineKey,
		AssistantID: persona.AssistantID,
		From:        line.Number,
	}, nil
}

// NormalizeNumber turns user input into E.164. Formatting characters are
// stripped, a leading + is kept, ten bare digits get countryCode and
// anything else gets a + prefix.
func NormalizeNumber(input, countryCode string) (string, error) {
	s := strings.TrimSpace(input)
	plus := strings.HasPrefix(s, "+")

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalidNumber, input)
	}

	d := digits.String()
	switch {
	case plus:
		return "+" + d, nil
	case len(d) == 10:
		if countryCode == "" {
			countryCode = DefaultCountryCode
		}
		return countryCode + d, nil
	default:
		return "+" + d, nil
	}
}
