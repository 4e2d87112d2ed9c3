package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingAPIKey is a configuration error: no credential was given.
	ErrMissingAPIKey = errors.New("VAPI_API_KEY environment variable is required")

	// ErrNotFound matches any APIError with status 404.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// TransportError wraps failures talking to the platform (DNS, TLS,
// timeouts, reset connections).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// errorMessage extracts a human readable message from an error body. The
// platform sends {"message": "..."} or {"message": ["...", "..."]}.
func errorMessage(body []byte) string {
	var env struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		var s string
		if json.Unmarshal(env.Message, &s) == nil && s != "" {
			return s
		}
		var list []string
		if json.Unmarshal(env.Message, &list) == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
		if env.Error != "" {
			return env.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
