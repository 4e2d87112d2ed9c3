// Package platform is a REST client for the Vapi voice platform.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.vapi.ai"
	DefaultCallLimit = 50

	maxErrorBody = 64 << 10
)

// Client talks to the platform API with a bearer token.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a Client. An empty apiKey fails with ErrMissingAPIKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		http:    newDefaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newDefaultHTTPClient sets transport timeouts and leaves the overall
// request lifetime to context deadlines.
func newDefaultHTTPClient() *http.Client {
	return &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}}
}

func (c *Client) ListAssistants(ctx context.Context) ([]Assistant, error) {
	var out []Assistant
	if err := c.do(ctx, http.MethodGet, "/assistant", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("listing assistants: %w", err)
	}
	return out, nil
}

// GetAssistant returns the full assistant document as sent by the
// platform, since its shape is much larger than Assistant.
func (c *Client) GetAssistant(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/assistant/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("getting assistant %s: %w", id, err)
	}
	return out, nil
}

// UpdateAssistant applies a partial update to an assistant.
func (c *Client) UpdateAssistant(ctx context.Context, id string, patch map[string]any) (*Assistant, error) {
	var out Assistant
	if err := c.do(ctx, http.MethodPatch, "/assistant/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, fmt.Errorf("updating assistant %s: %w", id, err)
	}
	return &out, nil
}

func (c *Client) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	var out []PhoneNumber
	if err := c.do(ctx, http.MethodGet, "/phone-number", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("listing phone numbers: %w", err)
	}
	return out, nil
}

func (c *Client) GetPhoneNumber(ctx context.Context, id string) (*PhoneNumber, error) {
	var out PhoneNumber
	if err := c.do(ctx, http.MethodGet, "/phone-number/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("getting phone number %s: %w", id, err)
	}
	return &out, nil
}

// UpdatePhoneNumber applies a partial update to a phone number.
func (c *Client) UpdatePhoneNumber(ctx context.Context, id string, patch map[string]any) (*PhoneNumber, error) {
	var out PhoneNumber
	if err := c.do(ctx, http.MethodPatch, "/phone-number/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, fmt.Errorf("updating phone number %s: %w", id, err)
	}
	return &out, nil
}

func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (*Call, error) {
	var out Call
	if err := c.do(ctx, http.MethodPost, "/call", nil, req, &out); err != nil {
		return nil, fmt.Errorf("creating call: %w", err)
	}
	return &out, nil
}

func (c *Client) ListCalls(ctx context.Context, opts ListCallsOptions) ([]Call, error) {
	q := url.Values{}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultCallLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if opts.AssistantID != "" {
		q.Set("assistantId", opts.AssistantID)
	}
	if !opts.CreatedAfter.IsZero() {
		q.Set("createdAtGt", opts.CreatedAfter.UTC().Format(time.RFC3339))
	}

	var out []Call
	if err := c.do(ctx, http.MethodGet, "/call", q, nil, &out); err != nil {
		return nil, fmt.Errorf("listing calls: %w", err)
	}
	return out, nil
}

func (c *Client) GetCall(ctx context.Context, id string) (*Call, error) {
	var out Call
	if err := c.do(ctx, http.MethodGet, "/call/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("getting call %s: %w", id, err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(b),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
