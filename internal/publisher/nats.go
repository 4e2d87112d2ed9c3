package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes onto NATS subjects. Topics use "/" separators
// like MQTT and are mapped to dotted subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NATSOptions configures the NATS publisher.
type NATSOptions struct {
	URL    string
	Name   string
	Logger *slog.Logger
}

// NewNATSPublisher connects to the NATS server at opts.URL.
func NewNATSPublisher(opts NATSOptions) (*NATSPublisher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("lost NATS connection", "url", url, "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Subject converts a slash separated topic into a NATS subject. Each
// segment becomes one token: characters NATS reads as separators or
// wildcards are replaced with "_".
func Subject(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i, part := range parts {
		parts[i] = subjectToken(part)
	}
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>', unicode.IsSpace(r):
			return '_'
		}
		return r
	}, s)
}

// Publish does not block on the server; ctx is only checked up front.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return p.conn.Publish(Subject(topic), payload)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
