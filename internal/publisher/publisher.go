package publisher

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "callsim"

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Topic builds the topic a call update is published on:
// <prefix>/call/<id>/<kind>. The id always stays a single level; "/"
// and the MQTT wildcards "+" and "#" in it are replaced with "_".
func Topic(prefix, callID, kind string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return fmt.Sprintf("%s/call/%s/%s", prefix, topicLevel.Replace(callID), kind)
}

var topicLevel = strings.NewReplacer("/", "_", "+", "_", "#", "_")
