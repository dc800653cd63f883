package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the event type to form the NATS subject.
const DefaultSubjectPrefix = "kudos.notify"

// ConnectNATS dials the NATS server that chat bridges listen on.
func ConnectNATS(url, clientName string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the subject an event type is published on,
// e.g. "kudos.notify.transfer.sent".
func Subject(prefix string, eventType EventType) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(eventType)
}

// NewNATSHandler publishes each event as JSON on Subject(prefix, type).
func NewNATSHandler(nc *nats.Conn, prefix string) Handler {
	return func(_ context.Context, event Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if err := nc.Publish(Subject(prefix, event.Type), data); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		return nil
	}
}
