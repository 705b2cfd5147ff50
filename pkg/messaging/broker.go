package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	// Publish sends message on channel. []byte and json.RawMessage are sent
	// as-is; anything else is JSON encoded.
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope written to the appointments channel.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
