package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Message is the transport envelope for every event on the bus. Payload
// carries the JSON-encoded domain event for the stream the message rides on.
type Message struct {
	JobID       string          `json:"job_id"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	PublishedAt time.Time       `json:"published_at"`
}

// Publisher sends messages onto one logical stream.
type Publisher interface {
	Publish(ctx context.Context, message Message) error
}

// Consumer receives messages from one logical stream and runs handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, Message) error) error
}
