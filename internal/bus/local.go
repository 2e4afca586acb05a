package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

// LocalBus is a channel-backed fallback used when Redis is not configured,
// and by tests. One LocalBus stands in for one stream.
type LocalBus struct {
	ch          chan Message
	maxAttempts int
	logger      *log.Logger

	dlqMu sync.Mutex
	dlq   []Message
}

func NewLocalBus(bufferSize, maxAttempts int, logger *log.Logger) *LocalBus {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalBus{
		ch:          make(chan Message, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
		dlq:         make([]Message, 0),
	}
}

func (b *LocalBus) Publish(ctx context.Context, message Message) error {
	if message.PublishedAt.IsZero() {
		message.PublishedAt = time.Now().UTC()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- message:
		return nil
	}
}

func (b *LocalBus) Consume(ctx context.Context, handler func(context.Context, Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-b.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= b.maxAttempts {
				b.dlqMu.Lock()
				b.dlq = append(b.dlq, message)
				b.dlqMu.Unlock()
				if b.logger != nil {
					b.logger.Printf("local bus moved message to DLQ job_id=%s err=%v", message.JobID, err)
				}
				continue
			}

			delay := time.Duration(message.Attempt) * 500 * time.Millisecond
			go func(retryMessage Message) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
					b.ch <- retryMessage
				}
			}(message)
		}
	}
}

func (b *LocalBus) DLQSize() int {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	return len(b.dlq)
}

// Drain returns the messages currently buffered without consuming them
// through a handler. Intended for tests.
func (b *LocalBus) Drain() []Message {
	messages := make([]Message, 0, len(b.ch))
	for {
		select {
		case message := <-b.ch:
			messages = append(messages, message)
		default:
			return messages
		}
	}
}
