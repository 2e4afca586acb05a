package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type StreamConfig struct {
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsBus implements Publisher+Consumer for one logical stream backed by
// Redis Streams with a consumer group. The client is shared with the job
// store; one StreamsBus exists per stream.
type StreamsBus struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
}

func NewStreamsBus(ctx context.Context, client *redis.Client, cfg StreamConfig) (*StreamsBus, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "portfolio_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	b := &StreamsBus{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
	}
	if err := b.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *StreamsBus) Publish(ctx context.Context, message Message) error {
	publishedAt := message.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}
	_, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{
			"job_id":       message.JobID,
			"payload":      string(message.Payload),
			"attempt":      message.Attempt,
			"published_at": publishedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to stream %s: %w", b.stream, err)
	}
	return nil
}

func (b *StreamsBus) Consume(ctx context.Context, handler func(context.Context, Message) error) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  []string{b.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup %s: %w", b.stream, err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				message, parseErr := parseStreamMessage(item)
				if parseErr != nil {
					_ = b.sendToDLQ(ctx, Message{}, item, parseErr.Error())
					_ = b.ackAndDelete(ctx, item.ID)
					continue
				}

				handleErr := handler(ctx, message)
				if handleErr == nil {
					_ = b.ackAndDelete(ctx, item.ID)
					continue
				}

				message.Attempt++
				if message.Attempt >= b.maxAttempts {
					_ = b.sendToDLQ(ctx, message, item, handleErr.Error())
					_ = b.ackAndDelete(ctx, item.ID)
					continue
				}

				if requeueErr := b.Publish(ctx, message); requeueErr != nil {
					_ = b.sendToDLQ(ctx, message, item, fmt.Sprintf("requeue failed: %v", requeueErr))
				}
				_ = b.ackAndDelete(ctx, item.ID)
			}
		}
	}
}

func (b *StreamsBus) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group %s: %w", b.stream, err)
}

func (b *StreamsBus) ackAndDelete(ctx context.Context, streamID string) error {
	if err := b.client.XAck(ctx, b.stream, b.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := b.client.XDel(ctx, b.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (b *StreamsBus) sendToDLQ(ctx context.Context, message Message, item redis.XMessage, errorMessage string) error {
	values := map[string]any{
		"stream_id": item.ID,
		"job_id":    message.JobID,
		"payload":   string(message.Payload),
		"attempt":   message.Attempt,
		"error":     errorMessage,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: b.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func parseStreamMessage(item redis.XMessage) (Message, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return Message{}, err
	}
	payloadString, err := getString("payload")
	if err != nil {
		return Message{}, err
	}
	attemptString, err := getString("attempt")
	if err != nil {
		return Message{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return Message{}, fmt.Errorf("invalid attempt: %w", err)
	}
	publishedAtString, err := getString("published_at")
	if err != nil {
		return Message{}, err
	}
	publishedAt, err := time.Parse(time.RFC3339Nano, publishedAtString)
	if err != nil {
		return Message{}, fmt.Errorf("invalid published_at: %w", err)
	}

	return Message{
		JobID:       jobID,
		Payload:     []byte(payloadString),
		Attempt:     attempt,
		PublishedAt: publishedAt,
	}, nil
}
