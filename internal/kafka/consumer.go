package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrSkipEvent tells the consumer to drop an event instead of retrying it.
var ErrSkipEvent = errors.New("skip event")

// EventHandler applies one ledger event. Returning an error makes the
// consumer retry the same message unless it wraps ErrSkipEvent.
type EventHandler func(ctx context.Context, event models.LedgerEvent) error

type Consumer struct {
	reader     MessageReader
	logger     *logger.Logger
	newBackOff func() backoff.BackOff
}

// NewConsumer creates a group consumer over the given topics
func NewConsumer(brokers []string, groupID string, topics []string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, log)
}

func NewConsumerWithReader(reader MessageReader, log *logger.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// WithBackOff replaces the retry schedule used when the handler fails.
func (c *Consumer) WithBackOff(newBackOff func() backoff.BackOff) *Consumer {
	c.newBackOff = newBackOff
	return c
}

// Run fetches, handles and commits messages until ctx is cancelled. Offsets
// are committed only after the handler succeeds; undecodable messages are
// logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle EventHandler) error {
	c.logger.Info("KAFKA", "🔄 Kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		var event models.LedgerEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("⚠️ Skipping undecodable message %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err))
		} else if err := c.handle(ctx, handle, event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handle EventHandler, event models.LedgerEvent) error {
	op := func() error {
		err := handle(ctx, event)
		if errors.Is(err, ErrSkipEvent) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Error("KAFKA", fmt.Sprintf("❌ Handling %s event %s failed, retrying in %s: %v", event.Kind, event.EventID, wait, err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	if errors.Is(err, ErrSkipEvent) {
		c.logger.Warn("KAFKA", fmt.Sprintf("Dropping %s event %s: %v", event.Kind, event.EventID, err))
		return nil
	}
	return err
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
