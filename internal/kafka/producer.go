package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-tiket/internal/config"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes ledger events, one topic per event kind, keyed by
// ticket type so events of one type stay on one partition.
type Producer struct {
	Writer MessageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

func (p *Producer) TopicFor(kind models.LedgerEventKind) (string, error) {
	switch kind {
	case models.EventAddTicket:
		return p.Topics.TicketAdded, nil
	case models.EventTicketPurchased:
		return p.Topics.TicketPurchased, nil
	case models.EventTreasuryWithdrawn:
		return p.Topics.TreasuryWithdrawn, nil
	default:
		return "", fmt.Errorf("no topic for event kind %q", kind)
	}
}

// Publish streams one ledger event to Kafka
func (p *Producer) Publish(ctx context.Context, event models.LedgerEvent) error {
	topic, err := p.TopicFor(event.Kind)
	if err != nil {
		return err
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind, err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.Key()),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "kind", Value: []byte(event.Kind)},
		},
		Time: event.CommittedAt,
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}

	p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("%s event %s key=%s", event.Kind, event.EventID, event.Key()))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
