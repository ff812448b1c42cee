package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel and returns a func that closes the connection behind it.
type Dialer func() (Channel, func() error, error)

// Publisher sends ledger events to a durable topic exchange, routed by
// event kind. A failed publish drops the connection so the next attempt
// redials.
type Publisher struct {
	exchange string
	dial     Dialer
	log      *logger.Logger

	mu        sync.Mutex
	ch        Channel
	closeConn func() error
}

func NewPublisher(url, exchange string, log *logger.Logger) *Publisher {
	return NewPublisherWithDialer(exchange, func() (Channel, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		return ch, conn.Close, nil
	}, log)
}

func NewPublisherWithDialer(exchange string, dial Dialer, log *logger.Logger) *Publisher {
	return &Publisher{exchange: exchange, dial: dial, log: log}
}

func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}

	ch, closeConn, err := p.dial()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		closeConn()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.ch, p.closeConn = ch, closeConn
	p.log.Info("RABBITMQ", fmt.Sprintf("Connected, publishing to exchange %s", p.exchange))
	return ch, nil
}

func (p *Publisher) Publish(ctx context.Context, event models.LedgerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Kind, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.CommittedAt.UTC(),
		Type:         string(event.Kind),
		Body:         body,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := ch.PublishWithContext(ctx, p.exchange, string(event.Kind), false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("publish %s event %s: %w", event.Kind, event.EventID, err)
	}

	p.log.Debug("RABBITMQ", fmt.Sprintf("Published %s event %s", event.Kind, event.EventID))
	return nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.closeConn != nil {
		p.closeConn()
		p.closeConn = nil
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
