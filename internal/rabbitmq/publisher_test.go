package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"ms-tiket/internal/rabbitmq"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared []string
	sent     []published
	failNext error
	closed   bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := c.failNext; err != nil {
		c.failNext = nil
		return err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func addTicketEvent() models.LedgerEvent {
	return models.NewAddTicketEvent(models.TicketType{
		ID: 3, Name: "VIP", Price: decimal.NewFromInt(100), Total: 2, URI: "ipfs://vip",
	}, time.Now())
}

func TestPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	dials := 0
	pub := rabbitmq.NewPublisherWithDialer("tiket.ledger", func() (rabbitmq.Channel, func() error, error) {
		dials++
		return ch, func() error { return nil }, nil
	}, logger.Discard())

	event := addTicketEvent()
	require.NoError(t, pub.Publish(context.Background(), event))
	require.NoError(t, pub.Publish(context.Background(), event))

	assert.Equal(t, 1, dials, "channel is reused between publishes")
	assert.Equal(t, []string{"tiket.ledger:topic"}, ch.declared)
	require.Len(t, ch.sent, 2)

	sent := ch.sent[0]
	assert.Equal(t, "tiket.ledger", sent.exchange)
	assert.Equal(t, string(models.EventAddTicket), sent.key)
	assert.Equal(t, event.EventID, sent.msg.MessageId)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)

	var decoded models.LedgerEvent
	require.NoError(t, json.Unmarshal(sent.msg.Body, &decoded))
	assert.Equal(t, "VIP", decoded.AddTicket.Name)
}

func TestPublisher_RedialsAfterFailure(t *testing.T) {
	first := &fakeChannel{failNext: errors.New("channel closed")}
	second := &fakeChannel{}
	channels := []*fakeChannel{first, second}

	pub := rabbitmq.NewPublisherWithDialer("tiket.ledger", func() (rabbitmq.Channel, func() error, error) {
		ch := channels[0]
		channels = channels[1:]
		return ch, func() error { return nil }, nil
	}, logger.Discard())

	event := addTicketEvent()
	require.Error(t, pub.Publish(context.Background(), event))
	assert.True(t, first.closed)

	require.NoError(t, pub.Publish(context.Background(), event))
	assert.Len(t, second.sent, 1)
}

func TestPublisher_DialFailure(t *testing.T) {
	pub := rabbitmq.NewPublisherWithDialer("tiket.ledger", func() (rabbitmq.Channel, func() error, error) {
		return nil, nil, errors.New("connection refused")
	}, logger.Discard())

	err := pub.Publish(context.Background(), addTicketEvent())
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, pub.Close())
}
