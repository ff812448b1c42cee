package ledger_test

import (
	"context"
	"errors"
	"ms-tiket/internal/ledger"
	"ms-tiket/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	attempts int
	received []models.LedgerEvent
	block    chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, event models.LedgerEvent) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.received = append(f.received, event)
	return nil
}

func (f *fakePublisher) Received() []models.LedgerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.LedgerEvent(nil), f.received...)
}

func (f *fakePublisher) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func closeDispatcher(t *testing.T, d *ledger.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcher_DeliversInCommitOrder(t *testing.T) {
	pub := &fakePublisher{}
	d := ledger.NewDispatcher([]ledger.Publisher{pub}, ledger.WithBackOff(fastBackOff))

	l := newLedger(t, ledger.WithEvents(d))
	ctx := context.Background()
	vip := registerVIP(t, l)
	_, err := l.Purchase(ctx, userA, vip, ether("1"))
	require.NoError(t, err)
	_, err = l.Purchase(ctx, userB, vip, ether("1"))
	require.NoError(t, err)
	require.NoError(t, l.Withdraw(ctx, owner, ether("2")))

	closeDispatcher(t, d)

	got := pub.Received()
	require.Len(t, got, 4)
	assert.Equal(t, models.EventAddTicket, got[0].Kind)
	assert.Equal(t, models.EventTicketPurchased, got[1].Kind)
	assert.Equal(t, int64(0), got[1].Purchase.TicketID)
	assert.Equal(t, int64(1), got[1].Purchase.Sold)
	assert.Equal(t, models.EventTicketPurchased, got[2].Kind)
	assert.Equal(t, int64(1), got[2].Purchase.TicketID)
	assert.Equal(t, int64(2), got[2].Purchase.Sold)
	assert.Equal(t, models.EventTreasuryWithdrawn, got[3].Kind)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	pub := &fakePublisher{failures: 3}
	d := ledger.NewDispatcher([]ledger.Publisher{pub}, ledger.WithBackOff(fastBackOff))

	d.Enqueue(models.NewAddTicketEvent(models.TicketType{ID: 0, Name: "VIP", Total: 2, URI: "ipfs://vip"}, time.Now()))
	d.Enqueue(models.NewAddTicketEvent(models.TicketType{ID: 1, Name: "GA", Total: 9, URI: "ipfs://ga"}, time.Now()))
	closeDispatcher(t, d)

	got := pub.Received()
	require.Len(t, got, 2)
	assert.Equal(t, "0", got[0].Key())
	assert.Equal(t, "1", got[1].Key())
	assert.Equal(t, 5, pub.Attempts())
}

func TestDispatcher_FailingPublisherDoesNotBlockOthers(t *testing.T) {
	healthy := &fakePublisher{}
	flaky := &fakePublisher{failures: 2}
	d := ledger.NewDispatcher([]ledger.Publisher{flaky, healthy}, ledger.WithBackOff(fastBackOff))

	event := models.NewAddTicketEvent(models.TicketType{ID: 4, Name: "VIP", Total: 2, URI: "ipfs://vip"}, time.Now())
	d.Enqueue(event)
	closeDispatcher(t, d)

	require.Len(t, healthy.Received(), 1)
	require.Len(t, flaky.Received(), 1)
	assert.Equal(t, event.EventID, healthy.Received()[0].EventID)
}

func TestDispatcher_CloseTimeoutAbandonsDelivery(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	d := ledger.NewDispatcher([]ledger.Publisher{pub}, ledger.WithBackOff(fastBackOff))

	d.Enqueue(models.NewAddTicketEvent(models.TicketType{ID: 0, Name: "VIP", Total: 2, URI: "ipfs://vip"}, time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, pub.Received())
}

func TestDispatcher_EnqueueAfterCloseIsDropped(t *testing.T) {
	pub := &fakePublisher{}
	d := ledger.NewDispatcher([]ledger.Publisher{pub}, ledger.WithBackOff(fastBackOff))
	closeDispatcher(t, d)

	d.Enqueue(models.NewAddTicketEvent(models.TicketType{ID: 0, Name: "VIP", Total: 2, URI: "ipfs://vip"}, time.Now()))
	assert.Equal(t, 0, d.Pending())
	assert.Empty(t, pub.Received())
}

func TestDispatcher_EnqueueDoesNotBlockOnSlowPublisher(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	d := ledger.NewDispatcher([]ledger.Publisher{pub}, ledger.WithBackOff(fastBackOff))

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 100; i++ {
			d.Enqueue(models.NewAddTicketEvent(models.TicketType{ID: i, Name: "T", Total: 1, URI: "ipfs://t"}, time.Now()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked behind a slow publisher")
	}
	assert.GreaterOrEqual(t, d.Pending(), 99)

	close(pub.block)
	closeDispatcher(t, d)
	assert.Len(t, pub.Received(), 100)
}
