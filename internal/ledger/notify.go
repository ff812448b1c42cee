package ledger

import (
	"context"
	"fmt"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Publisher delivers one ledger event to an external channel.
type Publisher interface {
	Publish(ctx context.Context, event models.LedgerEvent) error
}

// Dispatcher forwards ledger events to publishers in commit order with
// at-least-once delivery. Enqueue never blocks; a single worker drains the
// queue and retries each publisher until it succeeds or the dispatcher is
// closed.
type Dispatcher struct {
	publishers []Publisher
	log        *logger.Logger
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	queue   []models.LedgerEvent
	closing bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

type DispatcherOption func(*Dispatcher)

// WithBackOff sets the retry schedule used for every delivery attempt.
func WithBackOff(newBackOff func() backoff.BackOff) DispatcherOption {
	return func(d *Dispatcher) { d.newBackOff = newBackOff }
}

func WithDispatcherLogger(log *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func NewDispatcher(publishers []Publisher, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		publishers: publishers,
		log:        logger.Discard(),
		newBackOff: defaultBackOff,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

func (d *Dispatcher) Enqueue(event models.LedgerEvent) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.log.Warn("DISPATCH", fmt.Sprintf("Dispatcher closed, dropping %s event %s", event.Kind, event.EventID))
		return
	}
	d.queue = append(d.queue, event)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many events are waiting for delivery.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closing := d.closing
			d.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-d.wake:
				continue
			case <-d.ctx.Done():
				return
			}
		}
		event := d.queue[0]
		d.mu.Unlock()

		d.deliver(event)

		d.mu.Lock()
		d.queue[0] = models.LedgerEvent{}
		d.queue = d.queue[1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) deliver(event models.LedgerEvent) {
	for _, p := range d.publishers {
		attempt := 0
		op := func() error {
			attempt++
			return p.Publish(d.ctx, event)
		}
		notify := func(err error, wait time.Duration) {
			d.log.Warn("DISPATCH", fmt.Sprintf("Publishing %s event %s failed (attempt %d), retrying in %s: %v",
				event.Kind, event.EventID, attempt, wait, err))
		}

		if err := backoff.RetryNotify(op, backoff.WithContext(d.newBackOff(), d.ctx), notify); err != nil {
			d.log.Error("DISPATCH", fmt.Sprintf("Gave up publishing %s event %s: %v", event.Kind, event.EventID, err))
			continue
		}
		d.log.Debug("DISPATCH", fmt.Sprintf("Published %s event %s", event.Kind, event.EventID))
	}
}

// Close stops accepting events and waits for the queue to drain. If ctx
// expires first, in-flight retries are abandoned and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}
