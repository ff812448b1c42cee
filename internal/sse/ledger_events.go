package sse

import (
	"context"
	"ms-tiket/internal/models"
	"strconv"
	"sync"
)

const allTypes = "*"

// LedgerEventEmitter fans ledger events out to Server-Sent-Events clients.
// It implements ledger.Publisher; a slow client misses events rather than
// holding up delivery.
type LedgerEventEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan models.LedgerEvent
	buffer  int
}

func NewLedgerEventEmitter() *LedgerEventEmitter {
	return &LedgerEventEmitter{
		clients: make(map[string][]chan models.LedgerEvent),
		buffer:  10,
	}
}

// SubscribeAll receives every ledger event until ctx is done.
func (e *LedgerEventEmitter) SubscribeAll(ctx context.Context) <-chan models.LedgerEvent {
	return e.subscribe(ctx, allTypes)
}

// SubscribeToType receives AddTicket and purchase events of one ticket type.
func (e *LedgerEventEmitter) SubscribeToType(ctx context.Context, typeID int64) <-chan models.LedgerEvent {
	return e.subscribe(ctx, strconv.FormatInt(typeID, 10))
}

func (e *LedgerEventEmitter) subscribe(ctx context.Context, key string) <-chan models.LedgerEvent {
	clientChan := make(chan models.LedgerEvent, e.buffer)

	e.mu.Lock()
	e.clients[key] = append(e.clients[key], clientChan)
	e.mu.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeClient(key, clientChan)
	}()

	return clientChan
}

func (e *LedgerEventEmitter) Publish(_ context.Context, event models.LedgerEvent) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	e.broadcast(e.clients[allTypes], event)
	if event.Kind != models.EventTreasuryWithdrawn {
		e.broadcast(e.clients[event.Key()], event)
	}
	return nil
}

func (e *LedgerEventEmitter) broadcast(clients []chan models.LedgerEvent, event models.LedgerEvent) {
	for _, clientChan := range clients {
		select {
		case clientChan <- event:
		default:
			// Channel buffer full, skip this client
		}
	}
}

func (e *LedgerEventEmitter) removeClient(key string, clientChan chan models.LedgerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[key]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[key] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[key]) == 0 {
		delete(e.clients, key)
	}
}

// ClientCount returns the number of subscribers to one ticket type, or to
// every event when typeID is negative.
func (e *LedgerEventEmitter) ClientCount(typeID int64) int {
	key := allTypes
	if typeID >= 0 {
		key = strconv.FormatInt(typeID, 10)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[key])
}
