package catalog

import (
	"context"
	"errors"
	"fmt"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrMalformedEvent = errors.New("malformed ledger event")

// Entry is the observer's view of one ticket type.
type Entry struct {
	TypeID    int64           `json:"type_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Total     int64           `json:"total"`
	Sold      int64           `json:"sold"`
	Remaining int64           `json:"remaining"`
	URI       string          `json:"uri"`
}

// Projection rebuilds the ticket catalogue from ledger events. Events are
// delivered at least once, so duplicates are dropped by event id and sold
// counts only move forward.
type Projection struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	seen    map[string]struct{}
	log     *logger.Logger
}

func NewProjection(log *logger.Logger) *Projection {
	return &Projection{
		entries: make(map[int64]*Entry),
		seen:    make(map[string]struct{}),
		log:     log,
	}
}

// Apply folds one event into the catalogue. It matches kafka.EventHandler.
func (p *Projection) Apply(_ context.Context, event models.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.seen[event.EventID]; dup {
		p.log.Debug("CATALOG", fmt.Sprintf("Duplicate event %s ignored", event.EventID))
		return nil
	}

	switch event.Kind {
	case models.EventAddTicket:
		if event.AddTicket == nil {
			return fmt.Errorf("%w: %s has no AddTicket payload", ErrMalformedEvent, event.EventID)
		}
		a := event.AddTicket
		e := p.entry(a.TypeID)
		e.Name, e.Price, e.Total, e.URI = a.Name, a.Price, a.Total, a.URI
		if a.Sold > e.Sold {
			e.Sold = a.Sold
		}
		e.Remaining = e.Total - e.Sold
		p.log.Info("CATALOG", fmt.Sprintf("Ticket type %d %q added (total %d)", a.TypeID, a.Name, a.Total))

	case models.EventTicketPurchased:
		if event.Purchase == nil {
			return fmt.Errorf("%w: %s has no purchase payload", ErrMalformedEvent, event.EventID)
		}
		pu := event.Purchase
		e := p.entry(pu.TypeID)
		if pu.Sold > e.Sold {
			e.Sold = pu.Sold
		}
		if e.Total == 0 {
			e.Total = pu.Total
		}
		e.Remaining = e.Total - e.Sold

	default:
		// Treasury events carry nothing for the catalogue.
	}

	p.seen[event.EventID] = struct{}{}
	return nil
}

func (p *Projection) entry(typeID int64) *Entry {
	e, ok := p.entries[typeID]
	if !ok {
		e = &Entry{TypeID: typeID}
		p.entries[typeID] = e
	}
	return e
}

// Entries returns the catalogue in type id order.
func (p *Projection) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeID < out[j].TypeID })
	return out
}

func (p *Projection) Entry(typeID int64) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[typeID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
