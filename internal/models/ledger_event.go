package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LedgerEventKind string

const (
	EventAddTicket         LedgerEventKind = "AddTicket"
	EventTicketPurchased   LedgerEventKind = "TicketPurchased"
	EventTreasuryWithdrawn LedgerEventKind = "TreasuryWithdrawn"
)

// LedgerEvent is the notification emitted after a committed mutation.
// EventID is unique per event so consumers can drop redeliveries.
type LedgerEvent struct {
	EventID     string          `json:"event_id"`
	Kind        LedgerEventKind `json:"kind"`
	CommittedAt time.Time       `json:"committed_at"`

	AddTicket  *AddTicketPayload  `json:"add_ticket,omitempty"`
	Purchase   *PurchasePayload   `json:"purchase,omitempty"`
	Withdrawal *WithdrawalPayload `json:"withdrawal,omitempty"`
}

type AddTicketPayload struct {
	TypeID int64           `json:"type_id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Total  int64           `json:"total"`
	Sold   int64           `json:"sold"`
	URI    string          `json:"uri"`
}

type PurchasePayload struct {
	TicketID int64           `json:"ticket_id"`
	TypeID   int64           `json:"type_id"`
	Buyer    string          `json:"buyer"`
	Paid     decimal.Decimal `json:"paid"`
	Sold     int64           `json:"sold"`
	Total    int64           `json:"total"`
}

type WithdrawalPayload struct {
	WithdrawalID int64           `json:"withdrawal_id"`
	To           string          `json:"to"`
	Amount       decimal.Decimal `json:"amount"`
	Balance      decimal.Decimal `json:"balance"`
}

// NewAddTicketEvent builds the AddTicket(typeId, name, price, total, sold, uri) event.
func NewAddTicketEvent(t TicketType, at time.Time) LedgerEvent {
	return LedgerEvent{
		EventID:     uuid.NewString(),
		Kind:        EventAddTicket,
		CommittedAt: at,
		AddTicket: &AddTicketPayload{
			TypeID: t.ID,
			Name:   t.Name,
			Price:  t.Price,
			Total:  t.Total,
			Sold:   t.Sold,
			URI:    t.URI,
		},
	}
}

func NewPurchaseEvent(ticket TicketOwnership, t TicketType, at time.Time) LedgerEvent {
	return LedgerEvent{
		EventID:     uuid.NewString(),
		Kind:        EventTicketPurchased,
		CommittedAt: at,
		Purchase: &PurchasePayload{
			TicketID: ticket.ID,
			TypeID:   ticket.TypeID,
			Buyer:    ticket.Owner,
			Paid:     ticket.Paid,
			Sold:     t.Sold,
			Total:    t.Total,
		},
	}
}

func NewWithdrawalEvent(w Withdrawal, balance decimal.Decimal) LedgerEvent {
	return LedgerEvent{
		EventID:     uuid.NewString(),
		Kind:        EventTreasuryWithdrawn,
		CommittedAt: w.CreatedAt,
		Withdrawal: &WithdrawalPayload{
			WithdrawalID: w.ID,
			To:           w.To,
			Amount:       w.Amount,
			Balance:      balance,
		},
	}
}

// Key is the partition key for the event: the ticket type id, or
// "treasury" for withdrawals, so per-type events stay ordered.
func (e LedgerEvent) Key() string {
	switch {
	case e.AddTicket != nil:
		return strconv.FormatInt(e.AddTicket.TypeID, 10)
	case e.Purchase != nil:
		return strconv.FormatInt(e.Purchase.TypeID, 10)
	default:
		return "treasury"
	}
}
