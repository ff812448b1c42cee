package ledger

import (
	"github.com/shopspring/decimal"
)

type TypeSummary struct {
	TypeID    int64           `json:"type_id"`
	Name      string          `json:"name"`
	Sold      int64           `json:"sold"`
	Remaining int64           `json:"remaining"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type Summary struct {
	Types       []TypeSummary   `json:"types"`
	TicketsSold int64           `json:"tickets_sold"`
	Received    decimal.Decimal `json:"received"`
	Withdrawn   decimal.Decimal `json:"withdrawn"`
	Balance     decimal.Decimal `json:"balance"`
}

// SalesSummary aggregates sales per ticket type. Revenue counts the full
// amount paid, overpayments included.
func (l *Ledger) SalesSummary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	revenue := make(map[int64]decimal.Decimal, len(l.types))
	for _, tk := range l.tickets {
		revenue[tk.TypeID] = revenue[tk.TypeID].Add(tk.Paid)
	}

	summary := Summary{
		Types:       make([]TypeSummary, 0, len(l.types)),
		TicketsSold: int64(len(l.tickets)),
		Received:    l.treasury.Received,
		Withdrawn:   l.treasury.Withdrawn,
		Balance:     l.treasury.Balance(),
	}
	for _, t := range l.types {
		summary.Types = append(summary.Types, TypeSummary{
			TypeID:    t.ID,
			Name:      t.Name,
			Sold:      t.Sold,
			Remaining: t.Remaining(),
			Revenue:   revenue[t.ID],
		})
	}
	return summary
}
