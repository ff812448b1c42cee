package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// TicketType is one class of ticket for sale. Sold never exceeds Total.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID        int64           `bun:"id,pk" json:"id"`
	Name      string          `bun:"name,notnull" json:"name"`
	Price     decimal.Decimal `bun:"price,type:varchar(80),notnull" json:"price"`
	Total     int64           `bun:"total,notnull" json:"total"`
	Sold      int64           `bun:"sold,notnull" json:"sold"`
	URI       string          `bun:"uri,notnull" json:"uri"`
	CreatedAt time.Time       `bun:"created_at,notnull" json:"created_at"`
}

func (t TicketType) Remaining() int64 {
	return t.Total - t.Sold
}

func (t TicketType) SoldOut() bool {
	return t.Sold >= t.Total
}
