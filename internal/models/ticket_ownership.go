package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// TicketOwnership binds one sold ticket instance to its purchaser.
// Records are immutable once created.
type TicketOwnership struct {
	bun.BaseModel `bun:"table:ticket_ownerships"`

	ID          int64           `bun:"id,pk" json:"id"`
	Owner       string          `bun:"owner,notnull" json:"owner"`
	TypeID      int64           `bun:"type_id,notnull" json:"type_id"`
	Paid        decimal.Decimal `bun:"paid,type:varchar(80),notnull" json:"paid"`
	PurchasedAt time.Time       `bun:"purchased_at,notnull" json:"purchased_at"`
}
