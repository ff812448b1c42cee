package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// TreasuryRowID is the primary key of the single treasury row.
const TreasuryRowID int64 = 1

// Treasury aggregates every payment received and every amount withdrawn.
type Treasury struct {
	bun.BaseModel `bun:"table:treasury"`

	ID        int64           `bun:"id,pk" json:"-"`
	Received  decimal.Decimal `bun:"received,type:varchar(80),notnull" json:"received"`
	Withdrawn decimal.Decimal `bun:"withdrawn,type:varchar(80),notnull" json:"withdrawn"`
}

// Balance is the amount still available for withdrawal.
func (t Treasury) Balance() decimal.Decimal {
	return t.Received.Sub(t.Withdrawn)
}

func (t Treasury) Credit(amount decimal.Decimal) Treasury {
	return Treasury{ID: TreasuryRowID, Received: t.Received.Add(amount), Withdrawn: t.Withdrawn}
}

func (t Treasury) Debit(amount decimal.Decimal) Treasury {
	return Treasury{ID: TreasuryRowID, Received: t.Received, Withdrawn: t.Withdrawn.Add(amount)}
}

// Withdrawal records one successful transfer out of the treasury.
type Withdrawal struct {
	bun.BaseModel `bun:"table:withdrawals"`

	ID        int64           `bun:"id,pk" json:"id"`
	To        string          `bun:"to_account,notnull" json:"to"`
	Amount    decimal.Decimal `bun:"amount,type:varchar(80),notnull" json:"amount"`
	CreatedAt time.Time       `bun:"created_at,notnull" json:"created_at"`
}
