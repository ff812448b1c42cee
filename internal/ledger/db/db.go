package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"ms-tiket/internal/models"

	"github.com/uptrace/bun"
)

// ErrStaleWrite means a ticket type row no longer matches the state the
// ledger validated against, so the commit was rolled back.
var ErrStaleWrite = errors.New("stale ticket type row")

// DB is a ledger.Store backed by a SQL database through bun.
type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// CreateSchema creates the ledger tables from the bun models. Used for
// SQLite and tests; PostgreSQL deployments run the SQL migrations instead.
func (d *DB) CreateSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.TicketType)(nil),
		(*models.TicketOwnership)(nil),
		(*models.Treasury)(nil),
		(*models.Withdrawal)(nil),
	}
	for _, model := range tables {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, err := d.Bun.NewCreateIndex().
		Model((*models.TicketOwnership)(nil)).
		Index("ticket_ownerships_owner_idx").
		Column("owner").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create owner index: %w", err)
	}
	return nil
}

func (d *DB) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(&snap.Types).Order("id ASC").Scan(ctx); err != nil {
			return fmt.Errorf("select ticket types: %w", err)
		}
		if err := tx.NewSelect().Model(&snap.Tickets).Order("id ASC").Scan(ctx); err != nil {
			return fmt.Errorf("select ticket ownerships: %w", err)
		}
		if err := tx.NewSelect().Model(&snap.Withdrawals).Order("id ASC").Scan(ctx); err != nil {
			return fmt.Errorf("select withdrawals: %w", err)
		}

		err := tx.NewSelect().
			Model(&snap.Treasury).
			Where("id = ?", models.TreasuryRowID).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("select treasury: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Commit writes every record of m in one transaction. The hook runs last,
// inside the transaction, so a failed transfer rolls the records back.
func (d *DB) Commit(ctx context.Context, m models.Mutation, hook func(ctx context.Context) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if m.InsertType != nil {
			if _, err := tx.NewInsert().Model(m.InsertType).Exec(ctx); err != nil {
				return fmt.Errorf("insert ticket type %d: %w", m.InsertType.ID, err)
			}
		}

		if m.UpdateType != nil {
			// Sold only ever moves by one per commit.
			res, err := tx.NewUpdate().
				Model(m.UpdateType).
				Column("sold").
				WherePK().
				Where("sold = ?", m.UpdateType.Sold-1).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update ticket type %d: %w", m.UpdateType.ID, err)
			}
			if n, err := res.RowsAffected(); err != nil || n != 1 {
				return fmt.Errorf("update ticket type %d: %w", m.UpdateType.ID, ErrStaleWrite)
			}
		}

		if m.InsertTicket != nil {
			if _, err := tx.NewInsert().Model(m.InsertTicket).Exec(ctx); err != nil {
				return fmt.Errorf("insert ticket %d: %w", m.InsertTicket.ID, err)
			}
		}

		if m.InsertWithdrawal != nil {
			if _, err := tx.NewInsert().Model(m.InsertWithdrawal).Exec(ctx); err != nil {
				return fmt.Errorf("insert withdrawal %d: %w", m.InsertWithdrawal.ID, err)
			}
		}

		if m.Treasury != nil {
			_, err := tx.NewInsert().
				Model(m.Treasury).
				On("CONFLICT (id) DO UPDATE").
				Set("received = EXCLUDED.received").
				Set("withdrawn = EXCLUDED.withdrawn").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("upsert treasury: %w", err)
			}
		}

		if hook != nil {
			return hook(ctx)
		}
		return nil
	})
}
