package db_test

import (
	"context"
	"database/sql"
	"errors"
	"ms-tiket/internal/ledger"
	"ms-tiket/internal/ledger/db"
	"ms-tiket/internal/models"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const owner = "0xowner"

func ether(v string) decimal.Decimal {
	return models.MustParseUnits(v, models.EtherDecimals)
}

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	store := db.New(bunDB)
	require.NoError(t, store.CreateSchema(context.Background()))
	return store, bunDB
}

func TestLoad_EmptyDatabase(t *testing.T) {
	store, _ := setupTestDB(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Types)
	assert.Empty(t, snap.Tickets)
	assert.Empty(t, snap.Withdrawals)
	assert.True(t, snap.Treasury.Balance().IsZero())
}

func TestCreateSchema_Idempotent(t *testing.T) {
	store, _ := setupTestDB(t)
	assert.NoError(t, store.CreateSchema(context.Background()))
}

func TestCommit_RoundTrip(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	vip := models.TicketType{
		ID:        0,
		Name:      "VIP",
		Price:     ether("1"),
		Total:     2,
		URI:       "ipfs://vip",
		CreatedAt: now,
	}
	require.NoError(t, store.Commit(ctx, models.Mutation{InsertType: &vip}, nil))

	sold := vip
	sold.Sold = 1
	ticket := models.TicketOwnership{ID: 0, Owner: "0xuserA", TypeID: 0, Paid: vip.Price, PurchasedAt: now}
	treasury := models.Treasury{}.Credit(vip.Price)
	require.NoError(t, store.Commit(ctx, models.Mutation{UpdateType: &sold, InsertTicket: &ticket, Treasury: &treasury}, nil))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Types, 1)
	assert.Equal(t, "VIP", snap.Types[0].Name)
	assert.Equal(t, int64(1), snap.Types[0].Sold)
	assert.True(t, snap.Types[0].Price.Equal(vip.Price), "wei-scale price must survive storage exactly")
	require.Len(t, snap.Tickets, 1)
	assert.Equal(t, "0xuserA", snap.Tickets[0].Owner)
	assert.True(t, snap.Treasury.Received.Equal(vip.Price))
}

func TestCommit_StaleSoldCountRollsBack(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	vip := models.TicketType{ID: 0, Name: "VIP", Price: ether("1"), Total: 2, URI: "ipfs://vip", CreatedAt: time.Now()}
	require.NoError(t, store.Commit(ctx, models.Mutation{InsertType: &vip}, nil))

	stale := vip
	stale.Sold = 2
	ticket := models.TicketOwnership{ID: 0, Owner: "0xuserA", TypeID: 0, Paid: vip.Price, PurchasedAt: time.Now()}
	err := store.Commit(ctx, models.Mutation{InsertTicket: &ticket, UpdateType: &stale}, nil)
	assert.ErrorIs(t, err, db.ErrStaleWrite)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Types[0].Sold)
	assert.Empty(t, snap.Tickets)
}

func TestCommit_HookFailureRollsBack(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	treasury := models.Treasury{}.Credit(ether("2"))
	require.NoError(t, store.Commit(ctx, models.Mutation{Treasury: &treasury}, nil))

	w := models.Withdrawal{ID: 0, To: owner, Amount: ether("1"), CreatedAt: time.Now()}
	debited := treasury.Debit(w.Amount)
	err := store.Commit(ctx, models.Mutation{InsertWithdrawal: &w, Treasury: &debited}, func(ctx context.Context) error {
		return errors.New("transfer declined")
	})
	require.Error(t, err)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Withdrawals)
	assert.True(t, snap.Treasury.Balance().Equal(ether("2")))
}

func TestLedgerRestartFromDatabase(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	one := ether("1")

	first, err := ledger.New(ctx, owner, ledger.WithStore(store))
	require.NoError(t, err)
	vip, err := first.RegisterType(ctx, owner, "VIP", one, 2, "ipfs://vip")
	require.NoError(t, err)
	_, err = first.Purchase(ctx, "0xuserA", vip, one)
	require.NoError(t, err)
	_, err = first.Purchase(ctx, "0xuserB", vip, one)
	require.NoError(t, err)
	require.NoError(t, first.Withdraw(ctx, owner, ether("0.5")))

	second, err := ledger.New(ctx, owner, ledger.WithStore(store))
	require.NoError(t, err)

	tt, err := second.Type(vip)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tt.Sold)
	assert.Equal(t, []int64{0}, second.OwnedTickets("0xuserA"))
	assert.Equal(t, []int64{1}, second.OwnedTickets("0xuserB"))
	assert.True(t, second.Balance().Equal(ether("1.5")))

	_, err = second.Purchase(ctx, "0xuserC", vip, one)
	assert.ErrorIs(t, err, ledger.ErrSoldOut)

	next, err := second.RegisterType(ctx, owner, "BASIC", ether("0.005"), 200, "ipfs://basic")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}
