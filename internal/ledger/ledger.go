package ledger

import (
	"context"
	"fmt"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type OverpaymentPolicy int

const (
	// RetainOverpayment credits the full payment to the treasury.
	RetainOverpayment OverpaymentPolicy = iota
	// RejectOverpayment refuses any payment that differs from the price.
	RejectOverpayment
)

func ParseOverpaymentPolicy(s string) (OverpaymentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "retain":
		return RetainOverpayment, nil
	case "reject":
		return RejectOverpayment, nil
	default:
		return RetainOverpayment, fmt.Errorf("%w: unknown overpayment policy %q", ErrInvalidInput, s)
	}
}

// Payout moves withdrawn treasury funds to an external account.
type Payout interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) error
}

// EventSink receives ledger events in commit order. Enqueue must not block.
type EventSink interface {
	Enqueue(event models.LedgerEvent)
}

// Ledger is the single-writer ticket sales state machine. Mutations hold the
// write lock from validation through commit, so every call either commits
// completely or leaves the state exactly as it was.
type Ledger struct {
	mu sync.RWMutex

	owner string

	types       []models.TicketType
	typeIndex   map[int64]int
	tickets     []models.TicketOwnership
	ticketIndex map[int64]int
	byOwner     map[string][]int64
	treasury    models.Treasury
	withdrawals []models.Withdrawal

	nextTypeID       int64
	nextTicketID     int64
	nextWithdrawalID int64

	store  Store
	payout Payout
	events EventSink
	policy OverpaymentPolicy
	log    *logger.Logger
	now    func() time.Time
}

type Option func(*Ledger)

func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithPayout(p Payout) Option {
	return func(l *Ledger) { l.payout = p }
}

func WithEvents(sink EventSink) Option {
	return func(l *Ledger) { l.events = sink }
}

func WithOverpaymentPolicy(p OverpaymentPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger owned by owner and restores any state the store holds.
func New(ctx context.Context, owner string, opts ...Option) (*Ledger, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner identity is required", ErrInvalidInput)
	}

	l := &Ledger{
		owner:       owner,
		typeIndex:   make(map[int64]int),
		ticketIndex: make(map[int64]int),
		byOwner:     make(map[string][]int64),
		store:       NewMemoryStore(),
		policy:      RetainOverpayment,
		log:         logger.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	if err := l.restore(snap); err != nil {
		return nil, err
	}

	l.log.Info("LEDGER", fmt.Sprintf("Ledger ready: owner=%s types=%d tickets=%d balance=%s",
		l.owner, len(l.types), len(l.tickets), l.treasury.Balance()))
	return l, nil
}

func (l *Ledger) restore(snap *models.Snapshot) error {
	if snap == nil {
		return nil
	}

	types := append([]models.TicketType(nil), snap.Types...)
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })
	for i, t := range types {
		if t.Sold < 0 || t.Sold > t.Total {
			return fmt.Errorf("restore ticket type %d: sold %d outside [0, %d]", t.ID, t.Sold, t.Total)
		}
		l.typeIndex[t.ID] = i
		if t.ID >= l.nextTypeID {
			l.nextTypeID = t.ID + 1
		}
	}
	l.types = types

	tickets := append([]models.TicketOwnership(nil), snap.Tickets...)
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	for i, tk := range tickets {
		if _, ok := l.typeIndex[tk.TypeID]; !ok {
			return fmt.Errorf("restore ticket %d: unknown ticket type %d", tk.ID, tk.TypeID)
		}
		l.ticketIndex[tk.ID] = i
		l.byOwner[tk.Owner] = append(l.byOwner[tk.Owner], tk.ID)
		if tk.ID >= l.nextTicketID {
			l.nextTicketID = tk.ID + 1
		}
	}
	l.tickets = tickets

	withdrawals := append([]models.Withdrawal(nil), snap.Withdrawals...)
	sort.Slice(withdrawals, func(i, j int) bool { return withdrawals[i].ID < withdrawals[j].ID })
	for _, w := range withdrawals {
		if w.ID >= l.nextWithdrawalID {
			l.nextWithdrawalID = w.ID + 1
		}
	}
	l.withdrawals = withdrawals

	l.treasury = snap.Treasury
	l.treasury.ID = models.TreasuryRowID
	if l.treasury.Balance().IsNegative() {
		return fmt.Errorf("restore treasury: negative balance %s", l.treasury.Balance())
	}
	return nil
}

func (l *Ledger) Owner() string {
	return l.owner
}

// IsOwner is the single authorization predicate for privileged operations.
func (l *Ledger) IsOwner(identity string) bool {
	return identity != "" && identity == l.owner
}

func (l *Ledger) authorize(caller string) error {
	if !l.IsOwner(caller) {
		l.log.LogSecurity("UNAUTHORIZED", fmt.Sprintf("caller %q attempted an owner-only operation", caller))
		return fmt.Errorf("%w: caller %q", ErrUnauthorized, caller)
	}
	return nil
}

// RegisterType appends a new ticket type with sold = 0 and returns its id.
func (l *Ledger) RegisterType(ctx context.Context, caller, name string, price decimal.Decimal, total int64, uri string) (int64, error) {
	if err := l.authorize(caller); err != nil {
		return 0, err
	}
	if err := validateTicketType(name, price, total, uri); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := models.TicketType{
		ID:        l.nextTypeID,
		Name:      name,
		Price:     price,
		Total:     total,
		Sold:      0,
		URI:       uri,
		CreatedAt: l.now().UTC(),
	}

	if err := l.store.Commit(ctx, models.Mutation{InsertType: &t}, nil); err != nil {
		l.log.Error("LEDGER", fmt.Sprintf("Failed to commit ticket type %q: %v", name, err))
		return 0, fmt.Errorf("commit ticket type: %w", err)
	}

	l.typeIndex[t.ID] = len(l.types)
	l.types = append(l.types, t)
	l.nextTypeID++

	l.emit(models.NewAddTicketEvent(t, t.CreatedAt))
	l.log.LogLedger("ADD_TICKET", fmt.Sprintf("type %d", t.ID), fmt.Sprintf("%s price=%s total=%d uri=%s", t.Name, t.Price, t.Total, t.URI))
	return t.ID, nil
}

func validateTicketType(name string, price decimal.Decimal, total int64, uri string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case strings.TrimSpace(uri) == "":
		return fmt.Errorf("%w: uri is required", ErrInvalidInput)
	case total <= 0:
		return fmt.Errorf("%w: total must be positive, got %d", ErrInvalidInput, total)
	case !models.IsValidAmount(price):
		return fmt.Errorf("%w: price must be a non-negative integer, got %s", ErrInvalidInput, price)
	}
	return nil
}

// Purchase sells one ticket of typeID to caller and returns the new ticket
// instance id. The full payment is credited to the treasury.
func (l *Ledger) Purchase(ctx context.Context, caller string, typeID int64, payment decimal.Decimal) (int64, error) {
	if caller == "" {
		return 0, fmt.Errorf("%w: caller identity is required", ErrUnauthorized)
	}
	if !models.IsValidAmount(payment) {
		return 0, fmt.Errorf("%w: payment must be a non-negative integer, got %s", ErrInvalidInput, payment)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.typeIndex[typeID]
	if !ok {
		return 0, fmt.Errorf("%w: type %d", ErrNotFound, typeID)
	}
	t := l.types[idx]

	if payment.LessThan(t.Price) {
		return 0, fmt.Errorf("%w: paid %s, price %s", ErrInsufficientPayment, payment, t.Price)
	}
	if t.SoldOut() {
		return 0, fmt.Errorf("%w: type %d sold %d of %d", ErrSoldOut, typeID, t.Sold, t.Total)
	}
	if l.policy == RejectOverpayment && payment.GreaterThan(t.Price) {
		return 0, fmt.Errorf("%w: paid %s, exact price %s required", ErrInvalidInput, payment, t.Price)
	}

	updated := t
	updated.Sold++

	ticket := models.TicketOwnership{
		ID:          l.nextTicketID,
		Owner:       caller,
		TypeID:      typeID,
		Paid:        payment,
		PurchasedAt: l.now().UTC(),
	}
	treasury := l.treasury.Credit(payment)

	m := models.Mutation{
		UpdateType:   &updated,
		InsertTicket: &ticket,
		Treasury:     &treasury,
	}
	if err := l.store.Commit(ctx, m, nil); err != nil {
		l.log.Error("LEDGER", fmt.Sprintf("Failed to commit purchase of type %d by %s: %v", typeID, caller, err))
		return 0, fmt.Errorf("commit purchase: %w", err)
	}

	l.types[idx] = updated
	l.ticketIndex[ticket.ID] = len(l.tickets)
	l.tickets = append(l.tickets, ticket)
	l.byOwner[caller] = append(l.byOwner[caller], ticket.ID)
	l.treasury = treasury
	l.nextTicketID++

	l.emit(models.NewPurchaseEvent(ticket, updated, ticket.PurchasedAt))
	l.log.LogLedger("BUY_TICKET", fmt.Sprintf("ticket %d", ticket.ID),
		fmt.Sprintf("type=%d buyer=%s paid=%s sold=%d/%d", typeID, caller, payment, updated.Sold, updated.Total))
	return ticket.ID, nil
}

// Withdraw transfers amount from the treasury to the owner's account.
func (l *Ledger) Withdraw(ctx context.Context, caller string, amount decimal.Decimal) error {
	if err := l.authorize(caller); err != nil {
		return err
	}
	if !models.IsValidAmount(amount) || amount.IsZero() {
		return fmt.Errorf("%w: amount must be a positive integer, got %s", ErrInvalidInput, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.treasury.Balance()
	if amount.GreaterThan(balance) {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount, balance)
	}

	w := models.Withdrawal{
		ID:        l.nextWithdrawalID,
		To:        l.owner,
		Amount:    amount,
		CreatedAt: l.now().UTC(),
	}
	treasury := l.treasury.Debit(amount)

	var hook func(ctx context.Context) error
	if l.payout != nil {
		hook = func(ctx context.Context) error {
			if err := l.payout.Transfer(ctx, l.owner, amount); err != nil {
				return fmt.Errorf("payout transfer: %w", err)
			}
			return nil
		}
	}

	m := models.Mutation{InsertWithdrawal: &w, Treasury: &treasury}
	if err := l.store.Commit(ctx, m, hook); err != nil {
		l.log.Error("LEDGER", fmt.Sprintf("Failed to commit withdrawal of %s: %v", amount, err))
		return fmt.Errorf("commit withdrawal: %w", err)
	}

	l.withdrawals = append(l.withdrawals, w)
	l.treasury = treasury
	l.nextWithdrawalID++

	l.emit(models.NewWithdrawalEvent(w, treasury.Balance()))
	l.log.LogLedger("WITHDRAW", fmt.Sprintf("withdrawal %d", w.ID), fmt.Sprintf("amount=%s balance=%s", amount, treasury.Balance()))
	return nil
}

func (l *Ledger) emit(event models.LedgerEvent) {
	if l.events != nil {
		l.events.Enqueue(event)
	}
}

// OwnedTickets returns the ids of every ticket held by actor in ascending order.
func (l *Ledger) OwnedTickets(actor string) []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]int64{}, l.byOwner[actor]...)
}

// AllTypes returns every ticket type in id order.
func (l *Ledger) AllTypes() []models.TicketType {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]models.TicketType{}, l.types...)
}

func (l *Ledger) Type(typeID int64) (models.TicketType, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.typeIndex[typeID]
	if !ok {
		return models.TicketType{}, fmt.Errorf("%w: type %d", ErrNotFound, typeID)
	}
	return l.types[idx], nil
}

func (l *Ledger) Ticket(ticketID int64) (models.TicketOwnership, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.ticketIndex[ticketID]
	if !ok {
		return models.TicketOwnership{}, fmt.Errorf("%w: ticket %d", ErrTicketNotFound, ticketID)
	}
	return l.tickets[idx], nil
}

// TypeCount is the next ticket type id, i.e. how many types were ever registered.
func (l *Ledger) TypeCount() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.nextTypeID
}

func (l *Ledger) TicketCount() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.nextTicketID
}

func (l *Ledger) Treasury() models.Treasury {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.treasury
}

func (l *Ledger) Balance() decimal.Decimal {
	return l.Treasury().Balance()
}

func (l *Ledger) Withdrawals() []models.Withdrawal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]models.Withdrawal{}, l.withdrawals...)
}
