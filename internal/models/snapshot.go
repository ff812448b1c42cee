package models

// Snapshot is the full committed ledger state, as persisted by a store.
type Snapshot struct {
	Types       []TicketType
	Tickets     []TicketOwnership
	Treasury    Treasury
	Withdrawals []Withdrawal
}

// Mutation is the set of record changes produced by one ledger operation.
// A store must apply all of them or none.
type Mutation struct {
	InsertType       *TicketType
	UpdateType       *TicketType
	InsertTicket     *TicketOwnership
	InsertWithdrawal *Withdrawal
	Treasury         *Treasury
}

// Apply folds m into the snapshot in place.
func (s *Snapshot) Apply(m Mutation) {
	if m.InsertType != nil {
		s.Types = append(s.Types, *m.InsertType)
	}
	if m.UpdateType != nil {
		for i := range s.Types {
			if s.Types[i].ID == m.UpdateType.ID {
				s.Types[i] = *m.UpdateType
				break
			}
		}
	}
	if m.InsertTicket != nil {
		s.Tickets = append(s.Tickets, *m.InsertTicket)
	}
	if m.InsertWithdrawal != nil {
		s.Withdrawals = append(s.Withdrawals, *m.InsertWithdrawal)
	}
	if m.Treasury != nil {
		s.Treasury = *m.Treasury
	}
}

// Clone returns a deep copy whose slices do not alias s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Types:       append([]TicketType(nil), s.Types...),
		Tickets:     append([]TicketOwnership(nil), s.Tickets...),
		Treasury:    s.Treasury,
		Withdrawals: append([]Withdrawal(nil), s.Withdrawals...),
	}
}
