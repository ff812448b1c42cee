package models

import "time"

// TicketPass is the payload sealed into a ticket's QR code.
type TicketPass struct {
	TicketID int64     `json:"ticket_id"`
	TypeID   int64     `json:"type_id"`
	Owner    string    `json:"owner"`
	IssuedAt time.Time `json:"issued_at"`
}
