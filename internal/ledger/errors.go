package ledger

import "errors"

// Error kinds returned by the ledger. Callers match them with errors.Is;
// the returned errors usually wrap one of these with more context.
var (
	ErrUnauthorized        = errors.New("only owner")
	ErrNotFound            = errors.New("ticket not found")
	ErrTicketNotFound      = errors.New("ticket instance not found")
	ErrInsufficientPayment = errors.New("less money")
	ErrSoldOut             = errors.New("tickets sold out")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidInput        = errors.New("invalid input")
)
