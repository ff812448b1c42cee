package payment

import (
	"context"
	"errors"
	"fmt"
	"ms-tiket/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrUnpayableAmount        = errors.New("amount cannot be paid out in whole minor units")
)

// RecordOnly accepts every transfer without moving money. The withdrawal is
// still recorded by the ledger.
type RecordOnly struct {
	Logger *logger.Logger
}

func (p RecordOnly) Transfer(_ context.Context, to string, amount decimal.Decimal) error {
	p.Logger.Info("PAYOUT", fmt.Sprintf("Recorded withdrawal of %s to %s (no payout provider)", amount, to))
	return nil
}

type transferCreator interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
}

// StripePayout sends withdrawals to a connected Stripe account.
type StripePayout struct {
	transfers   transferCreator
	currency    string
	destination string
	scale       int32
	log         *logger.Logger
}

// NewStripePayout builds a payout over the Stripe Transfers API. scale is the
// number of decimal places between ledger units and the currency's minor
// unit (0 when the ledger already counts cents).
func NewStripePayout(secretKey, currency, destination string, scale int32, log *logger.Logger) (*StripePayout, error) {
	if secretKey == "" || destination == "" {
		log.Error("STRIPE", "Stripe payout requires a secret key and destination account")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return newStripePayout(sc.Transfers, currency, destination, scale, log), nil
}

func newStripePayout(transfers transferCreator, currency, destination string, scale int32, log *logger.Logger) *StripePayout {
	return &StripePayout{
		transfers:   transfers,
		currency:    currency,
		destination: destination,
		scale:       scale,
		log:         log,
	}
}

func (p *StripePayout) minorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(-p.scale)
	if !minor.IsInteger() || minor.Sign() <= 0 || minor.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("%w: %s", ErrUnpayableAmount, amount)
	}
	return minor.IntPart(), nil
}

func (p *StripePayout) Transfer(ctx context.Context, to string, amount decimal.Decimal) error {
	minor, err := p.minorUnits(amount)
	if err != nil {
		return err
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(minor),
		Currency:    stripe.String(p.currency),
		Destination: stripe.String(p.destination),
		Description: stripe.String(fmt.Sprintf("Ticket treasury withdrawal to %s", to)),
	}
	params.Context = ctx
	params.AddMetadata("ledger_owner", to)
	params.AddMetadata("amount", amount.String())

	tr, err := p.transfers.New(params)
	if err != nil {
		p.log.Error("STRIPE", fmt.Sprintf("Transfer of %d %s failed: %v", minor, p.currency, err))
		return fmt.Errorf("stripe transfer: %w", err)
	}

	p.log.Info("PAYOUT", fmt.Sprintf("Stripe transfer %s: %d %s to %s", tr.ID, minor, p.currency, p.destination))
	return nil
}
