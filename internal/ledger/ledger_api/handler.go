package ledger_api

import (
	"context"
	"errors"
	"fmt"
	"ms-tiket/internal/ledger"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	qr "ms-tiket/internal/tickets/qr_generator"
	"ms-tiket/internal/sse"
	"ms-tiket/internal/utils"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	UnitWei   = "wei"
	UnitEther = "ether"

	IdempotencyHeader = "Idempotency-Key"
)

// RequestLocker guards a client-supplied idempotency key so a resubmitted
// purchase cannot buy twice.
type RequestLocker interface {
	Acquire(ctx context.Context, caller, requestKey string) (bool, error)
	Result(ctx context.Context, caller, requestKey string) (string, bool, error)
	Complete(ctx context.Context, caller, requestKey, result string) error
	Release(ctx context.Context, caller, requestKey string) error
}

type Handler struct {
	Ledger   *ledger.Ledger
	Passes   *qr.PassGenerator
	Events   *sse.LedgerEventEmitter
	Locks    RequestLocker
	Logger   *logger.Logger
	Validate *validator.Validate
}

// NewHandler creates a handler over l. Passes, Events and Locks are optional
// and switch off their endpoints or features when nil.
func NewHandler(l *ledger.Ledger, log *logger.Logger) *Handler {
	return &Handler{
		Ledger:   l,
		Logger:   log,
		Validate: validator.New(),
	}
}

// RegisterRoutes mounts the ticket and treasury endpoints on r. authn must
// store the caller identity with auth.WithUserID.
func (h *Handler) RegisterRoutes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api/tickets", func(r chi.Router) {
		r.Get("/types", h.ListTypes)
		r.Get("/types/{typeID}", h.GetType)
		r.Get("/count", h.Count)
		r.Get("/summary", h.Summary)
		r.Get("/events", h.StreamEvents)
		r.Post("/verify", h.VerifyPass)
		r.Get("/{ticketID}", h.GetTicket)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Post("/types", h.RegisterType)
			r.Post("/types/{typeID}/purchase", h.Purchase)
			r.Get("/mine", h.MyTickets)
			r.Get("/{ticketID}/qr", h.TicketQR)
		})
	})

	r.Route("/api/treasury", func(r chi.Router) {
		r.Get("/", h.GetTreasury)
		r.With(authn).Post("/withdraw", h.Withdraw)
	})
}

func (h *Handler) validate(ctx context.Context, payload interface{}) error {
	err := h.Validate.StructCtx(ctx, payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fmt.Sprintf("invalid '%s' with value '%v'", fe.Field(), fe.Value())
	}
	return errors.New(strings.Join(msgs, ", "))
}

// statusFor maps ledger error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrSoldOut), errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string, data interface{}) {
	if err := utils.WriteJSON(w, status, utils.SuccessResponse(message, data)); err != nil {
		h.Logger.Error("HTTP", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.Logger.Error("HTTP", fmt.Sprintf("%s: %v", message, err))
	}
	if encErr := utils.WriteJSON(w, status, utils.ErrorResponse(message, err.Error())); encErr != nil {
		h.Logger.Error("HTTP", fmt.Sprintf("Failed to encode error response: %v", encErr))
	}
}

func (h *Handler) failLedger(w http.ResponseWriter, message string, err error) {
	h.fail(w, statusFor(err), message, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ledger.ErrInvalidInput, name, raw)
	}
	return id, nil
}

// parseAmount reads value as wei by default or as ether when unit says so.
func parseAmount(value, unit string) (decimal.Decimal, error) {
	decimals := int32(0)
	if unit == UnitEther {
		decimals = models.EtherDecimals
	}
	return models.ParseUnits(value, decimals)
}
