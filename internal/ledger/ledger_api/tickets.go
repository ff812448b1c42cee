package ledger_api

import (
	"encoding/json"
	"fmt"
	"ms-tiket/internal/auth"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
)

type RegisterTypeRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Price string `json:"price" validate:"required"`
	Unit  string `json:"unit" validate:"omitempty,oneof=wei ether"`
	Total int64  `json:"total" validate:"gt=0"`
	URI   string `json:"uri" validate:"required"`
}

type PurchaseRequest struct {
	Payment string `json:"payment" validate:"required"`
	Unit    string `json:"unit" validate:"omitempty,oneof=wei ether"`
}

type PurchaseResponse struct {
	TicketID int64           `json:"ticket_id"`
	TypeID   int64           `json:"type_id"`
	Owner    string          `json:"owner"`
	Paid     decimal.Decimal `json:"paid"`
	Replayed bool            `json:"replayed,omitempty"`
}

type CountResponse struct {
	TicketTypes int64 `json:"ticket_types"`
	Tickets     int64 `json:"tickets"`
}

func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, "ticket types", h.Ledger.AllTypes())
}

func (h *Handler) GetType(w http.ResponseWriter, r *http.Request) {
	typeID, err := pathID(r, "typeID")
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid ticket type id", err)
		return
	}

	t, err := h.Ledger.Type(typeID)
	if err != nil {
		h.failLedger(w, "ticket type lookup failed", err)
		return
	}
	h.respond(w, http.StatusOK, "ticket type", t)
}

// RegisterType adds a ticket type. Only the ledger owner may call it.
func (h *Handler) RegisterType(w http.ResponseWriter, r *http.Request) {
	var req RegisterTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validate(r.Context(), req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid ticket type", err)
		return
	}

	price, err := parseAmount(req.Price, req.Unit)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid price", err)
		return
	}

	typeID, err := h.Ledger.RegisterType(r.Context(), auth.UserID(r.Context()), req.Name, price, req.Total, req.URI)
	if err != nil {
		h.failLedger(w, "failed to register ticket type", err)
		return
	}

	t, err := h.Ledger.Type(typeID)
	if err != nil {
		h.failLedger(w, "ticket type lookup failed", err)
		return
	}
	h.respond(w, http.StatusCreated, "ticket type registered", t)
}

// Purchase buys one ticket for the caller. A repeated Idempotency-Key
// replays the first result instead of buying again.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := auth.UserID(ctx)

	typeID, err := pathID(r, "typeID")
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid ticket type id", err)
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validate(ctx, req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid purchase", err)
		return
	}

	payment, err := parseAmount(req.Payment, req.Unit)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid payment", err)
		return
	}

	requestKey := r.Header.Get(IdempotencyHeader)
	if h.Locks != nil && requestKey != "" {
		acquired, err := h.Locks.Acquire(ctx, caller, requestKey)
		if err != nil {
			h.fail(w, http.StatusServiceUnavailable, "idempotency lock unavailable", err)
			return
		}
		if !acquired {
			h.replayPurchase(w, r, caller, requestKey)
			return
		}
	}

	ticketID, err := h.Ledger.Purchase(ctx, caller, typeID, payment)
	if err != nil {
		if h.Locks != nil && requestKey != "" {
			if relErr := h.Locks.Release(ctx, caller, requestKey); relErr != nil {
				h.Logger.Warn("REDIS", fmt.Sprintf("Failed to release idempotency key %s: %v", requestKey, relErr))
			}
		}
		h.failLedger(w, "purchase failed", err)
		return
	}

	if h.Locks != nil && requestKey != "" {
		if err := h.Locks.Complete(ctx, caller, requestKey, strconv.FormatInt(ticketID, 10)); err != nil {
			h.Logger.Warn("REDIS", fmt.Sprintf("Failed to record idempotency key %s: %v", requestKey, err))
		}
	}

	h.respond(w, http.StatusCreated, "ticket purchased", PurchaseResponse{
		TicketID: ticketID,
		TypeID:   typeID,
		Owner:    caller,
		Paid:     payment,
	})
}

func (h *Handler) replayPurchase(w http.ResponseWriter, r *http.Request, caller, requestKey string) {
	result, done, err := h.Locks.Result(r.Context(), caller, requestKey)
	if err != nil {
		h.fail(w, http.StatusServiceUnavailable, "idempotency lock unavailable", err)
		return
	}
	if !done {
		h.fail(w, http.StatusConflict, "purchase already in progress", fmt.Errorf("request %s is still being processed", requestKey))
		return
	}

	ticketID, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "corrupt idempotency record", err)
		return
	}
	ticket, err := h.Ledger.Ticket(ticketID)
	if err != nil {
		h.failLedger(w, "ticket lookup failed", err)
		return
	}

	h.respond(w, http.StatusOK, "ticket already purchased", PurchaseResponse{
		TicketID: ticket.ID,
		TypeID:   ticket.TypeID,
		Owner:    ticket.Owner,
		Paid:     ticket.Paid,
		Replayed: true,
	})
}

func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, "owned tickets", h.Ledger.OwnedTickets(auth.UserID(r.Context())))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, err := pathID(r, "ticketID")
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid ticket id", err)
		return
	}

	ticket, err := h.Ledger.Ticket(ticketID)
	if err != nil {
		h.failLedger(w, "ticket lookup failed", err)
		return
	}
	h.respond(w, http.StatusOK, "ticket", ticket)
}

func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, "ticket counts", CountResponse{
		TicketTypes: h.Ledger.TypeCount(),
		Tickets:     h.Ledger.TicketCount(),
	})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, "sales summary", h.Ledger.SalesSummary())
}
