package ledger_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"ms-tiket/internal/auth"
	"ms-tiket/internal/models"
	"net/http"
	"time"
)

type VerifyPassRequest struct {
	Token string `json:"token" validate:"required"`
}

type VerifyPassResponse struct {
	Valid  bool                   `json:"valid"`
	Ticket models.TicketOwnership `json:"ticket"`
	Pass   models.TicketPass      `json:"pass"`
}

var errPassesDisabled = errors.New("QR_SECRET_KEY not configured")

// TicketQR returns the caller's ticket pass as a PNG QR code, or as the raw
// token when format=token.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	if h.Passes == nil {
		h.fail(w, http.StatusServiceUnavailable, "ticket passes unavailable", errPassesDisabled)
		return
	}

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

	caller := auth.UserID(r.Context())
	if ticket.Owner != caller {
		h.Logger.LogSecurity("PASS_DENIED", fmt.Sprintf("%s requested pass for ticket %d owned by %s", caller, ticket.ID, ticket.Owner))
		h.fail(w, http.StatusForbidden, "not the ticket owner", fmt.Errorf("ticket %d is not owned by %s", ticket.ID, caller))
		return
	}

	pass := models.TicketPass{
		TicketID: ticket.ID,
		TypeID:   ticket.TypeID,
		Owner:    ticket.Owner,
		IssuedAt: time.Now().UTC(),
	}

	if r.URL.Query().Get("format") == "token" {
		token, err := h.Passes.EncryptPass(pass)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, "failed to issue pass", err)
			return
		}
		h.respond(w, http.StatusOK, "ticket pass", map[string]string{"token": token})
		return
	}

	png, err := h.Passes.GeneratePassQR(pass)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "failed to generate QR code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("HTTP", fmt.Sprintf("Failed to write QR code for ticket %d: %v", ticket.ID, err))
	}
}

// VerifyPass opens a scanned pass and confirms it still matches the ledger.
func (h *Handler) VerifyPass(w http.ResponseWriter, r *http.Request) {
	if h.Passes == nil {
		h.fail(w, http.StatusServiceUnavailable, "ticket passes unavailable", errPassesDisabled)
		return
	}

	var req VerifyPassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validate(r.Context(), req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid pass", err)
		return
	}

	pass, err := h.Passes.DecryptPass(req.Token)
	if err != nil {
		h.Logger.LogSecurity("INVALID_PASS", err.Error())
		h.fail(w, http.StatusBadRequest, "invalid pass", err)
		return
	}

	ticket, err := h.Ledger.Ticket(pass.TicketID)
	if err != nil {
		h.failLedger(w, "ticket lookup failed", err)
		return
	}

	if ticket.Owner != pass.Owner || ticket.TypeID != pass.TypeID {
		h.Logger.LogSecurity("PASS_MISMATCH", fmt.Sprintf("pass for ticket %d names %s/type %d", ticket.ID, pass.Owner, pass.TypeID))
		h.fail(w, http.StatusConflict, "pass does not match ticket", fmt.Errorf("ticket %d is held by %s", ticket.ID, ticket.Owner))
		return
	}

	h.respond(w, http.StatusOK, "pass verified", VerifyPassResponse{Valid: true, Ticket: ticket, Pass: pass})
}
