package ledger_api

import (
	"encoding/json"
	"ms-tiket/internal/auth"
	"ms-tiket/internal/models"
	"net/http"

	"github.com/shopspring/decimal"
)

type WithdrawRequest struct {
	Amount string `json:"amount" validate:"required"`
	Unit   string `json:"unit" validate:"omitempty,oneof=wei ether"`
}

type TreasuryResponse struct {
	Owner       string              `json:"owner"`
	Received    decimal.Decimal     `json:"received"`
	Withdrawn   decimal.Decimal     `json:"withdrawn"`
	Balance     decimal.Decimal     `json:"balance"`
	Withdrawals []models.Withdrawal `json:"withdrawals"`
}

func (h *Handler) treasuryResponse() TreasuryResponse {
	t := h.Ledger.Treasury()
	return TreasuryResponse{
		Owner:       h.Ledger.Owner(),
		Received:    t.Received,
		Withdrawn:   t.Withdrawn,
		Balance:     t.Balance(),
		Withdrawals: h.Ledger.Withdrawals(),
	}
}

func (h *Handler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, "treasury", h.treasuryResponse())
}

// Withdraw pays amount out of the treasury. Only the ledger owner may call it.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validate(r.Context(), req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid withdrawal", err)
		return
	}

	amount, err := parseAmount(req.Amount, req.Unit)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	if err := h.Ledger.Withdraw(r.Context(), auth.UserID(r.Context()), amount); err != nil {
		h.failLedger(w, "withdrawal failed", err)
		return
	}
	h.respond(w, http.StatusOK, "withdrawal complete", h.treasuryResponse())
}
