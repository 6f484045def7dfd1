package handlers

import (
	"net/http"

	"github.com/square-1111/LogoKraft/internal/domain"
)

type creditsResponse struct {
	OwnerID      string                     `json:"owner_id"`
	Balance      int                        `json:"balance"`
	Transactions []domain.CreditTransaction `json:"transactions"`
}

// Credits returns the owner's balance and full transaction history,
// oldest first. The balance always equals the sum of the deltas.
func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}

	balance, err := a.Ledger.Balance(r.Context(), ownerID)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: balance lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	txs, err := a.Ledger.Transactions(r.Context(), ownerID)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: transactions lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load transactions")
		return
	}
	if txs == nil {
		txs = []domain.CreditTransaction{}
	}

	a.json(w, http.StatusOK, creditsResponse{
		OwnerID:      ownerID,
		Balance:      balance,
		Transactions: txs,
	})
}

// Signup applies the one-time starter grant for the owner. Repeat calls are
// no-ops; the grant lands at most once per owner.
func (a *App) Signup(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}

	granted, err := a.Ledger.GrantOnce(r.Context(), ownerID, a.Defaults.SignupGrant, domain.CreditReasonSignup)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: signup grant failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to apply signup grant")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), ownerID)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: balance lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"owner_id": ownerID,
		"granted":  granted,
		"balance":  balance,
	})
}
