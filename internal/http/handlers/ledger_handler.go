// README: Wallet handlers for top-up and balance.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/types"
)

// Wallet is the ledger surface the HTTP layer calls.
type Wallet interface {
	TopUp(ctx context.Context, userID types.ID, amount types.Money) (types.ID, error)
	Balance(ctx context.Context, userID types.ID) (types.Money, error)
}

type LedgerHandler struct {
	wallet Wallet
}

func NewLedgerHandler(wallet Wallet) *LedgerHandler {
	return &LedgerHandler{wallet: wallet}
}

type topUpReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (h *LedgerHandler) TopUp(c *gin.Context) {
	var req topUpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Amount <= 0 {
		writeError(c, http.StatusBadRequest, "amount must be positive")
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "TWD"
	}
	uid := types.ID(middleware.CallerUID(c))
	entryID, err := h.wallet.TopUp(c.Request.Context(), uid, types.Money{Amount: req.Amount, Currency: currency})
	if err != nil {
		writeTripError(c, err)
		return
	}
	balance, err := h.wallet.Balance(c.Request.Context(), uid)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"entry_id": entryID,
		"balance":  balance.Amount,
		"currency": balance.Currency,
	})
}

func (h *LedgerHandler) Balance(c *gin.Context) {
	uid := types.ID(middleware.CallerUID(c))
	balance, err := h.wallet.Balance(c.Request.Context(), uid)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"balance":  balance.Amount,
		"currency": balance.Currency,
	})
}
