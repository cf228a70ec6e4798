// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/modules/ledger"
	"carpool/internal/modules/trip"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID ensures IDs are hex and at most 32 chars (matches the ID
// generator).
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeTripError maps domain errors onto HTTP statuses. Conflicts from the
// single-winner acceptance path all land on 409 so clients retry with a
// fresh read.
func writeTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrInvalidTransition),
		errors.Is(err, trip.ErrAlreadyAccepted),
		errors.Is(err, trip.ErrAlreadyJoined),
		errors.Is(err, trip.ErrSeatsFull),
		errors.Is(err, trip.ErrVersionConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "timed out")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
