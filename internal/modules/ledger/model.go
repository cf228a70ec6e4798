// README: Ledger entry and account definitions.
package ledger

import (
	"errors"
	"strings"
	"time"

	"carpool/internal/types"
)

type Kind string

const (
	KindPayment Kind = "payment"
	KindRefund  Kind = "refund"
	KindTopUp   Kind = "topup"
	KindEarning Kind = "earning"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type Entry struct {
	ID      types.ID
	UserID  types.ID
	TripID  *types.ID
	Amount  types.Money
	Kind    Kind
	Status  string
	IdemKey string
	// CreatedAt is set by the store at commit time.
	CreatedAt time.Time
}

// kindForKey infers the entry kind from the idempotency key prefix the trip
// service uses ("pay:", "refund:", "earn:", "topup:", reversal variants).
func kindForKey(key string, debit bool) Kind {
	switch {
	case strings.HasPrefix(key, "earn:"):
		return KindEarning
	case strings.HasPrefix(key, "topup:"):
		return KindTopUp
	case strings.HasPrefix(key, "refund:"):
		return KindRefund
	case debit:
		return KindPayment
	default:
		return KindRefund
	}
}
