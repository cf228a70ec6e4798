// README: In-memory ledger with the same idempotency semantics as the SQL
// store; used by unit tests and local runs.
package ledger

import (
	"context"
	"sync"

	"carpool/internal/types"
)

type MemoryLedger struct {
	mu       sync.Mutex
	balances map[types.ID]int64
	byKey    map[string]types.ID
	currency string
}

func NewMemoryLedger(currency string) *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[types.ID]int64),
		byKey:    make(map[string]types.ID),
		currency: currency,
	}
}

func (m *MemoryLedger) Debit(ctx context.Context, userID types.ID, amount types.Money, idemKey string) (types.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[idemKey]; ok {
		return id, nil
	}
	if m.balances[userID] < amount.Amount {
		return "", ErrInsufficientFunds
	}
	m.balances[userID] -= amount.Amount
	id := newEntryID()
	m.byKey[idemKey] = id
	return id, nil
}

func (m *MemoryLedger) Credit(ctx context.Context, userID types.ID, amount types.Money, idemKey string) (types.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[idemKey]; ok {
		return id, nil
	}
	m.balances[userID] += amount.Amount
	id := newEntryID()
	m.byKey[idemKey] = id
	return id, nil
}

func (m *MemoryLedger) TopUp(ctx context.Context, userID types.ID, amount types.Money) (types.ID, error) {
	return m.Credit(ctx, userID, amount, "topup:"+string(newEntryID()))
}

func (m *MemoryLedger) Balance(_ context.Context, userID types.ID) (types.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.Money{Amount: m.balances[userID], Currency: m.currency}, nil
}
