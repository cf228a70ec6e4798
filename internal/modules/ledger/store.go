// README: Ledger store backed by PostgreSQL. Balances and entries move in one
// transaction; idempotency keys dedupe retried debits and credits.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type Store struct {
	db       *pgxpool.Pool
	currency string
}

func NewStore(db *pgxpool.Pool, currency string) *Store {
	return &Store{db: db, currency: currency}
}

// Debit withdraws amount from the user's balance. A repeated call with the
// same idemKey returns the original transaction id without moving money
// again. An absent or too-small balance fails with ErrInsufficientFunds.
func (s *Store) Debit(ctx context.Context, userID types.ID, amount types.Money, idemKey string) (types.ID, error) {
	var txID types.ID
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if existing, ok, err := s.findByKey(ctx, tx, idemKey); err != nil {
			return err
		} else if ok {
			txID = existing
			return nil
		}

		tag, err := tx.Exec(ctx, `
            UPDATE accounts
            SET balance = balance - $2, updated_at = NOW()
            WHERE user_id = $1 AND balance >= $2`,
			string(userID), amount.Amount,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrInsufficientFunds
		}

		id, err := s.insertEntry(ctx, tx, userID, amount, kindForKey(idemKey, true), idemKey)
		if err != nil {
			return err
		}
		txID = id
		return nil
	})
	return txID, err
}

// Credit deposits amount into the user's balance, creating the account row if
// missing. Idempotent under idemKey like Debit.
func (s *Store) Credit(ctx context.Context, userID types.ID, amount types.Money, idemKey string) (types.ID, error) {
	var txID types.ID
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if existing, ok, err := s.findByKey(ctx, tx, idemKey); err != nil {
			return err
		} else if ok {
			txID = existing
			return nil
		}

		_, err := tx.Exec(ctx, `
            INSERT INTO accounts (user_id, balance, currency, updated_at)
            VALUES ($1, $2, $3, NOW())
            ON CONFLICT (user_id)
            DO UPDATE SET balance = accounts.balance + $2, updated_at = NOW()`,
			string(userID), amount.Amount, s.currency,
		)
		if err != nil {
			return err
		}

		id, err := s.insertEntry(ctx, tx, userID, amount, kindForKey(idemKey, false), idemKey)
		if err != nil {
			return err
		}
		txID = id
		return nil
	})
	return txID, err
}

// TopUp is a credit with a fresh key; every call moves money.
func (s *Store) TopUp(ctx context.Context, userID types.ID, amount types.Money) (types.ID, error) {
	return s.Credit(ctx, userID, amount, "topup:"+string(newEntryID()))
}

func (s *Store) Balance(ctx context.Context, userID types.ID) (types.Money, error) {
	row := s.db.QueryRow(ctx, `
        SELECT balance, currency FROM accounts WHERE user_id = $1`, string(userID))
	var m types.Money
	err := row.Scan(&m.Amount, &m.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Money{Amount: 0, Currency: s.currency}, nil
	}
	if err != nil {
		return types.Money{}, err
	}
	return m, nil
}

func (s *Store) findByKey(ctx context.Context, tx pgx.Tx, idemKey string) (types.ID, bool, error) {
	row := tx.QueryRow(ctx, `
        SELECT id FROM ledger_entries WHERE idem_key = $1`, idemKey)
	var id string
	err := row.Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return types.ID(id), true, nil
}

func (s *Store) insertEntry(ctx context.Context, tx pgx.Tx, userID types.ID, amount types.Money, kind Kind, idemKey string) (types.ID, error) {
	id := newEntryID()
	_, err := tx.Exec(ctx, `
        INSERT INTO ledger_entries (id, user_id, amount, currency, kind, status, idem_key, created_at)
        VALUES ($1, $2, $3, $4, $5, 'settled', $6, $7)`,
		string(id), string(userID), amount.Amount, s.currency, string(kind), idemKey, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert ledger entry: %w", err)
	}
	return id, nil
}

func newEntryID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
