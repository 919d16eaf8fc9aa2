package wallet

import (
	"context"
	"time"
)

// Wallet is an account holding a non-negative balance in minor currency units.
type Wallet struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MutateFunc receives the current balance and returns the balance to persist, or a domain
// failure that aborts the mutation.
type MutateFunc func(balance int64) (int64, error)

// Store owns wallet records and their balances.
type Store interface {
	Create(ctx context.Context) (Wallet, error)
	Get(ctx context.Context, id string) (Wallet, error)
	// List returns every wallet ordered by creation time.
	List(ctx context.Context) ([]Wallet, error)
	// Mutate applies fn under an exclusive lock on the wallet. Nothing is written when fn fails,
	// and a negative result is refused with apperrors.ErrInsufficientFunds.
	Mutate(ctx context.Context, id string, fn MutateFunc) (Wallet, error)
}
