// Package storage groups the wallet and ledger stores behind one transactional boundary.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/cbuike/wallet-service/internal/ledger"
	"github.com/cbuike/wallet-service/internal/wallet"
)

//go:generate mockgen -source=storage.go -destination=mocks/mock_storage.go -package=mocks

// ErrOutOfScope is returned when a transaction mutates a wallet it did not lock.
var ErrOutOfScope = errors.New("wallet is outside the transaction scope")

// Scope names what a transaction serializes on: one idempotency key and a set of wallets.
type Scope struct {
	Key       string
	WalletIDs []string
}

// orderedWallets returns the scope's wallet ids sorted and deduplicated. Locks are always taken
// in this order.
func (s Scope) orderedWallets() []string {
	return sortedUnique(s.WalletIDs)
}

func sortedUnique(values []string) []string {
	ids := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, id := range values {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tx exposes stores whose writes commit together.
type Tx interface {
	Wallets() wallet.Store
	Ledger() ledger.Store
}

// Backend is the durable storage collaborator of the transaction engine. Its own Wallets and
// Ledger commit every call on its own.
type Backend interface {
	Tx
	// Do locks scope.Key, then scope.WalletIDs in ascending order, and runs fn. Writes made
	// through the Tx commit atomically iff fn returns nil.
	Do(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Tx) error) error
}
