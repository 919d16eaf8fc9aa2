package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbuike/wallet-service/internal/ledger"
	"github.com/cbuike/wallet-service/internal/wallet"
)

// Postgres runs transactions against a PostgreSQL pool.
type Postgres struct {
	pool    *pgxpool.Pool
	wallets *wallet.PostgresStore
	ledger  *ledger.PostgresStore
}

// NewPostgres builds a backend on top of pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:    pool,
		wallets: wallet.NewPostgresStore(pool),
		ledger:  ledger.NewPostgresStore(pool),
	}
}

func (p *Postgres) Wallets() wallet.Store { return p.wallets }
func (p *Postgres) Ledger() ledger.Store  { return p.ledger }

// Do opens a transaction, takes an advisory lock on the idempotency key, locks the scope's wallet
// rows in ascending id order and runs fn. The transaction commits only if fn succeeds.
func (p *Postgres) Do(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) && err == nil {
			err = fmt.Errorf("rollback: %w", rbErr)
		}
	}()

	if scope.Key != "" {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scope.Key); err != nil {
			return fmt.Errorf("lock idempotency key: %w", err)
		}
	}

	locked := make(map[string]bool, len(scope.WalletIDs))
	for _, id := range scope.orderedWallets() {
		walletID, parseErr := uuid.Parse(id)
		if parseErr != nil {
			// not a wallet id; the lookup inside fn reports it as missing
			continue
		}
		if _, err := tx.Exec(ctx, `SELECT 1 FROM wallets WHERE id = $1 FOR UPDATE`, walletID); err != nil {
			return fmt.Errorf("lock wallet %s: %w", id, err)
		}
		locked[id] = true
	}

	if err := fn(ctx, postgresTx{tx: tx, locked: locked}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx     pgx.Tx
	locked map[string]bool
}

func (t postgresTx) Wallets() wallet.Store {
	return scopedWallets{PostgresStore: wallet.NewPostgresStore(t.tx), locked: t.locked}
}

func (t postgresTx) Ledger() ledger.Store { return ledger.NewPostgresStore(t.tx) }

// scopedWallets refuses balance changes on rows the transaction did not lock up front.
type scopedWallets struct {
	*wallet.PostgresStore
	locked map[string]bool
}

func (s scopedWallets) Create(ctx context.Context) (wallet.Wallet, error) {
	w, err := s.PostgresStore.Create(ctx)
	if err == nil {
		s.locked[w.ID] = true
	}
	return w, err
}

func (s scopedWallets) Mutate(ctx context.Context, id string, fn wallet.MutateFunc) (wallet.Wallet, error) {
	if !s.locked[id] {
		if _, err := s.PostgresStore.Get(ctx, id); err != nil {
			return wallet.Wallet{}, err
		}
		return wallet.Wallet{}, fmt.Errorf("%w: %s", ErrOutOfScope, id)
	}
	return s.PostgresStore.Mutate(ctx, id, fn)
}
