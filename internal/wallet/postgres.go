package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cbuike/wallet-service/internal/apperrors"
	"github.com/cbuike/wallet-service/internal/infra"
)

const walletColumns = `id, balance, created_at, updated_at`

// PostgresStore stores wallets in PostgreSQL. It works on a pool or inside a pgx transaction.
type PostgresStore struct {
	db infra.DBTX
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db infra.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a wallet with a zero balance.
func (s *PostgresStore) Create(ctx context.Context) (Wallet, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO wallets (id, balance) VALUES ($1, 0)
        RETURNING `+walletColumns, uuid.New())
	w, err := scanWallet(row)
	if err != nil {
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return w, nil
}

// Get fetches a wallet by identifier.
func (s *PostgresStore) Get(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, apperrors.NotFound("wallet", id)
	}
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, apperrors.NotFound("wallet", id)
		}
		return Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}

// List returns all wallets ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]Wallet, error) {
	rows, err := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	wallets := make([]Wallet, 0)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return wallets, nil
}

// Mutate locks the wallet row, applies fn and writes the new balance.
func (s *PostgresStore) Mutate(ctx context.Context, id string, fn MutateFunc) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, apperrors.NotFound("wallet", id)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Wallet{}, fmt.Errorf("begin mutate: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, apperrors.NotFound("wallet", id)
		}
		return Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}

	next, err := fn(current.Balance)
	if err != nil {
		return Wallet{}, err
	}
	if next < 0 {
		return Wallet{}, apperrors.ErrInsufficientFunds
	}

	updated, err := scanWallet(tx.QueryRow(ctx, `UPDATE wallets SET balance = $1, updated_at = NOW()
        WHERE id = $2 RETURNING `+walletColumns, next, walletID))
	if err != nil {
		return Wallet{}, fmt.Errorf("update wallet balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, fmt.Errorf("commit mutate: %w", err)
	}
	return updated, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w  Wallet
		id uuid.UUID
	)
	if err := row.Scan(&id, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.ID = id.String()
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
