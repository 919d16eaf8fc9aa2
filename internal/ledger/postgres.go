package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cbuike/wallet-service/internal/apperrors"
	"github.com/cbuike/wallet-service/internal/infra"
)

const (
	entryColumns       = `id, seq, wallet_id, amount, kind, idempotency_key, created_at`
	uniqueViolation    = "23505"
	foreignKeyViolated = "23503"
)

// PostgresStore persists ledger entries in PostgreSQL.
type PostgresStore struct {
	db infra.DBTX
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db infra.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Exists reports whether an entry already carries the idempotency key.
func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)`, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return exists, nil
}

// Append inserts a single entry.
func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	out, err := s.AppendAll(ctx, []Entry{entry})
	if err != nil {
		return Entry{}, err
	}
	return out[0], nil
}

// AppendAll inserts the entries inside one savepoint or transaction.
func (s *PostgresStore) AppendAll(ctx context.Context, entries []Entry) ([]Entry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Amount <= 0 {
			return nil, apperrors.ErrInvalidAmount
		}
		walletID, err := uuid.Parse(e.WalletID)
		if err != nil {
			return nil, apperrors.NotFound("wallet", e.WalletID)
		}
		row := tx.QueryRow(ctx, `INSERT INTO ledger_entries (id, wallet_id, amount, kind, idempotency_key)
            VALUES ($1, $2, $3, $4, $5) RETURNING `+entryColumns,
			uuid.New(), walletID, e.Amount, string(e.Kind), e.IdempotencyKey)
		stored, err := scanEntry(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case uniqueViolation:
					return nil, apperrors.Duplicate(e.IdempotencyKey)
				case foreignKeyViolated:
					return nil, apperrors.NotFound("wallet", e.WalletID)
				}
			}
			return nil, fmt.Errorf("insert ledger entry: %w", err)
		}
		out = append(out, stored)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return out, nil
}

// List returns every entry ordered by sequence.
func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e        Entry
		id       uuid.UUID
		walletID uuid.UUID
		kind     string
	)
	if err := row.Scan(&id, &e.Sequence, &walletID, &e.Amount, &kind, &e.IdempotencyKey, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.ID = id.String()
	e.WalletID = walletID.String()
	e.Kind = Kind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
