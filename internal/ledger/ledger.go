package ledger

import (
	"context"
	"time"

	"github.com/cbuike/wallet-service/internal/apperrors"
)

// Kind is the direction of a ledger entry. The set is closed.
type Kind string

const (
	KindCredit      Kind = "CREDIT"
	KindDebit       Kind = "DEBIT"
	KindTransferOut Kind = "TRANSFER_OUT"
	KindTransferIn  Kind = "TRANSFER_IN"
)

// ParseKind converts an inbound value into a Kind, rejecting anything outside the closed set.
func ParseKind(value string) (Kind, error) {
	switch k := Kind(value); k {
	case KindCredit, KindDebit, KindTransferOut, KindTransferIn:
		return k, nil
	default:
		return "", apperrors.InvalidType(value)
	}
}

func (k Kind) String() string { return string(k) }

// Entry is an immutable record of one balance-affecting event. Amount is always positive;
// the direction is carried by Kind.
type Entry struct {
	ID             string    `json:"id"`
	Sequence       int64     `json:"sequence"`
	WalletID       string    `json:"wallet_id"`
	Amount         int64     `json:"amount"`
	Kind           Kind      `json:"type"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store owns immutable ledger entries.
type Store interface {
	// Exists reports whether any entry carries the idempotency key.
	Exists(ctx context.Context, key string) (bool, error)
	// Append stores one entry and returns it with ID, Sequence and CreatedAt assigned.
	Append(ctx context.Context, entry Entry) (Entry, error)
	// AppendAll stores every entry or none of them.
	AppendAll(ctx context.Context, entries []Entry) ([]Entry, error)
	// List returns all entries ordered by Sequence.
	List(ctx context.Context) ([]Entry, error)
}
