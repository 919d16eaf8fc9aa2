// Package apperrors defines the domain failures surfaced by the ledger engine.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced wallet does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOperation indicates the idempotency key was already used by a committed operation.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrInsufficientFunds occurs when a wallet balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount rejects non-positive amounts and balance overflow.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransactionType rejects kinds outside the closed set.
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrMissingIdempotencyKey rejects mutations without an idempotency key.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrSelfTransfer rejects transfers whose sender and receiver are the same wallet.
	ErrSelfTransfer = errors.New("sender and receiver must differ")
)

// NotFoundError names the missing subject (wallet, sender, receiver).
type NotFoundError struct {
	Subject string
	ID      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Subject, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(subject, id string) error {
	return &NotFoundError{Subject: subject, ID: id}
}

// DuplicateError carries the idempotency key that was replayed.
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("a transaction with idempotency key %q already exists", e.Key)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateOperation }

// Duplicate builds a DuplicateError.
func Duplicate(key string) error {
	return &DuplicateError{Key: key}
}

// InvalidTypeError carries the rejected transaction type value.
type InvalidTypeError struct {
	Value string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid transaction type: %q", e.Value)
}

func (e *InvalidTypeError) Unwrap() error { return ErrInvalidTransactionType }

// InvalidType builds an InvalidTypeError.
func InvalidType(value string) error {
	return &InvalidTypeError{Value: value}
}

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrDuplicateOperation, "DUPLICATE_OPERATION"},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInvalidTransactionType, "INVALID_TRANSACTION_TYPE"},
	{ErrMissingIdempotencyKey, "MISSING_IDEMPOTENCY_KEY"},
	{ErrSelfTransfer, "SELF_TRANSFER"},
}

// Code returns a stable code for a domain failure, or "" for anything else.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// IsDomain reports whether err belongs to the domain taxonomy.
func IsDomain(err error) bool {
	return Code(err) != ""
}
