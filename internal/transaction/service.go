// Package transaction applies credits, debits and transfers to wallets, recording every balance
// change as ledger entries under an idempotency key.
package transaction

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/cbuike/wallet-service/internal/apperrors"
	"github.com/cbuike/wallet-service/internal/ledger"
	"github.com/cbuike/wallet-service/internal/notification"
	"github.com/cbuike/wallet-service/internal/storage"
	"github.com/cbuike/wallet-service/internal/wallet"
)

// Service is the transaction engine.
type Service struct {
	backend  storage.Backend
	wallets  *wallet.Service
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService wires the engine. wallets and notifier may be nil.
func NewService(backend storage.Backend, wallets *wallet.Service, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{backend: backend, wallets: wallets, notifier: notifier, logger: logger}
}

// ApplyInput describes a single-wallet credit or debit.
type ApplyInput struct {
	WalletID       string
	Amount         int64
	Kind           ledger.Kind
	IdempotencyKey string
}

// Result is the outcome of a credit or debit.
type Result struct {
	Entry   ledger.Entry
	Balance int64
}

// TransferInput describes a movement of funds between two wallets.
type TransferInput struct {
	SenderID       string
	ReceiverID     string
	Amount         int64
	IdempotencyKey string
}

// TransferResult carries both ledger entries of a transfer and the resulting balances.
type TransferResult struct {
	Outgoing        ledger.Entry
	Incoming        ledger.Entry
	SenderBalance   int64
	ReceiverBalance int64
}

// Credit adds amount to the wallet.
func (s *Service) Credit(ctx context.Context, walletID string, amount int64, key string) (Result, error) {
	return s.Apply(ctx, ApplyInput{WalletID: walletID, Amount: amount, Kind: ledger.KindCredit, IdempotencyKey: key})
}

// Debit removes amount from the wallet.
func (s *Service) Debit(ctx context.Context, walletID string, amount int64, key string) (Result, error) {
	return s.Apply(ctx, ApplyInput{WalletID: walletID, Amount: amount, Kind: ledger.KindDebit, IdempotencyKey: key})
}

// Apply performs a credit or debit exactly once per idempotency key.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (Result, error) {
	if in.Kind != ledger.KindCredit && in.Kind != ledger.KindDebit {
		return Result{}, apperrors.InvalidType(string(in.Kind))
	}
	if in.Amount <= 0 {
		return Result{}, apperrors.ErrInvalidAmount
	}
	if in.IdempotencyKey == "" {
		return Result{}, apperrors.ErrMissingIdempotencyKey
	}

	var res Result
	scope := storage.Scope{Key: in.IdempotencyKey, WalletIDs: []string{in.WalletID}}
	err := s.backend.Do(ctx, scope, func(ctx context.Context, tx storage.Tx) error {
		if err := ensureUnused(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}
		if _, err := tx.Wallets().Get(ctx, in.WalletID); err != nil {
			return err
		}

		updated, err := tx.Wallets().Mutate(ctx, in.WalletID, func(balance int64) (int64, error) {
			if in.Kind == ledger.KindCredit {
				if balance > math.MaxInt64-in.Amount {
					return 0, apperrors.ErrInvalidAmount
				}
				return balance + in.Amount, nil
			}
			if balance < in.Amount {
				return 0, apperrors.ErrInsufficientFunds
			}
			return balance - in.Amount, nil
		})
		if err != nil {
			return err
		}

		entry, err := tx.Ledger().Append(ctx, ledger.Entry{
			WalletID:       in.WalletID,
			Amount:         in.Amount,
			Kind:           in.Kind,
			IdempotencyKey: in.IdempotencyKey,
		})
		if err != nil {
			return err
		}

		res = Result{Entry: entry, Balance: updated.Balance}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "apply failed", err, slog.String("wallet_id", in.WalletID), slog.String("kind", in.Kind.String()))
		return Result{}, err
	}

	kind := notification.KindCredit
	if in.Kind == ledger.KindDebit {
		kind = notification.KindDebit
	}
	s.afterCommit(ctx, []string{in.WalletID}, notification.Message{
		Kind:           kind,
		WalletID:       in.WalletID,
		Amount:         in.Amount,
		Balance:        res.Balance,
		IdempotencyKey: in.IdempotencyKey,
	})
	return res, nil
}

// Transfer moves amount from sender to receiver. Both balance changes and both entries commit
// together or not at all.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.Amount <= 0 {
		return TransferResult{}, apperrors.ErrInvalidAmount
	}
	if in.IdempotencyKey == "" {
		return TransferResult{}, apperrors.ErrMissingIdempotencyKey
	}
	if in.SenderID == in.ReceiverID {
		return TransferResult{}, apperrors.ErrSelfTransfer
	}

	var res TransferResult
	scope := storage.Scope{Key: in.IdempotencyKey, WalletIDs: []string{in.SenderID, in.ReceiverID}}
	err := s.backend.Do(ctx, scope, func(ctx context.Context, tx storage.Tx) error {
		if err := ensureUnused(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}

		sender, senderErr := lookup(ctx, tx, "sender", in.SenderID)
		_, receiverErr := lookup(ctx, tx, "receiver", in.ReceiverID)
		if err := errors.Join(senderErr, receiverErr); err != nil {
			return err
		}
		if sender.Balance < in.Amount {
			return apperrors.ErrInsufficientFunds
		}

		debited, err := tx.Wallets().Mutate(ctx, in.SenderID, func(balance int64) (int64, error) {
			if balance < in.Amount {
				return 0, apperrors.ErrInsufficientFunds
			}
			return balance - in.Amount, nil
		})
		if err != nil {
			return err
		}
		credited, err := tx.Wallets().Mutate(ctx, in.ReceiverID, func(balance int64) (int64, error) {
			if balance > math.MaxInt64-in.Amount {
				return 0, apperrors.ErrInvalidAmount
			}
			return balance + in.Amount, nil
		})
		if err != nil {
			return err
		}

		entries, err := tx.Ledger().AppendAll(ctx, []ledger.Entry{
			{WalletID: in.SenderID, Amount: in.Amount, Kind: ledger.KindTransferOut, IdempotencyKey: in.IdempotencyKey},
			{WalletID: in.ReceiverID, Amount: in.Amount, Kind: ledger.KindTransferIn, IdempotencyKey: in.IdempotencyKey},
		})
		if err != nil {
			return err
		}

		res = TransferResult{
			Outgoing:        entries[0],
			Incoming:        entries[1],
			SenderBalance:   debited.Balance,
			ReceiverBalance: credited.Balance,
		}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "transfer failed", err, slog.String("sender_id", in.SenderID), slog.String("receiver_id", in.ReceiverID))
		return TransferResult{}, err
	}

	s.afterCommit(ctx, []string{in.SenderID, in.ReceiverID}, notification.Message{
		Kind:           notification.KindTransfer,
		WalletID:       in.SenderID,
		Counterparty:   in.ReceiverID,
		Amount:         in.Amount,
		Balance:        res.SenderBalance,
		IdempotencyKey: in.IdempotencyKey,
	})
	return res, nil
}

// List returns every ledger entry ordered by sequence.
func (s *Service) List(ctx context.Context) ([]ledger.Entry, error) {
	return s.backend.Ledger().List(ctx)
}

func ensureUnused(ctx context.Context, tx storage.Tx, key string) error {
	used, err := tx.Ledger().Exists(ctx, key)
	if err != nil {
		return err
	}
	if used {
		return apperrors.Duplicate(key)
	}
	return nil
}

// lookup fetches a transfer party, renaming a missing wallet after its role.
func lookup(ctx context.Context, tx storage.Tx, role, id string) (wallet.Wallet, error) {
	w, err := tx.Wallets().Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return wallet.Wallet{}, apperrors.NotFound(role, id)
	}
	return w, err
}

func (s *Service) afterCommit(ctx context.Context, walletIDs []string, msg notification.Message) {
	if s.wallets != nil {
		s.wallets.Forget(ctx, walletIDs...)
	}
	if s.notifier != nil {
		if err := s.notifier.Send(ctx, msg); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
		}
	}
}

func (s *Service) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	if s.logger == nil || apperrors.IsDomain(err) {
		return
	}
	s.logger.ErrorContext(ctx, msg, append(attrs, slog.Any("error", err))...)
}
