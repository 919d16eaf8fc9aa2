package notification

import (
	"context"
	"log/slog"
)

const (
	// KindCredit is emitted after a wallet was credited.
	KindCredit = "wallet_credited"
	// KindDebit is emitted after a wallet was debited.
	KindDebit = "wallet_debited"
	// KindTransfer is emitted after funds moved between two wallets.
	KindTransfer = "wallet_transfer"
)

// Message describes a committed ledger event.
type Message struct {
	Kind           string
	WalletID       string
	Counterparty   string
	Amount         int64
	Balance        int64
	IdempotencyKey string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("kind", message.Kind),
		slog.String("wallet_id", message.WalletID),
		slog.Int64("amount", message.Amount),
		slog.Int64("balance", message.Balance),
		slog.String("idempotency_key", message.IdempotencyKey),
	}
	if message.Counterparty != "" {
		attrs = append(attrs, slog.String("counterparty", message.Counterparty))
	}
	n.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
