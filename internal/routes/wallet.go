package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cbuike/wallet-service/internal/transaction"
	"github.com/cbuike/wallet-service/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets", h.List)
	r.Get("/wallets/:walletId", h.Get)
}

// RegisterTransactionRoutes wires credit, debit, transfer and ledger listing endpoints.
func RegisterTransactionRoutes(r fiber.Router, h *transaction.Handler) {
	r.Post("/transactions", h.Apply)
	r.Post("/transactions/transfer", h.Transfer)
	r.Get("/transactions", h.List)
}
