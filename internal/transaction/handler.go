package transaction

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cbuike/wallet-service/internal/ledger"
)

// Handler exposes transaction endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type applyRequest struct {
	WalletID       string `json:"wallet_id"`
	Amount         int64  `json:"amount"`
	Type           string `json:"type"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferRequest struct {
	SenderWalletID   string `json:"sender_wallet_id"`
	ReceiverWalletID string `json:"receiver_wallet_id"`
	Amount           int64  `json:"amount"`
	IdempotencyKey   string `json:"idempotency_key"`
}

type applyResponse struct {
	Transaction ledger.Entry `json:"transaction"`
	Balance     int64        `json:"balance"`
}

type transferResponse struct {
	Outgoing        ledger.Entry `json:"outgoing"`
	Incoming        ledger.Entry `json:"incoming"`
	SenderBalance   int64        `json:"sender_balance"`
	ReceiverBalance int64        `json:"receiver_balance"`
}

// Apply processes a credit or debit.
func (h *Handler) Apply(c *fiber.Ctx) error {
	var req applyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	kind, err := ledger.ParseKind(strings.ToUpper(strings.TrimSpace(req.Type)))
	if err != nil {
		return err
	}

	res, err := h.service.Apply(c.UserContext(), ApplyInput{
		WalletID:       req.WalletID,
		Amount:         req.Amount,
		Kind:           kind,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(applyResponse{Transaction: res.Entry, Balance: res.Balance})
}

// Transfer moves funds between two wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		SenderID:       req.SenderWalletID,
		ReceiverID:     req.ReceiverWalletID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(transferResponse{
		Outgoing:        res.Outgoing,
		Incoming:        res.Incoming,
		SenderBalance:   res.SenderBalance,
		ReceiverBalance: res.ReceiverBalance,
	})
}

// List returns every ledger entry.
func (h *Handler) List(c *fiber.Ctx) error {
	entries, err := h.service.List(c.UserContext())
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return c.Status(http.StatusOK).JSON(entries)
}
