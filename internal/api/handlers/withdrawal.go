/**
 * @description
 * HTTP Handlers for the Withdrawal Engine.
 * Exposes endpoints to create, list and cancel withdrawals. The 7-day hold
 * and all state transitions live in the service layer; handlers only parse,
 * authorize and translate.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/models
 */

package handlers

import (
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/custodia-wallet/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WithdrawalHandler struct {
	DB          *gorm.DB
	Withdrawals *services.WithdrawalService
}

func NewWithdrawalHandler(db *gorm.DB, withdrawals *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{DB: db, Withdrawals: withdrawals}
}

// CreateWithdrawalRequest defines payload for opening a withdrawal
type CreateWithdrawalRequest struct {
	SmartAccountID string `json:"smart_account_id"`
	TokenAddress   string `json:"token_address"`
	Amount         string `json:"amount"` // integer, smallest unit (e.g. "1000000000000000000" for 1 ETH)
	ToAddress      string `json:"to_address"`
	TransferType   string `json:"transfer_type"` // "IMMEDIATE" or "DELAYED"
}

// Create opens a withdrawal out of one of the caller's accounts
// POST /api/v1/withdrawals
func (h *WithdrawalHandler) Create(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	var req CreateWithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	accountID, err := uuid.Parse(req.SmartAccountID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid smart_account_id"})
	}

	withdrawal, err := h.Withdrawals.Create(c.Context(), user.ID, accountID,
		req.TokenAddress, req.Amount, req.ToAddress, models.TransferType(req.TransferType))
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(withdrawal)
}

// List returns the caller's withdrawals across all accounts
// GET /api/v1/withdrawals
func (h *WithdrawalHandler) List(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	withdrawals, err := h.Withdrawals.ListForUser(c.Context(), user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(withdrawals)
}

// Get returns one withdrawal the caller owns
// GET /api/v1/withdrawals/:id
func (h *WithdrawalHandler) Get(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	withdrawalID, err := parseIDParam(c)
	if err != nil {
		return err
	}

	withdrawal, err := h.Withdrawals.Get(c.Context(), withdrawalID, user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(withdrawal)
}

// Cancel cancels a still-pending withdrawal the caller owns.
// A false result covers both "no longer pending" and "not yours" on purpose.
// POST /api/v1/withdrawals/:id/cancel
func (h *WithdrawalHandler) Cancel(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	withdrawalID, err := parseIDParam(c)
	if err != nil {
		return err
	}

	cancelled, err := h.Withdrawals.Cancel(c.Context(), withdrawalID, user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"cancelled": cancelled})
}
