/**
 * @description
 * HTTP Handlers for Smart Account management.
 * Exposes endpoints to provision accounts, list them, and run the custody
 * transfer saga.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/api/middleware
 */

package handlers

import (
	"github.com/custodia-wallet/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AccountHandler struct {
	DB       *gorm.DB
	Accounts *services.AccountService
}

func NewAccountHandler(db *gorm.DB, accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{DB: db, Accounts: accounts}
}

// ProvisionAccountRequest defines payload for provisioning a smart account
type ProvisionAccountRequest struct {
	ChainID int64  `json:"chain_id"`
	Address string `json:"address"`
	Salt    string `json:"salt"`
}

// Provision creates (or idempotently returns) the caller's smart account on a chain
// POST /api/v1/accounts
func (h *AccountHandler) Provision(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	var req ProvisionAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	account, err := h.Accounts.Provision(c.Context(), user.ID, req.ChainID, req.Address, req.Salt)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(account)
}

// List returns all of the caller's smart accounts
// GET /api/v1/accounts
func (h *AccountHandler) List(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	accounts, err := h.Accounts.ListAccounts(c.Context(), user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(accounts)
}

// TransferCustodyRequest defines payload for the custody handover
type TransferCustodyRequest struct {
	NewOwnerAddress string `json:"new_owner_address"`
}

// TransferCustody runs the managed -> self-custody saga for one account
// POST /api/v1/accounts/:id/transfer
func (h *AccountHandler) TransferCustody(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	accountID, err := parseIDParam(c)
	if err != nil {
		return err
	}

	var req TransferCustodyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	account, err := h.Accounts.TransferCustody(c.Context(), accountID, user.ID, req.NewOwnerAddress)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(account)
}
