/**
 * @description
 * HTTP Handlers for the Multi-Chain Export Orchestrator.
 * Exposes eligibility checks, export creation/execution, targeted retry of
 * failed chains, and cancellation.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"github.com/custodia-wallet/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ExportHandler struct {
	DB      *gorm.DB
	Exports *services.ExportService
}

func NewExportHandler(db *gorm.DB, exports *services.ExportService) *ExportHandler {
	return &ExportHandler{DB: db, Exports: exports}
}

// Eligibility reports whether the caller may export, with any blocking withdrawals
// GET /api/v1/exports/eligibility
func (h *ExportHandler) Eligibility(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	eligibility, err := h.Exports.CanExport(c.Context(), user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(eligibility)
}

// CreateExportRequest defines payload for starting an export
type CreateExportRequest struct {
	NewOwnerAddress string  `json:"new_owner_address"`
	ChainIDs        []int64 `json:"chain_ids"`
}

// Create opens an export request and immediately broadcasts every chain
// POST /api/v1/exports
func (h *ExportHandler) Create(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	var req CreateExportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	export, err := h.Exports.CreateExport(c.Context(), user.ID, req.NewOwnerAddress, req.ChainIDs)
	if err != nil {
		return serviceError(c, err)
	}

	export, err = h.Exports.Execute(c.Context(), export.ID, user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(export)
}

// Get returns one export request the caller owns
// GET /api/v1/exports/:id
func (h *ExportHandler) Get(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	exportID, err := parseIDParam(c)
	if err != nil {
		return err
	}

	export, err := h.Exports.Get(c.Context(), exportID, user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(export)
}

// Retry re-broadcasts only the chains whose last attempt failed
// POST /api/v1/exports/:id/retry
func (h *ExportHandler) Retry(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	exportID, err := parseIDParam(c)
	if err != nil {
		return err
	}

	retried, err := h.Exports.RetryFailedChains(c.Context(), exportID, user.ID)
	if err != nil {
		return serviceError(c, err)
	}

	export, err := h.Exports.Get(c.Context(), exportID, user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"retried_chains": retried, "export": export})
}

// Cancel cancels an export that has not started processing yet
// POST /api/v1/exports/:id/cancel
func (h *ExportHandler) Cancel(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}

	exportID, err := parseIDParam(c)
	if err != nil {
		return err
	}

	cancelled, err := h.Exports.CancelExport(c.Context(), exportID, user.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"cancelled": cancelled})
}
