/**
 * @description
 * Shared helpers for the handlers package: resolving the authenticated
 * Clerk subject to a local user row, and mapping service errors to HTTP.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - gorm.io/gorm
 * - backend/internal/services
 */

package handlers

import (
	"errors"

	"github.com/custodia-wallet/backend/internal/api/middleware"
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/custodia-wallet/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// requireUser resolves the authenticated Clerk subject to the local user row.
// Returns a fiber error response (already written) as the error when the
// request cannot proceed.
func requireUser(c *fiber.Ctx, db *gorm.DB) (*models.User, error) {
	clerkID, err := middleware.GetUserID(c)
	if err != nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var user models.User
	if err := db.WithContext(c.Context()).Where("clerk_id = ?", clerkID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User not registered. Call /user/sync first."})
		}
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to resolve user"})
	}
	return &user, nil
}

// parseIDParam parses the ":id" route parameter as a UUID.
func parseIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid id"})
	}
	return id, nil
}

// serviceError maps service-layer sentinel errors onto HTTP responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrExportBlocked):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrTransferFailed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
