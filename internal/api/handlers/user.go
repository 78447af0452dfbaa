/**
 * @description
 * User API Handlers.
 * Handles user synchronization and profile retrieval.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - gorm.io/gorm
 */

package handlers

import (
	"time"

	"github.com/custodia-wallet/backend/internal/api/middleware"
	"github.com/custodia-wallet/backend/internal/logger"
	"github.com/custodia-wallet/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserHandler struct {
	DB *gorm.DB
}

func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{DB: db}
}

// SyncUserRequest defines payload for syncing user
type SyncUserRequest struct {
	Email string `json:"email"`
}

// SyncUser ensures the user exists in the database
// POST /api/v1/user/sync
func (h *UserHandler) SyncUser(c *fiber.Ctx) error {
	// 1. Get Clerk ID from context
	clerkID, err := middleware.GetUserID(c)
	if err != nil {
		logger.Error("SyncUser: Failed to get user ID from context: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	// 2. Parse Body
	var req SyncUserRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("SyncUser: Failed to parse request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "details": err.Error()})
	}

	// 3. Upsert User
	now := time.Now()
	user := models.User{
		ClerkID:   clerkID,
		Email:     req.Email,
		UpdatedAt: now,
	}

	// Use ON CONFLICT to update email if changed, or do nothing
	result := h.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "clerk_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"email":      req.Email,
			"updated_at": now,
		}),
	}).Create(&user)

	if result.Error != nil {
		logger.Error("SyncUser: Database error during upsert: %v", result.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to sync user",
			"details": result.Error.Error(),
		})
	}

	// 4. Fetch full user to return (including ID)
	var updatedUser models.User
	if err := h.DB.Where("clerk_id = ?", clerkID).First(&updatedUser).Error; err != nil {
		logger.Error("SyncUser: Failed to fetch user after upsert: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to sync user"})
	}

	return c.JSON(updatedUser)
}

// GetMe returns the authenticated user's profile
// GET /api/v1/user/me
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	user, err := requireUser(c, h.DB)
	if err != nil {
		return err
	}
	return c.JSON(user)
}
