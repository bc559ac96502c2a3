package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/platewise/mealscan/internal/middleware"
	"github.com/platewise/mealscan/internal/models"
)

// ListEntries returns the caller's food log, newest first
func (h *Handler) ListEntries(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, total, err := h.db.ListEntries(c.Context(), &models.EntryListParams{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to list entries")
	}

	return SuccessWithMeta(c, entries, total, limit, offset)
}
