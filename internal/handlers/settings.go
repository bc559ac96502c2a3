package handlers

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/platewise/mealscan/internal/config"
	"github.com/platewise/mealscan/internal/database"
)

// SettingsHandler handles runtime configuration endpoints. Changes apply to
// the next analysis without a restart.
type SettingsHandler struct {
	db            *database.DB
	cfg           *config.Config
	encryptionKey []byte
}

// NewSettingsHandler creates a new SettingsHandler instance
func NewSettingsHandler(db *database.DB, cfg *config.Config, encryptionKey []byte) *SettingsHandler {
	return &SettingsHandler{
		db:            db,
		cfg:           cfg,
		encryptionKey: encryptionKey,
	}
}

// GetSettingsByCategory returns all settings for a given category
func (h *SettingsHandler) GetSettingsByCategory(c *fiber.Ctx) error {
	category := c.Params("category")
	if category == "" {
		return Error(c, fiber.StatusBadRequest, "category is required")
	}

	settings, err := h.db.GetSettingsByCategoryAsMap(c.Context(), category, h.encryptionKey, false)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to get settings: "+err.Error())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    settings,
	})
}

// UpdateSettingsRequest is the request body for updating settings
type UpdateSettingsRequest struct {
	Settings map[string]interface{} `json:"settings"`
}

// UpdateSettings updates multiple settings at once
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	category := c.Params("category")
	if category == "" {
		return Error(c, fiber.StatusBadRequest, "category is required")
	}

	var req UpdateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	// Convert values to strings for storage
	settingsMap := make(map[string]string)
	for key, value := range req.Settings {
		switch v := value.(type) {
		case string:
			settingsMap[key] = v
		case float64:
			settingsMap[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			settingsMap[key] = strconv.FormatBool(v)
		case int:
			settingsMap[key] = strconv.Itoa(v)
		default:
			settingsMap[key] = fmt.Sprintf("%v", v)
		}
	}

	if err := h.db.SetSettings(c.Context(), settingsMap, h.encryptionKey); err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to update settings: "+err.Error())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Settings updated successfully",
	})
}
