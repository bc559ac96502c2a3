package handlers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/platewise/mealscan/internal/config"
	"github.com/platewise/mealscan/internal/database"
	"github.com/platewise/mealscan/internal/middleware"
	"github.com/platewise/mealscan/internal/models"
	"github.com/platewise/mealscan/internal/services"
)

const (
	maxPhotoSizeBytes = 10 * 1024 * 1024
	maxDescriptionLen = 2000
)

// AnalysisHandler handles the analyze and confirm endpoints
type AnalysisHandler struct {
	cfg          *config.Config
	analysis     *services.AnalysisService
	confirmation *services.ConfirmationService
	storage      *services.StorageService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(
	cfg *config.Config,
	analysis *services.AnalysisService,
	confirmation *services.ConfirmationService,
	storage *services.StorageService,
) *AnalysisHandler {
	return &AnalysisHandler{
		cfg:          cfg,
		analysis:     analysis,
		confirmation: confirmation,
		storage:      storage,
	}
}

// UploadPhoto stores a meal photo and returns the reference to analyze
func (h *AnalysisHandler) UploadPhoto(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	file, err := c.FormFile("photo")
	if err != nil {
		return Error(c, fiber.StatusBadRequest, "photo file is required")
	}

	contentType := file.Header.Get("Content-Type")
	if !isValidImageType(contentType) {
		return Error(c, fiber.StatusBadRequest, "invalid image type. Supported: JPEG, PNG, WebP")
	}

	if file.Size > maxPhotoSizeBytes {
		return Error(c, fiber.StatusBadRequest, "file too large. Maximum size is 10MB")
	}

	photoKey := generatePhotoKey(userID, file.Filename)

	src, err := file.Open()
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to read file")
	}
	defer src.Close()

	result, err := h.storage.Upload(c.Context(), photoKey, src, file.Size, contentType)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to upload photo")
	}

	return Success(c, fiber.Map{
		"photo_ref":  photoKey,
		"bucket":     result.Bucket,
		"size_bytes": file.Size,
	})
}

// AnalyzePhoto runs recognition over a previously uploaded photo
func (h *AnalysisHandler) AnalyzePhoto(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req models.AnalyzePhotoRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.PhotoRef == "" {
		return Error(c, fiber.StatusBadRequest, "photo_ref is required")
	}
	// Photo keys are namespaced per user at upload time
	if !strings.HasPrefix(req.PhotoRef, fmt.Sprintf("meals/%d/", userID)) {
		return Error(c, fiber.StatusForbidden, "access denied")
	}

	analysis, err := h.analysis.AnalyzePhoto(c.Context(), userID, &req)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to analyze photo")
	}

	return Success(c, analysis)
}

// AnalyzeText runs recognition over a free-text meal description
func (h *AnalysisHandler) AnalyzeText(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req models.AnalyzeTextRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return Error(c, fiber.StatusBadRequest, "description is required")
	}
	if len(req.Description) > maxDescriptionLen {
		return Error(c, fiber.StatusBadRequest, "description too long. Maximum is 2000 characters")
	}

	analysis, err := h.analysis.AnalyzeText(c.Context(), userID, &req)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to analyze description")
	}

	return Success(c, analysis)
}

// AnalyzeBarcode resolves a scanned barcode to a product analysis
func (h *AnalysisHandler) AnalyzeBarcode(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req models.AnalyzeBarcodeRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Barcode == "" {
		return Error(c, fiber.StatusBadRequest, "barcode is required")
	}

	analysis, err := h.analysis.AnalyzeBarcode(c.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidBarcode) {
			return Error(c, fiber.StatusBadRequest, "barcode must be 8 to 14 digits")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to analyze barcode")
	}

	return Success(c, analysis)
}

// GetAnalysis returns one analysis owned by the caller
func (h *AnalysisHandler) GetAnalysis(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	analysisID := c.Params("id")
	analysis, err := h.analysis.GetAnalysis(c.Context(), userID, analysisID)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrAnalysisNotFound):
			return Error(c, fiber.StatusNotFound, "analysis not found")
		case errors.Is(err, services.ErrNotOwned):
			return Error(c, fiber.StatusForbidden, "access denied")
		default:
			return Error(c, fiber.StatusInternalServerError, "failed to load analysis")
		}
	}

	return Success(c, analysis)
}

// ConfirmAnalysis accepts a selection of items and writes log entries
func (h *AnalysisHandler) ConfirmAnalysis(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	analysisID := c.Params("id")

	var req models.ConfirmAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := h.confirmation.Confirm(c.Context(), userID, analysisID, &req)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrAnalysisNotFound):
			return Error(c, fiber.StatusNotFound, "analysis not found")
		case errors.Is(err, services.ErrNotOwned):
			return Error(c, fiber.StatusForbidden, "access denied")
		case errors.Is(err, services.ErrInvalidIndex):
			return Error(c, fiber.StatusBadRequest, "accepted_indexes contains an invalid index")
		case errors.Is(err, services.ErrAlreadyConfirmed):
			return Error(c, fiber.StatusConflict, "analysis already confirmed with a different selection")
		default:
			return Error(c, fiber.StatusInternalServerError, "failed to confirm analysis")
		}
	}

	return Success(c, resp)
}

// isValidImageType checks if the content type is a supported image format
func isValidImageType(contentType string) bool {
	validTypes := []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/webp",
	}

	for _, t := range validTypes {
		if strings.EqualFold(contentType, t) {
			return true
		}
	}
	return false
}

// generatePhotoKey generates a unique storage key for a meal photo
func generatePhotoKey(userID int, filename string) string {
	timestamp := time.Now().UnixNano()
	ext := ""
	if idx := strings.LastIndex(filename, "."); idx != -1 {
		ext = strings.ToLower(filename[idx:])
	}
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("meals/%d/%d%s", userID, timestamp, ext)
}
