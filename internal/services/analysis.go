package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platewise/mealscan/internal/logging"
	"github.com/platewise/mealscan/internal/metrics"
	"github.com/platewise/mealscan/internal/models"
)

const (
	// visionURLTTL covers the producer budget with room to spare, so the
	// model can still fetch the photo late in a slow call
	visionURLTTL = time.Hour
	viewURLTTL   = 15 * time.Minute

	defaultAnalysisTTL = 24 * time.Hour
)

var ErrNotOwned = errors.New("analysis belongs to another user")

// BarcodeLookup resolves a barcode to a packaged product
type BarcodeLookup interface {
	LookupBarcode(ctx context.Context, code string) (*BarcodeProduct, error)
}

// AnalysisService runs the analyze phase: one meal input in, one reviewable
// analysis out. Results are idempotent per (user, key) through the store.
type AnalysisService struct {
	store       *AnalysisStore
	chain       *AdapterChain
	enrich      *EnrichmentService
	barcode     BarcodeLookup
	storage     *StorageService
	tiers       TierSource
	analysisTTL time.Duration
	metrics     *metrics.Registry
	logger      logging.Logger
}

func NewAnalysisService(store *AnalysisStore, chain *AdapterChain, enrich *EnrichmentService, barcode BarcodeLookup, storage *StorageService, tiers TierSource, analysisTTL time.Duration, reg *metrics.Registry, logger logging.Logger) *AnalysisService {
	if analysisTTL <= 0 {
		analysisTTL = defaultAnalysisTTL
	}
	return &AnalysisService{
		store:       store,
		chain:       chain,
		enrich:      enrich,
		barcode:     barcode,
		storage:     storage,
		tiers:       tiers,
		analysisTTL: analysisTTL,
		metrics:     reg,
		logger:      logger,
	}
}

// DeriveIdempotencyKey builds the automatic key for callers that did not
// supply one. The same caller sending the same input always lands on the
// same key.
func DeriveIdempotencyKey(callerID int, payload, hint string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", callerID, payload, hint)))
	return "auto-" + hex.EncodeToString(sum[:])[:16]
}

// AnalyzePhoto analyzes a previously uploaded photo
func (s *AnalysisService) AnalyzePhoto(ctx context.Context, userID int, req *models.AnalyzePhotoRequest) (*models.MealAnalysis, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(userID, req.PhotoRef, req.Hint)
	}

	return s.run(ctx, userID, key, models.AnalysisSourcePhoto, func(produceCtx context.Context) (*models.MealAnalysis, error) {
		return s.producePhotoAnalysis(produceCtx, userID, key, req)
	})
}

// AnalyzeText analyzes a free-text meal description
func (s *AnalysisService) AnalyzeText(ctx context.Context, userID int, req *models.AnalyzeTextRequest) (*models.MealAnalysis, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(userID, req.Description, "")
	}

	return s.run(ctx, userID, key, models.AnalysisSourceText, func(produceCtx context.Context) (*models.MealAnalysis, error) {
		return s.produceTextAnalysis(produceCtx, userID, key, req.Description)
	})
}

// AnalyzeBarcode analyzes a scanned product barcode. The quantity defaults
// to 100g when the caller does not provide one.
func (s *AnalysisService) AnalyzeBarcode(ctx context.Context, userID int, req *models.AnalyzeBarcodeRequest) (*models.MealAnalysis, error) {
	grams := req.QuantityGrams
	if grams <= 0 {
		grams = defaultQuantityGrams
	}

	key := req.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(userID, fmt.Sprintf("%s:%g", req.Barcode, grams), "")
	}

	return s.run(ctx, userID, key, models.AnalysisSourceBarcode, func(produceCtx context.Context) (*models.MealAnalysis, error) {
		return s.produceBarcodeAnalysis(produceCtx, userID, key, req.Barcode, grams)
	})
}

// GetAnalysis loads an analysis owned by the caller, attaching a short
// lived photo URL when one exists
func (s *AnalysisService) GetAnalysis(ctx context.Context, userID int, id string) (*models.MealAnalysis, error) {
	analysis, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if analysis.UserID != userID {
		return nil, ErrNotOwned
	}

	if s.storage != nil && analysis.PhotoKey != nil {
		if u, err := s.storage.GetPresignedURL(ctx, *analysis.PhotoKey, viewURLTTL); err == nil {
			analysis.ImageURL = &u
		}
	}
	return analysis, nil
}

func (s *AnalysisService) run(ctx context.Context, userID int, key string, source models.AnalysisSource, produce func(ctx context.Context) (*models.MealAnalysis, error)) (*models.MealAnalysis, error) {
	start := time.Now()
	analysis, err := s.store.GetOrCreate(ctx, userID, key, produce)

	status := "completed"
	if err != nil {
		status = "failed"
	}
	s.metrics.IncCounter("analysis_requests_total", metrics.Labels{"source": string(source), "status": status})
	s.metrics.Observe("analysis_duration_seconds", metrics.Labels{"source": string(source)}, time.Since(start).Seconds())

	return analysis, err
}

func (s *AnalysisService) producePhotoAnalysis(ctx context.Context, userID int, key string, req *models.AnalyzePhotoRequest) (*models.MealAnalysis, error) {
	settings := s.tiers.Resolve(ctx)

	var preDiagnostics []models.Diagnostic
	var imageURL string
	if s.storage != nil {
		u, err := s.storage.GetPresignedURL(ctx, req.PhotoRef, visionURLTTL)
		if err != nil {
			s.logger.Warn(ctx, "presigning photo for inference failed", "photo_key", req.PhotoRef, "error", err)
			preDiagnostics = append(preDiagnostics, models.Diagnostic{
				Code:     "CALL_ERR:photo presign failed",
				Message:  "photo could not be prepared for the vision model",
				Severity: models.DiagnosticSeverityWarning,
			})
		} else {
			imageURL = u
		}
	}

	result := s.chain.Analyze(ctx, settings, &RecognitionRequest{
		Source:   models.AnalysisSourcePhoto,
		Hint:     req.Hint,
		PhotoKey: req.PhotoRef,
		ImageURL: imageURL,
	})
	s.enrich.EnrichAll(ctx, result.Items, settings.NutrientCacheTTL)

	analysis := s.newAnalysis(userID, key, models.AnalysisSourcePhoto, req.PhotoRef, req.Hint, result)
	analysis.Diagnostics = append(preDiagnostics, analysis.Diagnostics...)

	photoKey := req.PhotoRef
	analysis.PhotoKey = &photoKey
	if s.storage != nil {
		bucket := s.storage.GetBucketName()
		analysis.PhotoBucket = &bucket
	}

	s.logProduced(ctx, analysis)
	return analysis, nil
}

func (s *AnalysisService) produceTextAnalysis(ctx context.Context, userID int, key, description string) (*models.MealAnalysis, error) {
	settings := s.tiers.Resolve(ctx)

	result := s.chain.Analyze(ctx, settings, &RecognitionRequest{
		Source: models.AnalysisSourceText,
		Text:   description,
	})
	s.enrich.EnrichAll(ctx, result.Items, settings.NutrientCacheTTL)

	analysis := s.newAnalysis(userID, key, models.AnalysisSourceText, description, "", result)
	s.logProduced(ctx, analysis)
	return analysis, nil
}

func (s *AnalysisService) produceBarcodeAnalysis(ctx context.Context, userID int, key, code string, grams float64) (*models.MealAnalysis, error) {
	settings := s.tiers.Resolve(ctx)

	analysis := &models.MealAnalysis{
		ID:             uuid.NewString(),
		UserID:         userID,
		IdempotencyKey: key,
		Source:         models.AnalysisSourceBarcode,
		Status:         models.AnalysisStatusCompleted,
		Strategy:       StrategyBarcode,
		InputPayload:   code,
		ExpiresAt:      time.Now().Add(s.analysisTTL),
	}

	product, err := s.barcode.LookupBarcode(ctx, code)
	switch {
	case err == nil:
		item := barcodeItem(product, grams)
		correctCalories(item.Nutrients, s.metrics)
		analysis.Items = []models.FoodItemPrediction{item}

	case errors.Is(err, ErrInvalidBarcode):
		return nil, err

	case errors.Is(err, ErrProductNotFound):
		analysis.Diagnostics = append(analysis.Diagnostics, models.Diagnostic{
			Code:     "NOT_FOUND",
			Message:  "barcode is not in the product database",
			Severity: models.DiagnosticSeverityWarning,
		})
		item := fallbackBarcodeItem(code, grams)
		s.enrich.Enrich(ctx, &item, settings.NutrientCacheTTL)
		analysis.Items = []models.FoodItemPrediction{item}

	default:
		s.logger.Warn(ctx, "barcode lookup failed", "barcode", code, "error", err)
		s.metrics.IncCounter("analysis_errors_total", metrics.Labels{"kind": "barcode"})
		analysis.Diagnostics = append(analysis.Diagnostics, models.Diagnostic{
			Code:     "CALL_ERR:barcode lookup failed",
			Message:  "product database was unreachable",
			Severity: models.DiagnosticSeverityWarning,
		})
		item := fallbackBarcodeItem(code, grams)
		s.enrich.Enrich(ctx, &item, settings.NutrientCacheTTL)
		analysis.Items = []models.FoodItemPrediction{item}
	}

	analysis.TotalCalories = sumCalories(analysis.Items)
	s.logProduced(ctx, analysis)
	return analysis, nil
}

func (s *AnalysisService) newAnalysis(userID int, key string, source models.AnalysisSource, payload, hint string, result ChainResult) *models.MealAnalysis {
	analysis := &models.MealAnalysis{
		ID:             uuid.NewString(),
		UserID:         userID,
		IdempotencyKey: key,
		Source:         source,
		Status:         models.AnalysisStatusCompleted,
		Strategy:       result.Strategy,
		FallbackReason: result.FallbackReason,
		InputPayload:   payload,
		Items:          result.Items,
		Diagnostics:    result.Diagnostics,
		TotalCalories:  sumCalories(result.Items),
		ExpiresAt:      time.Now().Add(s.analysisTTL),
	}
	if hint != "" {
		analysis.Hint = &hint
	}
	return analysis
}

func (s *AnalysisService) logProduced(ctx context.Context, a *models.MealAnalysis) {
	s.logger.Info(ctx, "analysis produced",
		"analysis_id", a.ID,
		"user_id", a.UserID,
		"source", string(a.Source),
		"strategy", a.Strategy,
		"items", len(a.Items),
		"total_calories", a.TotalCalories,
	)
}

func barcodeItem(product *BarcodeProduct, grams float64) models.FoodItemPrediction {
	name := product.Name
	if name == "" {
		name = "Product " + product.Code
	}
	if product.Brand != "" {
		name += " (" + product.Brand + ")"
	}

	label := normalizeLabel(product.Name)
	if label == "" {
		label = "product_" + product.Code
	}

	return models.FoodItemPrediction{
		Label:         label,
		DisplayName:   name,
		QuantityGrams: grams,
		Confidence:    0.95,
		Nutrients:     ScaleProfile(product.Profile, grams),
	}
}

func fallbackBarcodeItem(code string, grams float64) models.FoodItemPrediction {
	return models.FoodItemPrediction{
		Label:         "product_" + code,
		DisplayName:   "Unknown Product",
		QuantityGrams: grams,
		Confidence:    0.3,
	}
}

func sumCalories(items []models.FoodItemPrediction) int {
	total := 0
	for _, item := range items {
		if item.Nutrients != nil {
			total += item.Nutrients.Calories
		}
	}
	return total
}
