package models

import (
	"time"
)

// AnalysisStatus represents the lifecycle state of a meal analysis
type AnalysisStatus string

const (
	// AnalysisStatusPending and AnalysisStatusCancelled are reserved for a
	// future streaming flow; the current pipeline writes records only after
	// the adapter chain has produced a result.
	AnalysisStatusPending   AnalysisStatus = "pending"
	AnalysisStatusCompleted AnalysisStatus = "completed"
	AnalysisStatusFailed    AnalysisStatus = "failed"
	AnalysisStatusCancelled AnalysisStatus = "cancelled"
	AnalysisStatusConfirmed AnalysisStatus = "confirmed"
)

// AnalysisSource identifies what kind of input produced an analysis
type AnalysisSource string

const (
	AnalysisSourcePhoto   AnalysisSource = "photo"
	AnalysisSourceBarcode AnalysisSource = "barcode"
	AnalysisSourceText    AnalysisSource = "text"
)

// DiagnosticSeverity for advisory diagnostics attached to an analysis
const (
	DiagnosticSeverityInfo    = "info"
	DiagnosticSeverityWarning = "warning"
)

// Diagnostic is an advisory note recorded while producing an analysis.
// Diagnostics never indicate failure of the call itself.
type Diagnostic struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// FoodItemPrediction is one recognized food within an analysis. Item order is
// stable and is the addressing scheme used by confirmation.
type FoodItemPrediction struct {
	Label         string           `json:"label"`
	DisplayName   string           `json:"display_name"`
	QuantityGrams float64          `json:"quantity_grams"`
	Confidence    float64          `json:"confidence"`
	Category      string           `json:"category,omitempty"`
	Nutrients     *NutrientProfile `json:"nutrients,omitempty"`

	// Estimate holds macros the model supplied with the prediction. It feeds
	// the enrichment cascade and is not part of the API response.
	Estimate *MacroEstimate `json:"-"`
}

// MealAnalysis is the reviewable result of analyzing one meal input. A given
// (user, idempotency key) pair maps to at most one analysis; records are
// never mutated after creation except by confirmation bookkeeping.
type MealAnalysis struct {
	ID               string               `json:"id"`
	UserID           int                  `json:"user_id"`
	IdempotencyKey   string               `json:"idempotency_key"`
	Source           AnalysisSource       `json:"source"`
	Status           AnalysisStatus       `json:"status"`
	Strategy         string               `json:"strategy,omitempty"`
	FallbackReason   *string              `json:"fallback_reason,omitempty"`
	InputPayload     string               `json:"-"`
	Hint             *string              `json:"hint,omitempty"`
	Items            []FoodItemPrediction `json:"items"`
	Diagnostics      []Diagnostic         `json:"diagnostics"`
	TotalCalories    int                  `json:"total_calories"`
	PhotoBucket      *string              `json:"-"`
	PhotoKey         *string              `json:"-"`
	ImageURL         *string              `json:"image_url,omitempty"`
	ConfirmedIndexes []int                `json:"confirmed_indexes,omitempty"`
	ConfirmedAt      *time.Time           `json:"confirmed_at,omitempty"`
	ExpiresAt        time.Time            `json:"expires_at"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// IsConfirmed reports whether confirmation has already consumed this analysis
func (a *MealAnalysis) IsConfirmed() bool {
	return a.ConfirmedAt != nil
}

// AnalyzePhotoRequest is the body for photo analysis
type AnalyzePhotoRequest struct {
	PhotoRef       string `json:"photo_ref"`
	Hint           string `json:"hint,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// AnalyzeBarcodeRequest is the body for barcode analysis
type AnalyzeBarcodeRequest struct {
	Barcode        string  `json:"barcode"`
	QuantityGrams  float64 `json:"quantity_grams,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// AnalyzeTextRequest is the body for free-text analysis
type AnalyzeTextRequest struct {
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ConfirmAnalysisRequest selects predictions by index for confirmation
type ConfirmAnalysisRequest struct {
	AcceptedIndexes []int `json:"accepted_indexes"`
}

// ConfirmAnalysisResponse returns the durable entries created (or previously
// created) for a confirmation
type ConfirmAnalysisResponse struct {
	AnalysisID     string      `json:"analysis_id"`
	CreatedEntries []MealEntry `json:"created_entries"`
}
