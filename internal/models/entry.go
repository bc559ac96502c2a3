package models

import (
	"time"
)

// MealEntry is a durable food-log record created by confirming an analysis
// item. The nutrient snapshot is frozen at confirmation time and never
// recomputed, so entries stay valid after the source analysis expires.
type MealEntry struct {
	ID             string         `json:"id"`
	UserID         int            `json:"user_id"`
	AnalysisID     string         `json:"analysis_id"`
	ItemIndex      int            `json:"item_index"`
	Name           string         `json:"name"`
	QuantityGrams  float64        `json:"quantity_grams"`
	Calories       int            `json:"calories"`
	ProteinG       float64        `json:"protein_g"`
	CarbsG         float64        `json:"carbs_g"`
	FatG           float64        `json:"fat_g"`
	FiberG         *float64       `json:"fiber_g,omitempty"`
	SugarG         *float64       `json:"sugar_g,omitempty"`
	SodiumMg       *float64       `json:"sodium_mg,omitempty"`
	NutrientSource NutrientSource `json:"nutrient_source"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	ConsumedAt     time.Time      `json:"consumed_at"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EntryListParams contains parameters for listing a user's entries
type EntryListParams struct {
	UserID int
	Limit  int
	Offset int
}
