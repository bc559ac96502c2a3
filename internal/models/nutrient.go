package models

// NutrientSource identifies which enrichment step produced a profile
type NutrientSource string

const (
	NutrientSourceExternalDB      NutrientSource = "external_db"
	NutrientSourceBarcodeDB       NutrientSource = "barcode_db"
	NutrientSourceCategoryProfile NutrientSource = "category_profile"
	NutrientSourceAIEstimate      NutrientSource = "ai_estimate"
)

// NutrientProfile holds the nutrient values for a food item, scaled to the
// quantity in ReferenceGrams. Fiber, sugar and sodium are optional because
// most sources only report the core macros.
type NutrientProfile struct {
	Calories          int            `json:"calories"`
	ProteinG          float64        `json:"protein_g"`
	CarbsG            float64        `json:"carbs_g"`
	FatG              float64        `json:"fat_g"`
	FiberG            *float64       `json:"fiber_g,omitempty"`
	SugarG            *float64       `json:"sugar_g,omitempty"`
	SodiumMg          *float64       `json:"sodium_mg,omitempty"`
	Source            NutrientSource `json:"source"`
	Confidence        float64        `json:"confidence"`
	ReferenceGrams    float64        `json:"reference_grams"`
	CaloriesCorrected bool           `json:"calories_corrected,omitempty"`
}

// MacroEstimate carries macro values the inference model supplied alongside a
// prediction. It is consumed during enrichment and never serialized to
// clients directly.
type MacroEstimate struct {
	Calories int
	ProteinG float64
	CarbsG   float64
	FatG     float64
}
