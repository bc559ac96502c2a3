package services

import (
	"encoding/json"
	"strings"

	"github.com/platewise/mealscan/internal/models"
)

// Parse failure codes. These become fallback reasons, so they stay stable.
const (
	ParseNoJSON  = "PARSE_NO_JSON"
	ParseBadJSON = "PARSE_BAD_JSON"
	ParseNoItems = "PARSE_NO_ITEMS"
	ParseNoMatch = "PARSE_NO_MATCH"
)

const (
	maxItemsPerAnalysis  = 20
	defaultQuantityGrams = 100
)

// ParseError reports model output that arrived but could not be turned into
// predictions. The chain treats it as a quality signal, not a call failure.
type ParseError struct {
	Code    string
	Message string
}

func (e *ParseError) Error() string {
	return e.Code + ": " + e.Message
}

// predictionWire is the JSON shape recognizers are prompted to produce
type predictionWire struct {
	Items []struct {
		Label         string  `json:"label"`
		Name          string  `json:"name"`
		QuantityGrams float64 `json:"quantity_grams"`
		Confidence    float64 `json:"confidence"`
		Category      string  `json:"category"`
		Calories      float64 `json:"calories"`
		ProteinG      float64 `json:"protein_g"`
		CarbsG        float64 `json:"carbs_g"`
		FatG          float64 `json:"fat_g"`
	} `json:"items"`
}

// PredictionParser turns raw model output into food item predictions.
// Models wrap JSON in prose more often than not, so it extracts the
// outermost object before decoding.
type PredictionParser struct{}

func NewPredictionParser() *PredictionParser {
	return &PredictionParser{}
}

// Parse validates and normalizes model output. Items without a usable name
// are dropped; macros the model volunteered are kept as estimates for the
// enrichment cascade.
func (p *PredictionParser) Parse(raw string) ([]models.FoodItemPrediction, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, &ParseError{Code: ParseNoJSON, Message: "no JSON object in model output"}
	}

	var wire predictionWire
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return nil, &ParseError{Code: ParseBadJSON, Message: "malformed JSON in model output"}
	}

	items := make([]models.FoodItemPrediction, 0, len(wire.Items))
	for _, w := range wire.Items {
		name := strings.TrimSpace(w.Name)
		label := normalizeLabel(w.Label)
		if label == "" {
			label = normalizeLabel(name)
		}
		if label == "" {
			continue
		}
		if name == "" {
			name = displayNameFromLabel(label)
		}

		quantity := w.QuantityGrams
		if quantity <= 0 {
			quantity = defaultQuantityGrams
		}

		item := models.FoodItemPrediction{
			Label:         label,
			DisplayName:   name,
			QuantityGrams: quantity,
			Confidence:    clamp01(w.Confidence),
			Category:      strings.ToLower(strings.TrimSpace(w.Category)),
		}

		if w.Calories > 0 || w.ProteinG > 0 || w.CarbsG > 0 || w.FatG > 0 {
			item.Estimate = &models.MacroEstimate{
				Calories: int(w.Calories + 0.5),
				ProteinG: w.ProteinG,
				CarbsG:   w.CarbsG,
				FatG:     w.FatG,
			}
		}

		items = append(items, item)
		if len(items) == maxItemsPerAnalysis {
			break
		}
	}

	if len(items) == 0 {
		return nil, &ParseError{Code: ParseNoItems, Message: "model output contained no usable items"}
	}

	return items, nil
}

// normalizeLabel lowercases and reduces a name to a machine key,
// e.g. "Grilled Chicken!" -> "grilled_chicken"
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// displayNameFromLabel is the reverse direction for items that only carry
// a machine key
func displayNameFromLabel(label string) string {
	words := strings.Split(label, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
