package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platewise/mealscan/internal/metrics"
	"github.com/platewise/mealscan/internal/models"
)

type fakeLookup struct {
	profile *models.NutrientProfile
	err     error
	calls   int
	queries []string
}

func (f *fakeLookup) Lookup(ctx context.Context, query string) (*models.NutrientProfile, error) {
	f.calls++
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func chickenPer100g() *models.NutrientProfile {
	return &models.NutrientProfile{
		Calories:       165,
		ProteinG:       31,
		CarbsG:         0,
		FatG:           3.6,
		Source:         models.NutrientSourceExternalDB,
		Confidence:     0.9,
		ReferenceGrams: 100,
	}
}

func TestEnrichScalesExternalProfile(t *testing.T) {
	lookup := &fakeLookup{profile: chickenPer100g()}
	svc := NewEnrichmentService(lookup, metrics.NewRegistry(), testLogger())

	item := models.FoodItemPrediction{Label: "chicken_breast", DisplayName: "Chicken Breast", QuantityGrams: 150}
	svc.Enrich(context.Background(), &item, time.Minute)

	require.Equal(t, []string{"chicken breast"}, lookup.queries)
	require.NotNil(t, item.Nutrients)
	require.Equal(t, 248, item.Nutrients.Calories)
	require.Equal(t, 46.5, item.Nutrients.ProteinG)
	require.Equal(t, 5.4, item.Nutrients.FatG)
	require.Equal(t, 150.0, item.Nutrients.ReferenceGrams)
	require.Equal(t, models.NutrientSourceExternalDB, item.Nutrients.Source)
	require.False(t, item.Nutrients.CaloriesCorrected)
}

func TestEnrichCachesPerLabel(t *testing.T) {
	lookup := &fakeLookup{profile: chickenPer100g()}
	reg := metrics.NewRegistry()
	svc := NewEnrichmentService(lookup, reg, testLogger())

	first := models.FoodItemPrediction{Label: "chicken_breast", QuantityGrams: 150}
	svc.Enrich(context.Background(), &first, time.Minute)

	second := models.FoodItemPrediction{Label: "chicken_breast", QuantityGrams: 100}
	svc.Enrich(context.Background(), &second, time.Minute)

	require.Equal(t, 1, lookup.calls)
	require.Equal(t, 165, second.Nutrients.Calories)
	require.Equal(t, models.NutrientSourceExternalDB, second.Nutrients.Source)
	require.Equal(t, uint64(1), reg.CounterValue("nutrient_cache_total", metrics.Labels{"result": "hit"}))
	require.Equal(t, uint64(1), reg.CounterValue("nutrient_cache_total", metrics.Labels{"result": "miss"}))
}

func TestEnrichFallsBackToModelEstimate(t *testing.T) {
	lookup := &fakeLookup{err: ErrFoodNotFound}
	svc := NewEnrichmentService(lookup, metrics.NewRegistry(), testLogger())

	item := models.FoodItemPrediction{
		Label:         "house_special",
		QuantityGrams: 180,
		Estimate:      &models.MacroEstimate{Calories: 250, ProteinG: 20, CarbsG: 10, FatG: 12},
	}
	svc.Enrich(context.Background(), &item, time.Minute)

	require.Equal(t, models.NutrientSourceAIEstimate, item.Nutrients.Source)
	require.Equal(t, 250, item.Nutrients.Calories)
	require.Equal(t, 20.0, item.Nutrients.ProteinG)
	require.Equal(t, 0.6, item.Nutrients.Confidence)
	require.Equal(t, 180.0, item.Nutrients.ReferenceGrams)
}

func TestEnrichCategoryProfile(t *testing.T) {
	lookup := &fakeLookup{err: ErrFoodNotFound}
	svc := NewEnrichmentService(lookup, metrics.NewRegistry(), testLogger())

	item := models.FoodItemPrediction{Label: "steamed_broccoli", Category: "vegetable", QuantityGrams: 200}
	svc.Enrich(context.Background(), &item, time.Minute)

	require.Equal(t, models.NutrientSourceCategoryProfile, item.Nutrients.Source)
	require.Equal(t, 70, item.Nutrients.Calories)
	require.Equal(t, 4.0, item.Nutrients.ProteinG)
	require.Equal(t, 14.0, item.Nutrients.CarbsG)
	require.Equal(t, 0.5, item.Nutrients.Confidence)
}

func TestEnrichGenericDefault(t *testing.T) {
	svc := NewEnrichmentService(nil, metrics.NewRegistry(), testLogger())

	item := models.FoodItemPrediction{Label: "unidentified_meal", QuantityGrams: 250}
	svc.Enrich(context.Background(), &item, time.Minute)

	require.Equal(t, models.NutrientSourceCategoryProfile, item.Nutrients.Source)
	require.Equal(t, 375, item.Nutrients.Calories)
	require.Equal(t, 0.3, item.Nutrients.Confidence)
}

func TestEnrichClampsGarnishQuantity(t *testing.T) {
	svc := NewEnrichmentService(nil, metrics.NewRegistry(), testLogger())

	tests := []struct {
		name      string
		category  string
		grams     float64
		wantGrams float64
	}{
		{"oversized citrus clamped", "citrus_garnish", 150, 10},
		{"tiny herb raised", "fresh_herb", 2, 5},
		{"in-range herb untouched", "fresh_herb", 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := models.FoodItemPrediction{Label: "garnish", Category: tt.category, QuantityGrams: tt.grams}
			svc.Enrich(context.Background(), &item, time.Minute)

			require.Equal(t, tt.wantGrams, item.QuantityGrams)
			require.Equal(t, tt.wantGrams, item.Nutrients.ReferenceGrams)
		})
	}
}

func TestEnrichCorrectsInconsistentCalories(t *testing.T) {
	reg := metrics.NewRegistry()
	svc := NewEnrichmentService(nil, reg, testLogger())

	item := models.FoodItemPrediction{
		Label:         "mislabeled_dish",
		QuantityGrams: 100,
		Estimate:      &models.MacroEstimate{Calories: 900, ProteinG: 10, CarbsG: 10, FatG: 10},
	}
	svc.Enrich(context.Background(), &item, time.Minute)

	// 4*10 + 4*10 + 9*10 = 170
	require.Equal(t, 170, item.Nutrients.Calories)
	require.True(t, item.Nutrients.CaloriesCorrected)
	require.Equal(t, uint64(1), reg.CounterValue("calorie_corrections_total", nil))
}

func TestEnrichSkipsCorrectionWithoutMacros(t *testing.T) {
	svc := NewEnrichmentService(nil, metrics.NewRegistry(), testLogger())

	item := models.FoodItemPrediction{
		Label:         "black_coffee",
		QuantityGrams: 100,
		Estimate:      &models.MacroEstimate{Calories: 40},
	}
	svc.Enrich(context.Background(), &item, time.Minute)

	require.Equal(t, 40, item.Nutrients.Calories)
	require.False(t, item.Nutrients.CaloriesCorrected)
}

func TestEnrichLookupErrorFallsThrough(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("connection refused")}
	reg := metrics.NewRegistry()
	svc := NewEnrichmentService(lookup, reg, testLogger())

	item := models.FoodItemPrediction{Label: "yogurt", Category: "dairy", QuantityGrams: 100}
	svc.Enrich(context.Background(), &item, time.Minute)

	require.Equal(t, models.NutrientSourceCategoryProfile, item.Nutrients.Source)
	require.Equal(t, uint64(1), reg.CounterValue("nutrient_lookup_total", metrics.Labels{"result": "error"}))
}

func TestEnrichAllPreservesOrder(t *testing.T) {
	svc := NewEnrichmentService(nil, metrics.NewRegistry(), testLogger())

	items := []models.FoodItemPrediction{
		{Label: "rice", Category: "grain", QuantityGrams: 180},
		{Label: "salad", Category: "vegetable", QuantityGrams: 150},
	}
	svc.EnrichAll(context.Background(), items, time.Minute)

	require.Equal(t, "rice", items[0].Label)
	require.Equal(t, "salad", items[1].Label)
	require.NotNil(t, items[0].Nutrients)
	require.NotNil(t, items[1].Nutrients)
	require.Equal(t, 234, items[0].Nutrients.Calories)
}

func TestScaleProfileCopiesOptionalFields(t *testing.T) {
	fiber := 2.0
	src := &models.NutrientProfile{
		Calories:       100,
		ProteinG:       10,
		FiberG:         &fiber,
		Source:         models.NutrientSourceExternalDB,
		ReferenceGrams: 100,
	}

	scaled := ScaleProfile(src, 200)

	require.Equal(t, 200, scaled.Calories)
	require.NotNil(t, scaled.FiberG)
	require.Equal(t, 4.0, *scaled.FiberG)
	require.NotSame(t, src.FiberG, scaled.FiberG)
	require.Equal(t, 2.0, *src.FiberG)
}
