package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/platewise/mealscan/internal/logging"
	"github.com/platewise/mealscan/internal/metrics"
	"github.com/platewise/mealscan/internal/models"
)

const (
	garnishMinGrams = 5
	garnishMaxGrams = 10

	// Correction kicks in when stated calories disagree with the Atwater
	// value (4p + 4c + 9f) by more than this tolerance
	calorieTolerancePct = 0.12
	calorieToleranceMin = 15
)

// NutrientLookup resolves a food query to a per-100g nutrient profile
type NutrientLookup interface {
	Lookup(ctx context.Context, query string) (*models.NutrientProfile, error)
}

// categoryProfile holds per-100g fallback values for a food category
type categoryProfile struct {
	calories int
	protein  float64
	carbs    float64
	fat      float64
}

var categoryProfiles = map[string]categoryProfile{
	"protein":        {165, 31, 0, 3.6},
	"grain":          {130, 2.7, 28, 0.3},
	"vegetable":      {35, 2, 7, 0.4},
	"fruit":          {52, 0.3, 14, 0.2},
	"dairy":          {61, 3.2, 4.7, 3.3},
	"fat":            {720, 0.5, 1, 80},
	"beverage":       {40, 0, 10, 0},
	"dessert":        {390, 5, 55, 17},
	"citrus_garnish": {30, 0.7, 9, 0.2},
	"fresh_herb":     {36, 3, 6, 0.6},
}

var genericDefaultProfile = categoryProfile{150, 8, 15, 6}

// EnrichmentService attaches nutrient profiles to predictions. Sources
// cascade from the external database down to a generic default, so every
// item always ends up with a profile.
type EnrichmentService struct {
	lookup  NutrientLookup
	cache   *gocache.Cache
	metrics *metrics.Registry
	logger  logging.Logger
}

func NewEnrichmentService(lookup NutrientLookup, reg *metrics.Registry, logger logging.Logger) *EnrichmentService {
	return &EnrichmentService{
		lookup:  lookup,
		cache:   gocache.New(1*time.Hour, 10*time.Minute),
		metrics: reg,
		logger:  logger,
	}
}

// EnrichAll enriches every prediction in place, preserving item order
func (s *EnrichmentService) EnrichAll(ctx context.Context, items []models.FoodItemPrediction, cacheTTL time.Duration) {
	for i := range items {
		s.Enrich(ctx, &items[i], cacheTTL)
	}
}

// Enrich fills in item.Nutrients, scaled to the item quantity. Garnish
// categories get their quantity clamped to a realistic range first.
func (s *EnrichmentService) Enrich(ctx context.Context, item *models.FoodItemPrediction, cacheTTL time.Duration) {
	if item.Category == "citrus_garnish" || item.Category == "fresh_herb" {
		item.QuantityGrams = clampGrams(item.QuantityGrams, garnishMinGrams, garnishMaxGrams)
	}

	perRef := s.resolveProfile(ctx, item, cacheTTL)
	scaled := ScaleProfile(perRef, item.QuantityGrams)
	correctCalories(scaled, s.metrics)
	item.Nutrients = scaled

	s.metrics.IncCounter("nutrient_source_total", metrics.Labels{"source": string(scaled.Source)})
}

func (s *EnrichmentService) resolveProfile(ctx context.Context, item *models.FoodItemPrediction, cacheTTL time.Duration) *models.NutrientProfile {
	if cached, found := s.cache.Get(item.Label); found {
		s.metrics.IncCounter("nutrient_cache_total", metrics.Labels{"result": "hit"})
		return cached.(*models.NutrientProfile)
	}
	s.metrics.IncCounter("nutrient_cache_total", metrics.Labels{"result": "miss"})

	if s.lookup != nil {
		query := strings.ReplaceAll(item.Label, "_", " ")
		profile, err := s.lookup.Lookup(ctx, query)
		switch {
		case err == nil:
			s.metrics.IncCounter("nutrient_lookup_total", metrics.Labels{"result": "ok"})
			if cacheTTL <= 0 {
				cacheTTL = gocache.DefaultExpiration
			}
			s.cache.Set(item.Label, profile, cacheTTL)
			return profile
		case errors.Is(err, ErrFoodNotFound), errors.Is(err, ErrMissingCredentials):
			s.metrics.IncCounter("nutrient_lookup_total", metrics.Labels{"result": "not_found"})
		default:
			s.metrics.IncCounter("nutrient_lookup_total", metrics.Labels{"result": "error"})
			s.logger.Warn(ctx, "nutrient lookup failed", "label", item.Label, "error", err)
		}
	}

	if item.Estimate != nil {
		// Model macros describe the predicted quantity, not 100g
		return &models.NutrientProfile{
			Calories:       item.Estimate.Calories,
			ProteinG:       item.Estimate.ProteinG,
			CarbsG:         item.Estimate.CarbsG,
			FatG:           item.Estimate.FatG,
			Source:         models.NutrientSourceAIEstimate,
			Confidence:     0.6,
			ReferenceGrams: item.QuantityGrams,
		}
	}

	if p, ok := categoryProfiles[item.Category]; ok {
		return &models.NutrientProfile{
			Calories:       p.calories,
			ProteinG:       p.protein,
			CarbsG:         p.carbs,
			FatG:           p.fat,
			Source:         models.NutrientSourceCategoryProfile,
			Confidence:     0.5,
			ReferenceGrams: 100,
		}
	}

	// Catch-all row of the category table; the low confidence marks it apart
	p := genericDefaultProfile
	return &models.NutrientProfile{
		Calories:       p.calories,
		ProteinG:       p.protein,
		CarbsG:         p.carbs,
		FatG:           p.fat,
		Source:         models.NutrientSourceCategoryProfile,
		Confidence:     0.3,
		ReferenceGrams: 100,
	}
}

// ScaleProfile returns a copy of the profile scaled to the requested grams.
// The input, which may be shared through the cache, is never modified.
func ScaleProfile(p *models.NutrientProfile, grams float64) *models.NutrientProfile {
	ref := p.ReferenceGrams
	if ref <= 0 {
		ref = 100
	}
	factor := grams / ref

	scaled := &models.NutrientProfile{
		Calories:          int(float64(p.Calories)*factor + 0.5),
		ProteinG:          round1(p.ProteinG * factor),
		CarbsG:            round1(p.CarbsG * factor),
		FatG:              round1(p.FatG * factor),
		Source:            p.Source,
		Confidence:        p.Confidence,
		ReferenceGrams:    grams,
		CaloriesCorrected: p.CaloriesCorrected,
	}
	if p.FiberG != nil {
		v := round1(*p.FiberG * factor)
		scaled.FiberG = &v
	}
	if p.SugarG != nil {
		v := round1(*p.SugarG * factor)
		scaled.SugarG = &v
	}
	if p.SodiumMg != nil {
		v := round1(*p.SodiumMg * factor)
		scaled.SodiumMg = &v
	}
	return scaled
}

// correctCalories replaces the calorie count when it disagrees with the
// macro-derived value beyond tolerance. Profiles without macros are left
// alone since there is nothing to check against.
func correctCalories(p *models.NutrientProfile, reg *metrics.Registry) {
	if p.ProteinG == 0 && p.CarbsG == 0 && p.FatG == 0 {
		return
	}

	expected := 4*p.ProteinG + 4*p.CarbsG + 9*p.FatG
	tolerance := math.Max(expected*calorieTolerancePct, calorieToleranceMin)
	if math.Abs(float64(p.Calories)-expected) <= tolerance {
		return
	}

	p.Calories = int(expected + 0.5)
	p.CaloriesCorrected = true
	reg.IncCounter("calorie_corrections_total", nil)
}

func clampGrams(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
