package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/platewise/mealscan/internal/models"
)

const (
	nutritionParserAPIURL = "https://api.edamam.com/api/food-database/v2/parser"
	externalAPITimeout    = 10 * time.Second
)

var (
	ErrFoodNotFound       = errors.New("food not found")
	ErrNutritionAPIError  = errors.New("nutrition api error")
	ErrMissingCredentials = errors.New("missing nutrition api credentials")
)

// NutritionDBService looks up per-100g nutrient data in the Edamam food
// database
type NutritionDBService struct {
	appID      string
	appKey     string
	httpClient *http.Client
}

// Edamam API response structures
type foodParserResponse struct {
	Text   string       `json:"text"`
	Parsed []parsedFood `json:"parsed"`
	Hints  []parsedFood `json:"hints"`
}

type parsedFood struct {
	Food struct {
		FoodID    string `json:"foodId"`
		Label     string `json:"label"`
		Category  string `json:"category"`
		Nutrients struct {
			Kcal    *float64 `json:"ENERC_KCAL"`
			Protein *float64 `json:"PROCNT"`
			Fat     *float64 `json:"FAT"`
			Carbs   *float64 `json:"CHOCDF"`
			Fiber   *float64 `json:"FIBTG"`
			Sugar   *float64 `json:"SUGAR"`
			Sodium  *float64 `json:"NA"`
		} `json:"nutrients"`
	} `json:"food"`
}

// NewNutritionDBService creates a new NutritionDBService instance
func NewNutritionDBService(appID, appKey string) *NutritionDBService {
	return &NutritionDBService{
		appID:  appID,
		appKey: appKey,
		httpClient: &http.Client{
			Timeout: externalAPITimeout,
		},
	}
}

// Lookup resolves a food query to a per-100g nutrient profile. Direct parser
// matches score higher than fuzzy hints.
func (s *NutritionDBService) Lookup(ctx context.Context, query string) (*models.NutrientProfile, error) {
	if s.appID == "" || s.appKey == "" {
		return nil, ErrMissingCredentials
	}

	params := url.Values{}
	params.Set("app_id", s.appID)
	params.Set("app_key", s.appKey)
	params.Set("ingr", query)
	params.Set("nutrition-type", "logging")

	reqURL := nutritionParserAPIURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrFoodNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNutritionAPIError, resp.StatusCode)
	}

	var parserResp foodParserResponse
	if err := json.NewDecoder(resp.Body).Decode(&parserResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	var match *parsedFood
	confidence := 0.9
	if len(parserResp.Parsed) > 0 {
		match = &parserResp.Parsed[0]
	} else if len(parserResp.Hints) > 0 {
		match = &parserResp.Hints[0]
		confidence = 0.7
	}
	if match == nil || match.Food.Nutrients.Kcal == nil {
		return nil, ErrFoodNotFound
	}

	n := match.Food.Nutrients
	profile := &models.NutrientProfile{
		Calories:       int(*n.Kcal + 0.5),
		Source:         models.NutrientSourceExternalDB,
		Confidence:     confidence,
		ReferenceGrams: 100,
	}
	if n.Protein != nil {
		profile.ProteinG = *n.Protein
	}
	if n.Carbs != nil {
		profile.CarbsG = *n.Carbs
	}
	if n.Fat != nil {
		profile.FatG = *n.Fat
	}
	profile.FiberG = n.Fiber
	profile.SugarG = n.Sugar
	profile.SodiumMg = n.Sodium

	return profile, nil
}
