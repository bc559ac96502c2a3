package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/platewise/mealscan/internal/models"
)

const barcodeProductAPIURL = "https://world.openfoodfacts.org/api/v2/product"

var (
	ErrProductNotFound = errors.New("product not found")
	ErrBarcodeAPIError = errors.New("barcode api error")
	ErrInvalidBarcode  = errors.New("invalid barcode")
)

// BarcodeProduct is a packaged product resolved from its barcode, with
// per-100g nutrient data
type BarcodeProduct struct {
	Code    string
	Name    string
	Brand   string
	Profile *models.NutrientProfile
}

// BarcodeService resolves barcodes against the Open Food Facts product
// database. No credentials are required.
type BarcodeService struct {
	httpClient *http.Client
}

// Open Food Facts API response structures
type productResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Product struct {
		ProductName string `json:"product_name"`
		Brands      string `json:"brands"`
		Nutriments  struct {
			KcalPer100g    *float64 `json:"energy-kcal_100g"`
			ProteinPer100g *float64 `json:"proteins_100g"`
			CarbsPer100g   *float64 `json:"carbohydrates_100g"`
			FatPer100g     *float64 `json:"fat_100g"`
			FiberPer100g   *float64 `json:"fiber_100g"`
			SugarPer100g   *float64 `json:"sugars_100g"`
			SodiumPer100g  *float64 `json:"sodium_100g"`
		} `json:"nutriments"`
	} `json:"product"`
}

// NewBarcodeService creates a new BarcodeService instance
func NewBarcodeService() *BarcodeService {
	return &BarcodeService{
		httpClient: &http.Client{
			Timeout: externalAPITimeout,
		},
	}
}

// LookupBarcode fetches a product by barcode. Returns ErrProductNotFound
// when the code is unknown to the database.
func (s *BarcodeService) LookupBarcode(ctx context.Context, code string) (*BarcodeProduct, error) {
	code = strings.TrimSpace(code)
	if !validBarcode(code) {
		return nil, ErrInvalidBarcode
	}

	reqURL := barcodeProductAPIURL + "/" + code + ".json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "mealscan/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBarcodeAPIError, resp.StatusCode)
	}

	var productResp productResponse
	if err := json.NewDecoder(resp.Body).Decode(&productResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if productResp.Status != 1 {
		return nil, ErrProductNotFound
	}

	n := productResp.Product.Nutriments
	if n.KcalPer100g == nil {
		return nil, ErrProductNotFound
	}

	profile := &models.NutrientProfile{
		Calories:       int(*n.KcalPer100g + 0.5),
		Source:         models.NutrientSourceBarcodeDB,
		Confidence:     0.95,
		ReferenceGrams: 100,
	}
	if n.ProteinPer100g != nil {
		profile.ProteinG = *n.ProteinPer100g
	}
	if n.CarbsPer100g != nil {
		profile.CarbsG = *n.CarbsPer100g
	}
	if n.FatPer100g != nil {
		profile.FatG = *n.FatPer100g
	}
	profile.FiberG = n.FiberPer100g
	profile.SugarG = n.SugarPer100g
	if n.SodiumPer100g != nil {
		// Open Food Facts reports sodium in grams
		mg := *n.SodiumPer100g * 1000
		profile.SodiumMg = &mg
	}

	return &BarcodeProduct{
		Code:    productResp.Code,
		Name:    productResp.Product.ProductName,
		Brand:   productResp.Product.Brands,
		Profile: profile,
	}, nil
}

// validBarcode accepts EAN-8 through EAN-14 style numeric codes
func validBarcode(code string) bool {
	if len(code) < 8 || len(code) > 14 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
