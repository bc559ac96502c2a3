package services

import (
	"context"
	"hash/fnv"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/platewise/mealscan/internal/models"
)

// Strategy names, in chain priority order. The barcode path bypasses the
// chain but shares the naming scheme.
const (
	StrategyVision    = "vision_model"
	StrategySimulated = "simulated"
	StrategyHeuristic = "heuristic"
	StrategyStub      = "stub"
	StrategyBarcode   = "barcode"
)

// Administrative fallback reasons recorded when a tier is skipped without
// being run
const (
	ReasonRealDisabled      = "REAL_DISABLED"
	ReasonMissingAPIKey     = "MISSING_API_KEY"
	ReasonSimDisabled       = "SIM_DISABLED"
	ReasonHeuristicDisabled = "HEURISTIC_DISABLED"
	ReasonOCRUnavailable    = "OCR_UNAVAILABLE"
)

// RecognitionRequest is the chain's view of one analysis input
type RecognitionRequest struct {
	Source   models.AnalysisSource
	Text     string
	Hint     string
	PhotoKey string
	ImageURL string
}

// RecognitionStrategy is one tier of the adapter chain
type RecognitionStrategy interface {
	Name() string
	// Eligible reports whether the tier may run under the given settings.
	// The returned reason is recorded when it may not.
	Eligible(settings TierSettings, req *RecognitionRequest) (bool, string)
	Recognize(ctx context.Context, settings TierSettings, req *RecognitionRequest) ([]models.FoodItemPrediction, error)
}

const visionPrompt = `You are a nutrition assistant. Identify every distinct food in the meal described or pictured.
Respond with ONLY a JSON object of the form:
{"items":[{"label":"machine_key","name":"Display Name","quantity_grams":150,"confidence":0.9,"category":"protein","calories":248,"protein_g":46.5,"carbs_g":0,"fat_g":5.4}]}
Categories: protein, grain, vegetable, fruit, dairy, fat, beverage, dessert, citrus_garnish, fresh_herb.
Estimate quantities in grams. Confidence is between 0 and 1. Include macro estimates when you are reasonably sure.`

// VisionStrategy sends the input to the configured model provider
type VisionStrategy struct {
	client *InferenceClient
	parser *PredictionParser
}

func NewVisionStrategy(client *InferenceClient, parser *PredictionParser) *VisionStrategy {
	return &VisionStrategy{client: client, parser: parser}
}

func (s *VisionStrategy) Name() string { return StrategyVision }

func (s *VisionStrategy) Eligible(settings TierSettings, req *RecognitionRequest) (bool, string) {
	if !settings.VisionEnabled {
		return false, ReasonRealDisabled
	}
	if settings.VisionAPIKey == "" {
		return false, ReasonMissingAPIKey
	}
	return true, ""
}

func (s *VisionStrategy) Recognize(ctx context.Context, settings TierSettings, req *RecognitionRequest) ([]models.FoodItemPrediction, error) {
	if req.Source == models.AnalysisSourcePhoto && req.ImageURL == "" {
		return nil, &InferenceError{Kind: InferenceErrCall, Detail: "photo unavailable"}
	}

	raw, err := s.client.Call(ctx, InferenceCallInput{
		BaseURL:  settings.InferenceBaseURL,
		APIKey:   settings.VisionAPIKey,
		Model:    settings.VisionModel,
		Prompt:   visionPrompt,
		Text:     buildUserText(req),
		ImageURL: req.ImageURL,
		Timeout:  settings.InferenceTimeout,
	})
	if err != nil {
		return nil, err
	}

	return s.parser.Parse(raw)
}

func buildUserText(req *RecognitionRequest) string {
	var parts []string
	if req.Source == models.AnalysisSourceText {
		parts = append(parts, req.Text)
	} else {
		parts = append(parts, "Identify the foods in this meal photo.")
	}
	if req.Hint != "" {
		parts = append(parts, "Hint: "+req.Hint)
	}
	return strings.Join(parts, "\n")
}

// SimulatedStrategy mimics a remote provider with configurable latency and
// failure rate. Output goes through the real parser so the full path gets
// exercised in environments without credentials.
type SimulatedStrategy struct {
	parser *PredictionParser
}

func NewSimulatedStrategy(parser *PredictionParser) *SimulatedStrategy {
	return &SimulatedStrategy{parser: parser}
}

func (s *SimulatedStrategy) Name() string { return StrategySimulated }

func (s *SimulatedStrategy) Eligible(settings TierSettings, req *RecognitionRequest) (bool, string) {
	if !settings.SimulatedEnabled {
		return false, ReasonSimDisabled
	}
	return true, ""
}

func (s *SimulatedStrategy) Recognize(ctx context.Context, settings TierSettings, req *RecognitionRequest) ([]models.FoodItemPrediction, error) {
	if settings.SimulatedLatency > 0 {
		select {
		case <-time.After(settings.SimulatedLatency):
		case <-ctx.Done():
			return nil, &InferenceError{Kind: InferenceErrTimeout, Detail: "deadline exceeded", Err: ctx.Err()}
		}
	}

	seed := requestSeed(req)
	if settings.SimulatedFailureRate > 0 && failureDraw(seed) < settings.SimulatedFailureRate {
		return nil, &InferenceError{Kind: InferenceErrTransient, Detail: "simulated failure"}
	}

	return s.parser.Parse(simulatedOutput(seed))
}

// requestSeed hashes the request so the same input always simulates the
// same outcome
func requestSeed(req *RecognitionRequest) uint64 {
	h := fnv.New64a()
	io.WriteString(h, string(req.Source))
	io.WriteString(h, req.Text)
	io.WriteString(h, req.PhotoKey)
	io.WriteString(h, req.Hint)
	return h.Sum64()
}

func failureDraw(seed uint64) float64 {
	return float64(seed%10000) / 10000
}

var simulatedMenu = []string{
	`{"label":"grilled_chicken","name":"Grilled Chicken","quantity_grams":150,"confidence":0.82,"category":"protein","calories":248,"protein_g":46.5,"carbs_g":0,"fat_g":5.4}`,
	`{"label":"white_rice","name":"White Rice","quantity_grams":180,"confidence":0.78,"category":"grain","calories":234,"protein_g":4.9,"carbs_g":50.4,"fat_g":0.5}`,
	`{"label":"garden_salad","name":"Garden Salad","quantity_grams":120,"confidence":0.74,"category":"vegetable"}`,
	`{"label":"salmon_fillet","name":"Salmon Fillet","quantity_grams":140,"confidence":0.8,"category":"protein"}`,
	`{"label":"mashed_potatoes","name":"Mashed Potatoes","quantity_grams":200,"confidence":0.71,"category":"grain"}`,
	`{"label":"steamed_broccoli","name":"Steamed Broccoli","quantity_grams":90,"confidence":0.77,"category":"vegetable"}`,
	`{"label":"apple","name":"Apple","quantity_grams":180,"confidence":0.85,"category":"fruit"}`,
}

func simulatedOutput(seed uint64) string {
	n := uint64(len(simulatedMenu))
	first := seed % n
	second := (seed / 7) % n

	items := simulatedMenu[first]
	if second != first {
		items += "," + simulatedMenu[second]
	}
	return `{"items":[` + items + `]}`
}

// lexiconEntry maps keywords in text to a food with a typical serving
type lexiconEntry struct {
	label    string
	display  string
	category string
	grams    float64
	keywords []string
}

// foodLexicon is scanned in order, so multi-word entries come before the
// single words they contain
var foodLexicon = []lexiconEntry{
	{"chicken_breast", "Chicken Breast", "protein", 150, []string{"chicken breast"}},
	{"fried_chicken", "Fried Chicken", "protein", 150, []string{"fried chicken"}},
	{"chicken", "Chicken", "protein", 140, []string{"chicken"}},
	{"salmon", "Salmon", "protein", 140, []string{"salmon"}},
	{"steak", "Steak", "protein", 200, []string{"steak", "beef"}},
	{"pork", "Pork", "protein", 150, []string{"pork"}},
	{"bacon", "Bacon", "protein", 30, []string{"bacon"}},
	{"egg", "Egg", "protein", 50, []string{"egg"}},
	{"tofu", "Tofu", "protein", 120, []string{"tofu"}},
	{"rice", "Rice", "grain", 180, []string{"rice"}},
	{"pasta", "Pasta", "grain", 200, []string{"pasta", "spaghetti", "noodle"}},
	{"bread", "Bread", "grain", 60, []string{"bread", "toast", "baguette"}},
	{"oatmeal", "Oatmeal", "grain", 240, []string{"oatmeal", "porridge"}},
	{"potato", "Potato", "grain", 170, []string{"potato"}},
	{"fries", "French Fries", "grain", 120, []string{"fries"}},
	{"pizza", "Pizza", "grain", 250, []string{"pizza"}},
	{"burger", "Burger", "protein", 220, []string{"burger"}},
	{"sandwich", "Sandwich", "grain", 180, []string{"sandwich"}},
	{"soup", "Soup", "vegetable", 300, []string{"soup"}},
	{"salad", "Salad", "vegetable", 150, []string{"salad"}},
	{"broccoli", "Broccoli", "vegetable", 90, []string{"broccoli"}},
	{"carrot", "Carrot", "vegetable", 80, []string{"carrot"}},
	{"beans", "Beans", "vegetable", 130, []string{"beans", "lentils"}},
	{"apple", "Apple", "fruit", 180, []string{"apple"}},
	{"banana", "Banana", "fruit", 120, []string{"banana"}},
	{"orange", "Orange", "fruit", 130, []string{"orange"}},
	{"yogurt", "Yogurt", "dairy", 170, []string{"yogurt", "yoghurt"}},
	{"cheese", "Cheese", "dairy", 30, []string{"cheese"}},
	{"milk", "Milk", "dairy", 240, []string{"milk"}},
	{"avocado", "Avocado", "fat", 70, []string{"avocado"}},
	{"coffee", "Coffee", "beverage", 240, []string{"coffee", "latte", "espresso"}},
	{"juice", "Juice", "beverage", 250, []string{"juice", "soda"}},
	{"cake", "Cake", "dessert", 100, []string{"cake", "brownie"}},
	{"cookie", "Cookie", "dessert", 30, []string{"cookie", "biscuit"}},
	{"chocolate", "Chocolate", "dessert", 40, []string{"chocolate"}},
	{"lemon_wedge", "Lemon Wedge", "citrus_garnish", 8, []string{"lemon", "lime"}},
	{"herb_garnish", "Herb Garnish", "fresh_herb", 5, []string{"parsley", "cilantro", "basil"}},
}

const ouncesToGrams = 28.35

// HeuristicStrategy matches known food keywords in text. Photo analyses go
// through OCR first, which mostly helps with packaging and menu shots.
type HeuristicStrategy struct {
	ocr     *OCRService
	storage *StorageService
}

func NewHeuristicStrategy(ocr *OCRService, storage *StorageService) *HeuristicStrategy {
	return &HeuristicStrategy{ocr: ocr, storage: storage}
}

func (s *HeuristicStrategy) Name() string { return StrategyHeuristic }

func (s *HeuristicStrategy) Eligible(settings TierSettings, req *RecognitionRequest) (bool, string) {
	if !settings.HeuristicEnabled {
		return false, ReasonHeuristicDisabled
	}
	if req.Source == models.AnalysisSourcePhoto && (s.ocr == nil || s.storage == nil || req.PhotoKey == "") {
		return false, ReasonOCRUnavailable
	}
	return true, ""
}

func (s *HeuristicStrategy) Recognize(ctx context.Context, settings TierSettings, req *RecognitionRequest) ([]models.FoodItemPrediction, error) {
	text := req.Text
	if req.Source == models.AnalysisSourcePhoto {
		extracted, err := s.extractPhotoText(ctx, req.PhotoKey)
		if err != nil {
			return nil, &InferenceError{Kind: InferenceErrCall, Detail: "ocr failed", Err: err}
		}
		text = extracted
	}
	if req.Hint != "" {
		text += "\n" + req.Hint
	}

	items := matchLexicon(text)
	if len(items) == 0 {
		return nil, &ParseError{Code: ParseNoMatch, Message: "no known foods in text"}
	}

	return items, nil
}

func (s *HeuristicStrategy) extractPhotoText(ctx context.Context, photoKey string) (string, error) {
	obj, err := s.storage.Download(ctx, photoKey)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	imageBytes, err := io.ReadAll(obj)
	if err != nil {
		return "", err
	}

	result, err := s.ocr.ProcessImage(imageBytes)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func matchLexicon(text string) []models.FoodItemPrediction {
	lower := strings.ToLower(text)

	var items []models.FoodItemPrediction
	seen := make(map[string]bool)

	for _, entry := range foodLexicon {
		if seen[entry.label] {
			continue
		}
		for _, kw := range entry.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}

			grams := entry.grams
			if q, ok := extractQuantity(lower, kw); ok {
				grams = q
			} else if count, ok := extractCount(lower, kw); ok {
				grams = entry.grams * float64(count)
			}

			items = append(items, models.FoodItemPrediction{
				Label:         entry.label,
				DisplayName:   entry.display,
				QuantityGrams: grams,
				Confidence:    0.5,
				Category:      entry.category,
			})
			seen[entry.label] = true
			break
		}
		if len(items) == maxItemsPerAnalysis {
			break
		}
	}

	return items
}

// extractQuantity finds "150g of rice" or "rice 150 g" style amounts near
// the keyword
func extractQuantity(text, keyword string) (float64, bool) {
	kw := regexp.QuoteMeta(keyword)
	amount := `(\d+(?:\.\d+)?)\s*(g|grams?|oz|ounces?)`

	before := regexp.MustCompile(amount + `\s+(?:of\s+)?` + kw)
	after := regexp.MustCompile(kw + `\W{0,3}` + amount + `\b`)

	var value, unit string
	if m := before.FindStringSubmatch(text); m != nil {
		value, unit = m[1], m[2]
	} else if m := after.FindStringSubmatch(text); m != nil {
		value, unit = m[1], m[2]
	} else {
		return 0, false
	}

	grams, err := strconv.ParseFloat(value, 64)
	if err != nil || grams <= 0 {
		return 0, false
	}
	if strings.HasPrefix(unit, "o") {
		grams *= ouncesToGrams
	}
	return grams, true
}

// extractCount finds "2 eggs" or "3x toast" style multipliers
func extractCount(text, keyword string) (int, bool) {
	re := regexp.MustCompile(`\b(\d+)\s*(?:x\s*)?` + regexp.QuoteMeta(keyword))
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	count, err := strconv.Atoi(m[1])
	if err != nil || count <= 0 || count > 20 {
		return 0, false
	}
	return count, true
}

// StubStrategy always succeeds with a single low-confidence placeholder so
// the chain never comes up empty
type StubStrategy struct{}

func NewStubStrategy() *StubStrategy {
	return &StubStrategy{}
}

func (s *StubStrategy) Name() string { return StrategyStub }

func (s *StubStrategy) Eligible(settings TierSettings, req *RecognitionRequest) (bool, string) {
	return true, ""
}

func (s *StubStrategy) Recognize(ctx context.Context, settings TierSettings, req *RecognitionRequest) ([]models.FoodItemPrediction, error) {
	return []models.FoodItemPrediction{
		{
			Label:         "unidentified_meal",
			DisplayName:   "Unidentified Meal",
			QuantityGrams: 250,
			Confidence:    0.2,
		},
	}, nil
}
