package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platewise/mealscan/internal/metrics"
	"github.com/platewise/mealscan/internal/models"
)

type fakeBarcode struct {
	product *BarcodeProduct
	err     error
	calls   int
}

func (f *fakeBarcode) LookupBarcode(ctx context.Context, code string) (*BarcodeProduct, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.product, nil
}

func newAnalysisServiceForTest(barcode BarcodeLookup, settings TierSettings) (*AnalysisService, *fakeAnalysisRepo, *metrics.Registry) {
	repo := newFakeAnalysisRepo()
	reg := metrics.NewRegistry()
	logger := testLogger()

	svc := NewAnalysisService(
		NewAnalysisStore(repo),
		NewAdapterChain(defaultTiers(), reg, logger),
		NewEnrichmentService(nil, reg, logger),
		barcode,
		nil,
		&StaticTierSource{Settings: settings},
		24*time.Hour,
		reg,
		logger,
	)
	return svc, repo, reg
}

func heuristicOnly() TierSettings {
	return TierSettings{HeuristicEnabled: true, NutrientCacheTTL: time.Minute}
}

func TestDeriveIdempotencyKey(t *testing.T) {
	key := DeriveIdempotencyKey(7, "chicken and rice", "")

	require.Len(t, key, 21)
	require.Equal(t, "auto-", key[:5])
	require.Equal(t, key, DeriveIdempotencyKey(7, "chicken and rice", ""))
	require.NotEqual(t, key, DeriveIdempotencyKey(8, "chicken and rice", ""))
	require.NotEqual(t, key, DeriveIdempotencyKey(7, "chicken and rice", "dinner"))
}

func TestAnalyzeTextProducesCompletedAnalysis(t *testing.T) {
	svc, _, _ := newAnalysisServiceForTest(&fakeBarcode{}, heuristicOnly())

	analysis, err := svc.AnalyzeText(context.Background(), 1, &models.AnalyzeTextRequest{Description: "grilled chicken with rice"})
	require.NoError(t, err)

	require.Equal(t, models.AnalysisStatusCompleted, analysis.Status)
	require.Equal(t, models.AnalysisSourceText, analysis.Source)
	require.Equal(t, StrategyHeuristic, analysis.Strategy)
	require.NotNil(t, analysis.FallbackReason)
	require.Equal(t, ReasonRealDisabled, *analysis.FallbackReason)

	require.Len(t, analysis.Items, 2)
	for _, item := range analysis.Items {
		require.NotNil(t, item.Nutrients)
	}
	// chicken 140g of 165kcal/100g plus rice 180g of 130kcal/100g
	require.Equal(t, 465, analysis.TotalCalories)
	require.False(t, analysis.ExpiresAt.IsZero())
}

func TestAnalyzeTextIsIdempotent(t *testing.T) {
	svc, repo, reg := newAnalysisServiceForTest(&fakeBarcode{}, heuristicOnly())
	req := &models.AnalyzeTextRequest{Description: "two eggs and toast"}

	first, err := svc.AnalyzeText(context.Background(), 4, req)
	require.NoError(t, err)
	second, err := svc.AnalyzeText(context.Background(), 4, req)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, repo.creates)
	require.Equal(t, uint64(2), reg.CounterValue("analysis_requests_total", metrics.Labels{"source": "text", "status": "completed"}))
}

func TestAnalyzeTextClientKeyWins(t *testing.T) {
	svc, repo, _ := newAnalysisServiceForTest(&fakeBarcode{}, heuristicOnly())

	first, err := svc.AnalyzeText(context.Background(), 4, &models.AnalyzeTextRequest{
		Description:    "a banana",
		IdempotencyKey: "meal-2026-02-14-lunch",
	})
	require.NoError(t, err)

	// Same client key, different payload: the stored analysis wins
	second, err := svc.AnalyzeText(context.Background(), 4, &models.AnalyzeTextRequest{
		Description:    "an orange",
		IdempotencyKey: "meal-2026-02-14-lunch",
	})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "a banana", second.InputPayload)
	require.Equal(t, 1, repo.creates)
}

func TestAnalyzeBarcodeFound(t *testing.T) {
	barcode := &fakeBarcode{product: &BarcodeProduct{
		Code:  "737628064502",
		Name:  "Rice Noodles",
		Brand: "Thai Kitchen",
		Profile: &models.NutrientProfile{
			Calories:       360,
			ProteinG:       6,
			CarbsG:         82,
			FatG:           1,
			Source:         models.NutrientSourceBarcodeDB,
			Confidence:     0.95,
			ReferenceGrams: 100,
		},
	}}
	svc, _, _ := newAnalysisServiceForTest(barcode, heuristicOnly())

	analysis, err := svc.AnalyzeBarcode(context.Background(), 2, &models.AnalyzeBarcodeRequest{
		Barcode:       "737628064502",
		QuantityGrams: 50,
	})
	require.NoError(t, err)

	require.Equal(t, StrategyBarcode, analysis.Strategy)
	require.Nil(t, analysis.FallbackReason)
	require.Len(t, analysis.Items, 1)

	item := analysis.Items[0]
	require.Equal(t, "rice_noodles", item.Label)
	require.Equal(t, "Rice Noodles (Thai Kitchen)", item.DisplayName)
	require.Equal(t, 0.95, item.Confidence)
	require.Equal(t, models.NutrientSourceBarcodeDB, item.Nutrients.Source)
	require.Equal(t, 180, item.Nutrients.Calories)
	require.Equal(t, 41.0, item.Nutrients.CarbsG)
}

func TestAnalyzeBarcodeNotFound(t *testing.T) {
	svc, _, _ := newAnalysisServiceForTest(&fakeBarcode{err: ErrProductNotFound}, heuristicOnly())

	analysis, err := svc.AnalyzeBarcode(context.Background(), 2, &models.AnalyzeBarcodeRequest{Barcode: "40084015"})
	require.NoError(t, err)

	require.Equal(t, models.AnalysisStatusCompleted, analysis.Status)
	require.Len(t, analysis.Diagnostics, 1)
	require.Equal(t, "NOT_FOUND", analysis.Diagnostics[0].Code)
	require.Equal(t, models.DiagnosticSeverityWarning, analysis.Diagnostics[0].Severity)

	require.Len(t, analysis.Items, 1)
	item := analysis.Items[0]
	require.Equal(t, "product_40084015", item.Label)
	require.Equal(t, 100.0, item.QuantityGrams)
	require.Equal(t, models.NutrientSourceCategoryProfile, item.Nutrients.Source)
	require.Equal(t, 0.3, item.Nutrients.Confidence)
}

func TestAnalyzeBarcodeInvalidCodeFails(t *testing.T) {
	svc, repo, reg := newAnalysisServiceForTest(&fakeBarcode{err: ErrInvalidBarcode}, heuristicOnly())

	_, err := svc.AnalyzeBarcode(context.Background(), 2, &models.AnalyzeBarcodeRequest{Barcode: "not-a-code"})
	require.ErrorIs(t, err, ErrInvalidBarcode)
	require.Equal(t, 0, repo.creates)
	require.Equal(t, uint64(1), reg.CounterValue("analysis_requests_total", metrics.Labels{"source": "barcode", "status": "failed"}))
}

func TestAnalyzeBarcodeIdempotentPerQuantity(t *testing.T) {
	barcode := &fakeBarcode{err: ErrProductNotFound}
	svc, repo, _ := newAnalysisServiceForTest(barcode, heuristicOnly())

	first, err := svc.AnalyzeBarcode(context.Background(), 3, &models.AnalyzeBarcodeRequest{Barcode: "40084015", QuantityGrams: 50})
	require.NoError(t, err)
	repeat, err := svc.AnalyzeBarcode(context.Background(), 3, &models.AnalyzeBarcodeRequest{Barcode: "40084015", QuantityGrams: 50})
	require.NoError(t, err)
	other, err := svc.AnalyzeBarcode(context.Background(), 3, &models.AnalyzeBarcodeRequest{Barcode: "40084015", QuantityGrams: 200})
	require.NoError(t, err)

	require.Equal(t, first.ID, repeat.ID)
	require.NotEqual(t, first.ID, other.ID)
	require.Equal(t, 2, repo.creates)
	require.Equal(t, 2, barcode.calls)
}

func TestGetAnalysisEnforcesOwnership(t *testing.T) {
	svc, _, _ := newAnalysisServiceForTest(&fakeBarcode{}, heuristicOnly())

	analysis, err := svc.AnalyzeText(context.Background(), 9, &models.AnalyzeTextRequest{Description: "a salad"})
	require.NoError(t, err)

	got, err := svc.GetAnalysis(context.Background(), 9, analysis.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.ID, got.ID)

	_, err = svc.GetAnalysis(context.Background(), 10, analysis.ID)
	require.ErrorIs(t, err, ErrNotOwned)
}

// Photo analysis with the vision tier enabled but no API key configured must
// still complete and be confirmable, with the fall recorded.
func TestPhotoAnalysisWithoutVisionKeyConfirmsEndToEnd(t *testing.T) {
	repo := newFakeAnalysisRepo()
	entries := newFakeEntryRepo(repo)
	reg := metrics.NewRegistry()
	logger := testLogger()
	store := NewAnalysisStore(repo)

	settings := TierSettings{VisionEnabled: true, HeuristicEnabled: true, NutrientCacheTTL: time.Minute}
	analyze := NewAnalysisService(
		store,
		NewAdapterChain(defaultTiers(), reg, logger),
		NewEnrichmentService(nil, reg, logger),
		&fakeBarcode{},
		nil,
		&StaticTierSource{Settings: settings},
		24*time.Hour,
		reg,
		logger,
	)
	confirm := NewConfirmationService(store, entries, reg, logger)

	analysis, err := analyze.AnalyzePhoto(context.Background(), 7, &models.AnalyzePhotoRequest{PhotoRef: "meals/7/plate.jpg"})
	require.NoError(t, err)

	require.Equal(t, models.AnalysisStatusCompleted, analysis.Status)
	require.NotNil(t, analysis.FallbackReason)
	require.Equal(t, ReasonMissingAPIKey, *analysis.FallbackReason)
	require.NotEmpty(t, analysis.Items)
	for _, item := range analysis.Items {
		require.NotNil(t, item.Nutrients)
		require.Equal(t, models.NutrientSourceCategoryProfile, item.Nutrients.Source)
	}

	accepted := make([]int, len(analysis.Items))
	for i := range accepted {
		accepted[i] = i
	}
	resp, err := confirm.Confirm(context.Background(), 7, analysis.ID, &models.ConfirmAnalysisRequest{AcceptedIndexes: accepted})
	require.NoError(t, err)
	require.Len(t, resp.CreatedEntries, len(analysis.Items))
	for i, entry := range resp.CreatedEntries {
		require.Equal(t, analysis.Items[i].Nutrients.Calories, entry.Calories)
	}
}
