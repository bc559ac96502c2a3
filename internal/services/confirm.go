package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/platewise/mealscan/internal/logging"
	"github.com/platewise/mealscan/internal/metrics"
	"github.com/platewise/mealscan/internal/models"
)

var (
	ErrInvalidIndex     = errors.New("accepted index out of range")
	ErrAlreadyConfirmed = errors.New("analysis already confirmed with a different selection")
)

// ConfirmationRepository is the persistence surface confirmation needs.
// Inserts are transactional: either every entry lands or none do.
type ConfirmationRepository interface {
	InsertConfirmedEntries(ctx context.Context, analysisID string, indexes []int, entries []*models.MealEntry) error
	GetEntriesByAnalysis(ctx context.Context, analysisID string) ([]models.MealEntry, error)
}

// ConfirmationService turns accepted analysis items into durable log
// entries. Confirming the same analysis with the same selection is a no-op
// that returns the original entries.
type ConfirmationService struct {
	store   *AnalysisStore
	entries ConfirmationRepository
	metrics *metrics.Registry
	logger  logging.Logger
}

func NewConfirmationService(store *AnalysisStore, entries ConfirmationRepository, reg *metrics.Registry, logger logging.Logger) *ConfirmationService {
	return &ConfirmationService{
		store:   store,
		entries: entries,
		metrics: reg,
		logger:  logger,
	}
}

// Confirm validates the selection and writes entries for it. Validation is
// all-or-nothing: one bad index fails the whole call before any write. An
// empty selection is valid and confirms the analysis with zero entries.
func (s *ConfirmationService) Confirm(ctx context.Context, userID int, analysisID string, req *models.ConfirmAnalysisRequest) (*models.ConfirmAnalysisResponse, error) {
	analysis, err := s.store.GetByID(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if analysis.UserID != userID {
		return nil, ErrNotOwned
	}

	for _, idx := range req.AcceptedIndexes {
		if idx < 0 || idx >= len(analysis.Items) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, idx)
		}
	}
	indexes := dedupeSorted(req.AcceptedIndexes)

	if analysis.IsConfirmed() {
		if !equalIndexes(analysis.ConfirmedIndexes, indexes) {
			return nil, ErrAlreadyConfirmed
		}
		existing, err := s.entries.GetEntriesByAnalysis(ctx, analysisID)
		if err != nil {
			return nil, err
		}
		s.metrics.IncCounter("confirmations_total", metrics.Labels{"status": "repeat"})
		return &models.ConfirmAnalysisResponse{AnalysisID: analysisID, CreatedEntries: existing}, nil
	}

	entries := make([]*models.MealEntry, 0, len(indexes))
	for _, idx := range indexes {
		entries = append(entries, entryFromItem(analysis, idx))
	}

	if err := s.entries.InsertConfirmedEntries(ctx, analysisID, indexes, entries); err != nil {
		return nil, err
	}

	s.metrics.IncCounter("confirmations_total", metrics.Labels{"status": "created"})
	s.logger.Info(ctx, "analysis confirmed",
		"analysis_id", analysisID,
		"user_id", userID,
		"entries", len(entries),
	)

	created := make([]models.MealEntry, 0, len(entries))
	for _, e := range entries {
		created = append(created, *e)
	}
	return &models.ConfirmAnalysisResponse{AnalysisID: analysisID, CreatedEntries: created}, nil
}

// entryFromItem freezes the item's nutrient snapshot into a log entry
func entryFromItem(analysis *models.MealAnalysis, idx int) *models.MealEntry {
	item := analysis.Items[idx]
	n := item.Nutrients

	key := analysis.IdempotencyKey
	return &models.MealEntry{
		ID:             uuid.NewString(),
		UserID:         analysis.UserID,
		AnalysisID:     analysis.ID,
		ItemIndex:      idx,
		Name:           item.DisplayName,
		QuantityGrams:  item.QuantityGrams,
		Calories:       n.Calories,
		ProteinG:       n.ProteinG,
		CarbsG:         n.CarbsG,
		FatG:           n.FatG,
		FiberG:         n.FiberG,
		SugarG:         n.SugarG,
		SodiumMg:       n.SodiumMg,
		NutrientSource: n.Source,
		IdempotencyKey: &key,
	}
}

func dedupeSorted(indexes []int) []int {
	seen := make(map[int]bool, len(indexes))
	out := make([]int, 0, len(indexes))
	for _, idx := range indexes {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

func equalIndexes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
