package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platewise/mealscan/internal/database"
	"github.com/platewise/mealscan/internal/models"
)

// producerBudget bounds how long a coalesced producer may run once it has
// been detached from the caller's context
const producerBudget = 60 * time.Second

// AnalysisRepository is the persistence surface the store needs
type AnalysisRepository interface {
	CreateAnalysis(ctx context.Context, analysis *models.MealAnalysis) error
	GetAnalysisByKey(ctx context.Context, userID int, key string) (*models.MealAnalysis, error)
	GetAnalysisByID(ctx context.Context, id string) (*models.MealAnalysis, error)
}

// AnalysisStore guarantees at most one producer runs per (user, key) pair,
// across concurrent callers in this process and across instances through
// the unique constraint underneath.
type AnalysisStore struct {
	repo   AnalysisRepository
	flight singleflight.Group
}

func NewAnalysisStore(repo AnalysisRepository) *AnalysisStore {
	return &AnalysisStore{repo: repo}
}

// GetOrCreate returns the analysis for the key, running produce only when
// no record exists yet. The producer runs detached from the caller's
// cancellation so a dropped request cannot strand concurrent waiters.
func (s *AnalysisStore) GetOrCreate(ctx context.Context, userID int, key string, produce func(ctx context.Context) (*models.MealAnalysis, error)) (*models.MealAnalysis, error) {
	existing, err := s.repo.GetAnalysisByKey(ctx, userID, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrAnalysisNotFound) {
		return nil, err
	}

	flightKey := fmt.Sprintf("%d:%s", userID, key)
	v, err, _ := s.flight.Do(flightKey, func() (interface{}, error) {
		produceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), producerBudget)
		defer cancel()

		// Another request may have finished while we queued
		existing, err := s.repo.GetAnalysisByKey(produceCtx, userID, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, database.ErrAnalysisNotFound) {
			return nil, err
		}

		analysis, err := produce(produceCtx)
		if err != nil {
			return nil, err
		}

		if err := s.repo.CreateAnalysis(produceCtx, analysis); err != nil {
			// A concurrent instance won the insert; theirs is canonical
			if errors.Is(err, database.ErrDuplicateAnalysis) {
				return s.repo.GetAnalysisByKey(produceCtx, userID, key)
			}
			return nil, err
		}
		return analysis, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.MealAnalysis), nil
}

// GetByID loads one analysis
func (s *AnalysisStore) GetByID(ctx context.Context, id string) (*models.MealAnalysis, error) {
	return s.repo.GetAnalysisByID(ctx, id)
}
