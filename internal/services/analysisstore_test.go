package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platewise/mealscan/internal/database"
	"github.com/platewise/mealscan/internal/models"
)

type fakeAnalysisRepo struct {
	mu        sync.Mutex
	byKey     map[string]*models.MealAnalysis
	byID      map[string]*models.MealAnalysis
	creates   int
	missFirst int
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{
		byKey: make(map[string]*models.MealAnalysis),
		byID:  make(map[string]*models.MealAnalysis),
	}
}

func repoKey(userID int, key string) string {
	return fmt.Sprintf("%d:%s", userID, key)
}

func (r *fakeAnalysisRepo) CreateAnalysis(ctx context.Context, a *models.MealAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := repoKey(a.UserID, a.IdempotencyKey)
	if _, exists := r.byKey[k]; exists {
		return database.ErrDuplicateAnalysis
	}
	r.byKey[k] = a
	r.byID[a.ID] = a
	r.creates++
	return nil
}

func (r *fakeAnalysisRepo) GetAnalysisByKey(ctx context.Context, userID int, key string) (*models.MealAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missFirst > 0 {
		r.missFirst--
		return nil, database.ErrAnalysisNotFound
	}
	a, ok := r.byKey[repoKey(userID, key)]
	if !ok {
		return nil, database.ErrAnalysisNotFound
	}
	return a, nil
}

func (r *fakeAnalysisRepo) GetAnalysisByID(ctx context.Context, id string) (*models.MealAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, database.ErrAnalysisNotFound
	}
	return a, nil
}

func TestGetOrCreateProducesOnce(t *testing.T) {
	repo := newFakeAnalysisRepo()
	store := NewAnalysisStore(repo)

	var produced atomic.Int32
	produce := func(ctx context.Context) (*models.MealAnalysis, error) {
		produced.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &models.MealAnalysis{ID: "a-1", UserID: 7, IdempotencyKey: "auto-abc"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*models.MealAnalysis, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.GetOrCreate(context.Background(), 7, "auto-abc", produce)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), produced.Load())
	require.Equal(t, 1, repo.creates)
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "a-1", results[i].ID)
	}
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	repo := newFakeAnalysisRepo()
	existing := &models.MealAnalysis{ID: "a-existing", UserID: 3, IdempotencyKey: "client-key"}
	require.NoError(t, repo.CreateAnalysis(context.Background(), existing))

	store := NewAnalysisStore(repo)
	a, err := store.GetOrCreate(context.Background(), 3, "client-key", func(ctx context.Context) (*models.MealAnalysis, error) {
		t.Fatal("producer must not run for an existing key")
		return nil, nil
	})

	require.NoError(t, err)
	require.Equal(t, existing.ID, a.ID)
}

func TestGetOrCreateDetachesFromCallerCancel(t *testing.T) {
	repo := newFakeAnalysisRepo()
	store := NewAnalysisStore(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a, err := store.GetOrCreate(ctx, 1, "auto-def", func(produceCtx context.Context) (*models.MealAnalysis, error) {
		require.NoError(t, produceCtx.Err())
		return &models.MealAnalysis{ID: "a-2", UserID: 1, IdempotencyKey: "auto-def"}, nil
	})

	require.NoError(t, err)
	require.Equal(t, "a-2", a.ID)
	require.Equal(t, 1, repo.creates)
}

func TestGetOrCreateLosingInsertReturnsCanonical(t *testing.T) {
	repo := newFakeAnalysisRepo()
	canonical := &models.MealAnalysis{ID: "a-winner", UserID: 5, IdempotencyKey: "auto-xyz"}
	require.NoError(t, repo.CreateAnalysis(context.Background(), canonical))
	repo.creates = 0
	// Simulate another instance inserting between our existence check and
	// our insert attempt
	repo.missFirst = 2

	store := NewAnalysisStore(repo)
	a, err := store.GetOrCreate(context.Background(), 5, "auto-xyz", func(ctx context.Context) (*models.MealAnalysis, error) {
		return &models.MealAnalysis{ID: "a-loser", UserID: 5, IdempotencyKey: "auto-xyz"}, nil
	})

	require.NoError(t, err)
	require.Equal(t, "a-winner", a.ID)
	require.Equal(t, 0, repo.creates)
}

func TestGetOrCreateProducerErrorPropagates(t *testing.T) {
	repo := newFakeAnalysisRepo()
	store := NewAnalysisStore(repo)

	boom := errors.New("provider exploded")
	_, err := store.GetOrCreate(context.Background(), 2, "auto-err", func(ctx context.Context) (*models.MealAnalysis, error) {
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, repo.creates)
}
