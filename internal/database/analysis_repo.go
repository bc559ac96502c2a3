package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/platewise/mealscan/internal/models"
)

var (
	ErrAnalysisNotFound  = errors.New("analysis not found")
	ErrDuplicateAnalysis = errors.New("analysis already exists for idempotency key")
)

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = "23505"

// CreateAnalysis stores an analysis and its items. Returns
// ErrDuplicateAnalysis when the (user_id, idempotency_key) pair already
// exists, which callers resolve by re-reading the stored record.
func (db *DB) CreateAnalysis(ctx context.Context, analysis *models.MealAnalysis) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if analysis.Diagnostics == nil {
		analysis.Diagnostics = []models.Diagnostic{}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO analyses (id, user_id, idempotency_key, source, status, strategy, fallback_reason,
		                      input_payload, hint, total_calories, diagnostics, photo_bucket, photo_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, analysis.ID, analysis.UserID, analysis.IdempotencyKey, analysis.Source, analysis.Status,
		analysis.Strategy, analysis.FallbackReason, analysis.InputPayload, analysis.Hint,
		analysis.TotalCalories, analysis.Diagnostics, analysis.PhotoBucket, analysis.PhotoKey,
		analysis.ExpiresAt).Scan(&analysis.CreatedAt, &analysis.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateAnalysis
		}
		return err
	}

	for i, item := range analysis.Items {
		n := item.Nutrients
		if n == nil {
			return fmt.Errorf("item %d has no nutrient profile", i)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO analysis_items (analysis_id, item_index, label, display_name, quantity_grams, confidence, category,
			                            calories, protein_g, carbs_g, fat_g, fiber_g, sugar_g, sodium_mg,
			                            nutrient_source, nutrient_confidence, reference_grams, calories_corrected)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, analysis.ID, i, item.Label, item.DisplayName, item.QuantityGrams, item.Confidence, item.Category,
			n.Calories, n.ProteinG, n.CarbsG, n.FatG, n.FiberG, n.SugarG, n.SodiumMg,
			n.Source, n.Confidence, n.ReferenceGrams, n.CaloriesCorrected)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetAnalysisByID retrieves an analysis with its items
func (db *DB) GetAnalysisByID(ctx context.Context, id string) (*models.MealAnalysis, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, idempotency_key, source, status, strategy, fallback_reason,
		       input_payload, hint, total_calories, diagnostics, confirmed_indexes, confirmed_at,
		       photo_bucket, photo_key, expires_at, created_at, updated_at
		FROM analyses
		WHERE id = $1
	`, id)

	return db.scanAnalysis(ctx, row)
}

// GetAnalysisByKey retrieves an analysis by its owner and idempotency key
func (db *DB) GetAnalysisByKey(ctx context.Context, userID int, idempotencyKey string) (*models.MealAnalysis, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, idempotency_key, source, status, strategy, fallback_reason,
		       input_payload, hint, total_calories, diagnostics, confirmed_indexes, confirmed_at,
		       photo_bucket, photo_key, expires_at, created_at, updated_at
		FROM analyses
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, idempotencyKey)

	return db.scanAnalysis(ctx, row)
}

func (db *DB) scanAnalysis(ctx context.Context, row pgx.Row) (*models.MealAnalysis, error) {
	analysis := &models.MealAnalysis{}

	err := row.Scan(
		&analysis.ID, &analysis.UserID, &analysis.IdempotencyKey, &analysis.Source, &analysis.Status,
		&analysis.Strategy, &analysis.FallbackReason, &analysis.InputPayload, &analysis.Hint,
		&analysis.TotalCalories, &analysis.Diagnostics, &analysis.ConfirmedIndexes, &analysis.ConfirmedAt,
		&analysis.PhotoBucket, &analysis.PhotoKey, &analysis.ExpiresAt, &analysis.CreatedAt, &analysis.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}

	items, err := db.getAnalysisItems(ctx, analysis.ID)
	if err != nil {
		return nil, err
	}
	analysis.Items = items

	return analysis, nil
}

func (db *DB) getAnalysisItems(ctx context.Context, analysisID string) ([]models.FoodItemPrediction, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT label, display_name, quantity_grams, confidence, COALESCE(category, ''),
		       calories, protein_g, carbs_g, fat_g, fiber_g, sugar_g, sodium_mg,
		       nutrient_source, nutrient_confidence, reference_grams, calories_corrected
		FROM analysis_items
		WHERE analysis_id = $1
		ORDER BY item_index ASC
	`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.FoodItemPrediction
	for rows.Next() {
		item := models.FoodItemPrediction{Nutrients: &models.NutrientProfile{}}
		n := item.Nutrients
		err := rows.Scan(
			&item.Label, &item.DisplayName, &item.QuantityGrams, &item.Confidence, &item.Category,
			&n.Calories, &n.ProteinG, &n.CarbsG, &n.FatG, &n.FiberG, &n.SugarG, &n.SodiumMg,
			&n.Source, &n.Confidence, &n.ReferenceGrams, &n.CaloriesCorrected,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if items == nil {
		items = []models.FoodItemPrediction{}
	}

	return items, nil
}

// CleanupExpiredAnalyses deletes unconfirmed analyses past their expiration
// and returns the S3 keys of any photos that should be removed with them.
// Confirmed analyses are kept; their entries live in meal_entries anyway.
func (db *DB) CleanupExpiredAnalyses(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT photo_key FROM analyses
		WHERE expires_at < NOW() AND status <> 'confirmed' AND photo_key IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	_, err = db.Pool.Exec(ctx, `
		DELETE FROM analyses WHERE expires_at < NOW() AND status <> 'confirmed'
	`)
	if err != nil {
		return nil, err
	}

	return keys, nil
}
