package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/platewise/mealscan/internal/models"
)

// InsertConfirmedEntries marks an analysis confirmed and creates its log
// entries in a single transaction. Either everything lands or nothing does.
func (db *DB) InsertConfirmedEntries(ctx context.Context, analysisID string, indexes []int, entries []*models.MealEntry) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if indexes == nil {
		indexes = []int{}
	}

	_, err = tx.Exec(ctx, `
		UPDATE analyses
		SET status = 'confirmed', confirmed_at = NOW(), confirmed_indexes = $2, updated_at = NOW()
		WHERE id = $1
	`, analysisID, indexes)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		err = tx.QueryRow(ctx, `
			INSERT INTO meal_entries (id, user_id, analysis_id, item_index, name, quantity_grams,
			                          calories, protein_g, carbs_g, fat_g, fiber_g, sugar_g, sodium_mg,
			                          nutrient_source, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING consumed_at, created_at
		`, entry.ID, entry.UserID, entry.AnalysisID, entry.ItemIndex, entry.Name, entry.QuantityGrams,
			entry.Calories, entry.ProteinG, entry.CarbsG, entry.FatG, entry.FiberG, entry.SugarG, entry.SodiumMg,
			entry.NutrientSource, entry.IdempotencyKey).Scan(&entry.ConsumedAt, &entry.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetEntriesByAnalysis returns the entries created from one analysis in
// item order
func (db *DB) GetEntriesByAnalysis(ctx context.Context, analysisID string) ([]models.MealEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, analysis_id, item_index, name, quantity_grams,
		       calories, protein_g, carbs_g, fat_g, fiber_g, sugar_g, sodium_mg,
		       nutrient_source, idempotency_key, consumed_at, created_at
		FROM meal_entries
		WHERE analysis_id = $1
		ORDER BY item_index ASC
	`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListEntries returns a paginated list of a user's entries, newest first
func (db *DB) ListEntries(ctx context.Context, params *models.EntryListParams) ([]models.MealEntry, int, error) {
	var total int
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM meal_entries WHERE user_id = $1",
		params.UserID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, analysis_id, item_index, name, quantity_grams,
		       calories, protein_g, carbs_g, fat_g, fiber_g, sugar_g, sodium_mg,
		       nutrient_source, idempotency_key, consumed_at, created_at
		FROM meal_entries
		WHERE user_id = $1
		ORDER BY consumed_at DESC, item_index ASC
		LIMIT $2 OFFSET $3
	`, params.UserID, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

func scanEntries(rows pgx.Rows) ([]models.MealEntry, error) {
	var entries []models.MealEntry
	for rows.Next() {
		entry := models.MealEntry{}
		err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.AnalysisID, &entry.ItemIndex, &entry.Name, &entry.QuantityGrams,
			&entry.Calories, &entry.ProteinG, &entry.CarbsG, &entry.FatG, &entry.FiberG, &entry.SugarG, &entry.SodiumMg,
			&entry.NutrientSource, &entry.IdempotencyKey, &entry.ConsumedAt, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if entries == nil {
		entries = []models.MealEntry{}
	}

	return entries, nil
}
