package database

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Connect creates a new database connection pool
func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	// Configure pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Println("Database connected successfully")
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// RunMigrations runs all database migrations in version order
func RunMigrations(db *DB) error {
	ctx := context.Background()

	// Create migrations table if it doesn't exist
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	versions := make([]int, 0, len(migrations))
	for version := range migrations {
		versions = append(versions, version)
	}
	sort.Ints(versions)

	for _, version := range versions {
		// Check if migration already applied
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", version, err)
		}

		if exists {
			continue
		}

		// Apply migration
		log.Printf("Applying migration %d...", version)
		_, err = db.Pool.Exec(ctx, migrations[version])
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}

		// Record migration
		_, err = db.Pool.Exec(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)",
			version,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		log.Printf("Migration %d applied successfully", version)
	}

	return nil
}

// migrations is an ordered map of migration version to SQL
var migrations = map[int]string{
	1: migration001,
	2: migration002,
	3: migration003,
}

const migration001 = `
-- Enable extensions
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

-- Analyses table: one row per analyze request, items stored separately
CREATE TABLE IF NOT EXISTS analyses (
    id UUID PRIMARY KEY,
    user_id INT NOT NULL,
    idempotency_key VARCHAR(128) NOT NULL,
    source VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'completed',
    strategy VARCHAR(30) NOT NULL,
    fallback_reason TEXT,
    input_payload TEXT,
    hint TEXT,
    total_calories INT NOT NULL DEFAULT 0,
    diagnostics JSONB NOT NULL DEFAULT '[]',
    confirmed_indexes JSONB,
    confirmed_at TIMESTAMP,
    photo_bucket VARCHAR(100),
    photo_key VARCHAR(255),
    expires_at TIMESTAMP NOT NULL DEFAULT NOW() + INTERVAL '24 hours',
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW(),
    CONSTRAINT unique_user_idempotency UNIQUE (user_id, idempotency_key)
);

-- Recognized items with their enriched nutrient snapshot
CREATE TABLE IF NOT EXISTS analysis_items (
    id SERIAL PRIMARY KEY,
    analysis_id UUID REFERENCES analyses(id) ON DELETE CASCADE,
    item_index INT NOT NULL,
    label VARCHAR(100) NOT NULL,
    display_name VARCHAR(255) NOT NULL,
    quantity_grams DECIMAL(10, 2) NOT NULL,
    confidence DECIMAL(4, 3) NOT NULL,
    category VARCHAR(50),
    calories INT NOT NULL,
    protein_g DECIMAL(10, 1) NOT NULL,
    carbs_g DECIMAL(10, 1) NOT NULL,
    fat_g DECIMAL(10, 1) NOT NULL,
    fiber_g DECIMAL(10, 1),
    sugar_g DECIMAL(10, 1),
    sodium_mg DECIMAL(10, 1),
    nutrient_source VARCHAR(30) NOT NULL,
    nutrient_confidence DECIMAL(4, 3) NOT NULL,
    reference_grams DECIMAL(10, 2) NOT NULL DEFAULT 100,
    calories_corrected BOOLEAN DEFAULT FALSE,
    CONSTRAINT unique_analysis_item UNIQUE (analysis_id, item_index)
);

-- Confirmed log entries. No FK to analyses: entries outlive the
-- analysis retention window.
CREATE TABLE IF NOT EXISTS meal_entries (
    id UUID PRIMARY KEY,
    user_id INT NOT NULL,
    analysis_id UUID NOT NULL,
    item_index INT NOT NULL,
    name VARCHAR(255) NOT NULL,
    quantity_grams DECIMAL(10, 2) NOT NULL,
    calories INT NOT NULL,
    protein_g DECIMAL(10, 1) NOT NULL,
    carbs_g DECIMAL(10, 1) NOT NULL,
    fat_g DECIMAL(10, 1) NOT NULL,
    fiber_g DECIMAL(10, 1),
    sugar_g DECIMAL(10, 1),
    sodium_mg DECIMAL(10, 1),
    nutrient_source VARCHAR(30) NOT NULL,
    idempotency_key VARCHAR(128),
    consumed_at TIMESTAMP NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP DEFAULT NOW(),
    CONSTRAINT unique_entry_item UNIQUE (analysis_id, item_index)
);

-- System settings table
CREATE TABLE IF NOT EXISTS system_settings (
    key VARCHAR(100) PRIMARY KEY,
    value TEXT,
    value_type VARCHAR(20) DEFAULT 'string',
    category VARCHAR(50) DEFAULT 'general',
    description TEXT,
    is_sensitive BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);

-- Create indexes
CREATE INDEX IF NOT EXISTS idx_analyses_user ON analyses(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_expires ON analyses(expires_at);
CREATE INDEX IF NOT EXISTS idx_analysis_items_analysis ON analysis_items(analysis_id, item_index);
CREATE INDEX IF NOT EXISTS idx_meal_entries_user ON meal_entries(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_system_settings_category ON system_settings(category);
`

const migration002 = `
-- Migration 002: Seed inference and enrichment settings

INSERT INTO system_settings (key, value, value_type, category, description, is_sensitive) VALUES
    ('vision_enabled', 'false', 'bool', 'inference', 'Allow calls to the hosted vision model', FALSE),
    ('vision_api_key', '', 'encrypted', 'inference', 'API key for the vision model provider', TRUE),
    ('vision_model', 'openai/gpt-4o-mini', 'string', 'inference', 'Model identifier sent to the provider', FALSE),
    ('inference_base_url', 'https://openrouter.ai/api/v1', 'string', 'inference', 'OpenAI-compatible API base URL', FALSE),
    ('inference_timeout_seconds', '12', 'int', 'inference', 'Per-call budget for vision requests', FALSE),
    ('simulated_enabled', 'false', 'bool', 'inference', 'Enable the simulated recognizer', FALSE),
    ('simulated_latency_ms', '150', 'int', 'inference', 'Artificial latency for the simulated recognizer', FALSE),
    ('simulated_failure_rate', '0', 'float', 'inference', 'Simulated failure probability between 0 and 1', FALSE),
    ('heuristic_enabled', 'true', 'bool', 'inference', 'Enable the keyword recognizer', FALSE),
    ('nutrient_cache_ttl_seconds', '3600', 'int', 'enrichment', 'TTL for cached nutrient profiles', FALSE)
ON CONFLICT (key) DO NOTHING;
`

const migration003 = `
-- Migration 003: Indexes for entry history and cleanup scans

CREATE INDEX IF NOT EXISTS idx_meal_entries_consumed ON meal_entries(user_id, consumed_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
`
