package services

import (
	"context"
	"time"

	"github.com/platewise/mealscan/internal/config"
	"github.com/platewise/mealscan/internal/database"
)

// TierSettings is the live recognizer configuration resolved per analysis
// call. Admin edits through the settings API take effect on the next call
// without a restart.
type TierSettings struct {
	VisionEnabled        bool
	VisionAPIKey         string
	VisionModel          string
	InferenceBaseURL     string
	InferenceTimeout     time.Duration
	SimulatedEnabled     bool
	SimulatedLatency     time.Duration
	SimulatedFailureRate float64
	HeuristicEnabled     bool
	NutrientCacheTTL     time.Duration
}

// TierSource resolves the current tier settings
type TierSource interface {
	Resolve(ctx context.Context) TierSettings
}

// TierConfigService reads tier settings from system_settings, falling back
// to environment defaults for keys that are missing or unparseable
type TierConfigService struct {
	db            *database.DB
	cfg           *config.Config
	encryptionKey []byte
}

func NewTierConfigService(db *database.DB, cfg *config.Config, encryptionKey []byte) *TierConfigService {
	return &TierConfigService{db: db, cfg: cfg, encryptionKey: encryptionKey}
}

// Resolve reads the current settings. Each call hits the database so edits
// apply to the very next analysis.
func (s *TierConfigService) Resolve(ctx context.Context) TierSettings {
	cfg := s.cfg
	return TierSettings{
		VisionEnabled:        s.db.GetSettingBool(ctx, "vision_enabled", cfg.VisionEnabled, s.encryptionKey),
		VisionAPIKey:         s.db.GetSettingString(ctx, "vision_api_key", cfg.VisionAPIKey, s.encryptionKey),
		VisionModel:          s.db.GetSettingString(ctx, "vision_model", cfg.VisionModel, s.encryptionKey),
		InferenceBaseURL:     s.db.GetSettingString(ctx, "inference_base_url", cfg.InferenceBaseURL, s.encryptionKey),
		InferenceTimeout:     time.Duration(s.db.GetSettingInt(ctx, "inference_timeout_seconds", int(cfg.InferenceTimeout/time.Second), s.encryptionKey)) * time.Second,
		SimulatedEnabled:     s.db.GetSettingBool(ctx, "simulated_enabled", cfg.SimulatedEnabled, s.encryptionKey),
		SimulatedLatency:     time.Duration(s.db.GetSettingInt(ctx, "simulated_latency_ms", int(cfg.SimulatedLatency/time.Millisecond), s.encryptionKey)) * time.Millisecond,
		SimulatedFailureRate: s.db.GetSettingFloat(ctx, "simulated_failure_rate", cfg.SimulatedFailureRate, s.encryptionKey),
		HeuristicEnabled:     s.db.GetSettingBool(ctx, "heuristic_enabled", cfg.HeuristicEnabled, s.encryptionKey),
		NutrientCacheTTL:     time.Duration(s.db.GetSettingInt(ctx, "nutrient_cache_ttl_seconds", int(cfg.NutrientCacheTTL/time.Second), s.encryptionKey)) * time.Second,
	}
}

// StaticTierSource returns fixed settings. Tests use it to pin the chain
// to a known configuration.
type StaticTierSource struct {
	Settings TierSettings
}

func (s *StaticTierSource) Resolve(ctx context.Context) TierSettings {
	return s.Settings
}
