package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/platewise/mealscan/internal/config"
	"github.com/platewise/mealscan/internal/database"
	"github.com/platewise/mealscan/internal/handlers"
	"github.com/platewise/mealscan/internal/logging"
	"github.com/platewise/mealscan/internal/metrics"
	"github.com/platewise/mealscan/internal/middleware"
	"github.com/platewise/mealscan/internal/services"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Structured logging; the stdlib log package routes through the same
	// handler once the default is set
	level := slog.LevelInfo
	var logHandler slog.Handler
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(logHandler))
	appLogger := logging.NewSlogLogger(nil)

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	reg := metrics.NewRegistry()
	encryptionKey := services.DeriveEncryptionKey(cfg.EncryptionSecret())

	// Initialize photo storage if configured
	var storageService *services.StorageService
	if cfg.S3Endpoint != "" && cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		s, err := services.NewStorageService(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL)
		if err != nil {
			log.Printf("Warning: Failed to initialize storage service: %v", err)
		} else {
			storageService = s
			if err := storageService.EnsureBucket(context.Background()); err != nil {
				log.Printf("Warning: Failed to ensure bucket exists: %v", err)
			}
		}
	} else {
		log.Println("Photo storage not configured, photo analysis disabled")
	}

	// OCR backs the keyword recognizer for photo inputs
	var ocrService *services.OCRService
	if storageService != nil {
		o, err := services.NewOCRService()
		if err != nil {
			log.Printf("Warning: Failed to initialize OCR service: %v", err)
		} else {
			ocrService = o
			defer ocrService.Close()
		}
	}

	// Recognition pipeline
	tierSource := services.NewTierConfigService(db, cfg, encryptionKey)
	parser := services.NewPredictionParser()
	inferenceClient := services.NewInferenceClient(reg, appLogger)

	chain := services.NewAdapterChain([]services.RecognitionStrategy{
		services.NewVisionStrategy(inferenceClient, parser),
		services.NewSimulatedStrategy(parser),
		services.NewHeuristicStrategy(ocrService, storageService),
		services.NewStubStrategy(),
	}, reg, appLogger)

	var lookup services.NutrientLookup
	if cfg.NutritionAppID != "" && cfg.NutritionAppKey != "" {
		lookup = services.NewNutritionDBService(cfg.NutritionAppID, cfg.NutritionAppKey)
	} else {
		log.Println("Nutrition database credentials not configured, using local profiles")
	}
	enrichment := services.NewEnrichmentService(lookup, reg, appLogger)

	analysisStore := services.NewAnalysisStore(db)
	analysisService := services.NewAnalysisService(
		analysisStore, chain, enrichment,
		services.NewBarcodeService(), storageService, tierSource,
		cfg.AnalysisTTL, reg, appLogger,
	)
	confirmationService := services.NewConfirmationService(analysisStore, db, reg, appLogger)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    12 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Create handlers with dependencies
	h := handlers.New(db, cfg, encryptionKey)
	analysisHandler := handlers.NewAnalysisHandler(cfg, analysisService, confirmationService, storageService)
	settingsHandler := handlers.NewSettingsHandler(db, cfg, encryptionKey)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Metrics snapshot for scraping and debugging
	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(reg.Snapshot())
	})

	// API routes
	api := app.Group("/api")

	// Analysis routes (authenticated). Photo routes need storage.
	analyses := api.Group("/analyses", middleware.AuthRequired(cfg))
	if storageService != nil {
		api.Post("/photos", middleware.AuthRequired(cfg), analysisHandler.UploadPhoto)
		analyses.Post("/photo", analysisHandler.AnalyzePhoto)
	}
	analyses.Post("/text", analysisHandler.AnalyzeText)
	analyses.Post("/barcode", analysisHandler.AnalyzeBarcode)
	analyses.Get("/:id", analysisHandler.GetAnalysis)
	analyses.Post("/:id/confirm", analysisHandler.ConfirmAnalysis)

	// Food log routes (authenticated)
	api.Get("/entries", middleware.AuthRequired(cfg), h.ListEntries)

	// Admin settings routes (admin only)
	admin := api.Group("/admin", middleware.AuthRequired(cfg), middleware.AdminRequired())
	admin.Get("/settings/:category", settingsHandler.GetSettingsByCategory)
	admin.Put("/settings/:category", settingsHandler.UpdateSettings)

	// Periodically drop expired unconfirmed analyses and their photos
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			sweepExpiredAnalyses(db, storageService)
			<-ticker.C
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}

func sweepExpiredAnalyses(db *database.DB, storage *services.StorageService) {
	ctx := context.Background()
	photoKeys, err := db.CleanupExpiredAnalyses(ctx)
	if err != nil {
		log.Printf("Warning: Failed to cleanup expired analyses: %v", err)
		return
	}
	if len(photoKeys) == 0 {
		return
	}

	log.Printf("Swept expired analyses, removing %d stored photo(s)", len(photoKeys))
	if storage != nil {
		if err := storage.DeleteMultiple(ctx, photoKeys); err != nil {
			log.Printf("Warning: Failed to delete some photo objects: %v", err)
		}
	}
}
