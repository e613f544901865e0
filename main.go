package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/adapters"
	"github.com/inkwell-hq/audience-engine/pkg/config"
	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/handlers"
	"github.com/inkwell-hq/audience-engine/pkg/logging"
	"github.com/inkwell-hq/audience-engine/pkg/middleware"
	"github.com/inkwell-hq/audience-engine/pkg/repositories"
	"github.com/inkwell-hq/audience-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis_host", cfg.Redis.Host))

	ctx := context.Background()

	// Migrations run over database/sql; the service itself uses pgxpool.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Repositories
	personRepo := repositories.NewPersonRepository(db)
	linkRepo := repositories.NewIdentityLinkRepository(db)
	eventRepo := repositories.NewEventRepository(db)
	featureRepo := repositories.NewFeaturesRepository(db)
	segmentRepo := repositories.NewSegmentRepository(db)
	memberRepo := repositories.NewSegmentMemberRepository(db)

	// Automation dispatch is optional; without Redis, triggers report a
	// dispatch-disabled error instead of firing.
	var dispatcher services.AutomationDispatcher
	if redisClient != nil {
		dispatcher = adapters.NewRedisAutomationDispatcher(redisClient, cfg.Redis.ChannelPrefix, logger)
	}

	// Services
	identityService := services.NewIdentityService(db, personRepo, linkRepo, eventRepo, featureRepo, memberRepo, logger)
	featureService := services.NewFeatureService(personRepo, eventRepo, featureRepo, cfg.Evaluation.FeatureLookbackDays, logger)
	segmentService := services.NewSegmentService(segmentRepo, memberRepo, logger)
	evaluationService := services.NewEvaluationService(personRepo, featureRepo, segmentRepo, memberRepo, dispatcher, cfg.Evaluation.BatchSize, logger)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	identityHandler := handlers.NewIdentityHandler(identityService, logger)
	identityHandler.RegisterRoutes(mux)

	featureMaxAge := time.Duration(cfg.Evaluation.FeatureMaxAgeMinutes) * time.Minute
	eventHandler := handlers.NewEventHandler(featureService, featureMaxAge, logger)
	eventHandler.RegisterRoutes(mux)

	segmentHandler := handlers.NewSegmentHandler(segmentService, evaluationService, logger)
	segmentHandler.RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting audience-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
