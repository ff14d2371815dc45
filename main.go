package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bench2drive-leaderboard/config"
	"bench2drive-leaderboard/handlers"
	"bench2drive-leaderboard/services"
	"bench2drive-leaderboard/utils"
	"bench2drive-leaderboard/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	apiVersion = "1.0.0"
	// multipartOverhead leaves room for form fields and boundaries on top of the artifact.
	multipartOverhead = 1 << 20
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}
	if err := services.Migrate(db); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize artifact storage: ", err)
	}

	cache, redisClient := newLeaderboardCache(ctx, cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	events := services.NewNoopPublisher()
	if writer := services.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic); writer != nil {
		defer writer.Close()
		events = services.NewKafkaPublisher(writer)
		log.Infof("✅ Publishing submission events to kafka topic %s", cfg.KafkaTopic)
	}

	store := services.NewSubmissionStore(db)
	auth := services.NewAuthService(db, cfg.JWTSecret, cfg.TokenTTL)
	pool := workers.NewPool(cfg.Workers, cfg.Backlog)
	intake := &services.IntakeController{
		Store:         store,
		Parser:        services.NewResultParser(cfg.MaxArtifactBytes),
		Scorer:        services.NewScorer(),
		Artifacts:     artifacts,
		Aggregator:    services.NewLeaderboardAggregator(store, cache),
		Pool:          pool,
		Events:        events,
		UploadTimeout: cfg.UploadTimeout,
		ParseTimeout:  cfg.ParseTimeout,
	}

	sched, err := services.StartMaintenanceScheduler(intake, services.MaintenanceOptions{
		StaleAfter:   cfg.StaleAfter,
		WarmInterval: cfg.LeaderboardCacheTTL,
	})
	if err != nil {
		log.Fatal("failed to start scheduler: ", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    int(cfg.MaxArtifactBytes) + multipartOverhead,
		ReadTimeout:  cfg.UploadTimeout,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: handlers.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} [${locals:requestid}] ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Origins(),
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID, X-Service-Token",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID, Retry-After, Idempotent-Replayed",
		MaxAge:        86400,
	}))

	handlers.SetupIndexRoutes(app, apiVersion)
	api := app.Group("/api")
	handlers.SetupHealthRoutes(api, db, pool)
	handlers.SetupAuthRoutes(api, auth, store)
	handlers.SetupLeaderboardRoutes(api, intake.Aggregator)
	handlers.SetupSubmissionRoutes(api, intake, auth, cfg.SubmissionRateLimit)
	handlers.SetupAdminRoutes(api, intake, cfg.AdminToken)
	app.Use(handlers.NotFound)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("Server error: %v", err)
		}
	}()

	log.Infof("✅ Server running on http://localhost:%s", cfg.Port)
	log.Infof("✅ Scoring pool: %d worker(s), backlog %d", cfg.Workers, cfg.Backlog)
	log.Infof("✅ CORS configured for origins: %s", cfg.Origins())

	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Errorf("Scheduler shutdown: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Worker pool shutdown: %v", err)
	}
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (utils.ArtifactStore, error) {
	if cfg.ArtifactBackend == "r2" {
		log.Infof("✅ Storing artifacts in R2 bucket %s", cfg.R2Bucket)
		return utils.NewR2ArtifactStore(ctx, utils.R2Config{
			AccountID:       cfg.CloudflareAccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			Endpoint:        cfg.S3Endpoint,
		})
	}
	log.Infof("✅ Storing artifacts under %s", cfg.ArtifactDir)
	return utils.NewLocalArtifactStore(cfg.ArtifactDir)
}

// newLeaderboardCache prefers Redis and falls back to an in-process cache.
func newLeaderboardCache(ctx context.Context, cfg *config.Config) (services.LeaderboardCache, *redis.Client) {
	if cfg.RedisURL == "" {
		return services.NewMemoryLeaderboardCache(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warnf("⚠️  invalid REDIS_URL, using in-process leaderboard cache: %v", err)
		return services.NewMemoryLeaderboardCache(), nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warnf("⚠️  redis unreachable, using in-process leaderboard cache: %v", err)
		client.Close()
		return services.NewMemoryLeaderboardCache(), nil
	}
	log.Info("✅ Leaderboard cache backed by redis")
	return services.NewRedisLeaderboardCache(client, cfg.LeaderboardCacheTTL), client
}
