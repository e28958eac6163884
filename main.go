package main

import (
	"context"
	"time"

	"geoquiz/config"
	"geoquiz/handlers"
	"geoquiz/middleware"
	"geoquiz/models"
	"geoquiz/routes"
	"geoquiz/services"
	"geoquiz/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sessionTTL = 24 * time.Hour

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared state store
	var st store.Store
	switch cfg.StoreBackend {
	case "memory":
		st = store.NewMemoryStore()
		logger.Warn("using in-memory store; sessions do not survive a restart")
	default:
		redisStore := store.NewRedisStore(config.InitRedis(cfg), store.DefaultPrefix, sessionTTL)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisStore.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		st = redisStore
	}

	// Results archive
	results := services.NewResultsService(nil)
	if cfg.ArchiveEnabled {
		db, err := config.InitDB(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		err = db.AutoMigrate(
			&models.GameResult{},
			&models.PlayerResult{},
			&models.TurnRecord{},
		)
		if err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		results = services.NewResultsService(db)
	}

	// Initialize services
	manager := services.NewSessionManager(st, cfg.Rules(), logger, services.WithArchiver(results))
	defer manager.Close()

	hub := services.NewHub(manager, st, cfg.HeartbeatInterval(), logger)
	go hub.Run(ctx)

	sweeper := services.NewSweeper(manager, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		logger.Fatal("Failed to start sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	routes.SetupRoutes(router, routes.Handlers{
		Auth:      handlers.NewAuthHandler(cfg.JWTSecret),
		Session:   handlers.NewSessionHandler(manager),
		Results:   handlers.NewResultsHandler(results, cfg.PublicURL),
		Hub:       hub,
		Manager:   manager,
		JWTSecret: cfg.JWTSecret,
		Origins:   cfg.CORSOrigins,
		Logger:    logger,
	})

	// Start server
	addr := cfg.BindAddress + ":" + cfg.Port
	logger.Info("Server starting", zap.String("addr", addr), zap.String("store", cfg.StoreBackend))
	if err := router.Run(addr); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}
