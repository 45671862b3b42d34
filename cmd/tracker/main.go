package main

import (
	"context"
	"log"
	"time"

	"quickbite/internal/config"
	"quickbite/internal/database"
	"quickbite/internal/handlers"
	"quickbite/internal/middleware"
	"quickbite/internal/redis"
	"quickbite/internal/repository"
	"quickbite/internal/services"
	"quickbite/internal/tracking"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize Redis
	redisClient, err := redis.Initialize(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	trackingRepo := repository.NewTrackingRepository(db)

	// Initialize tracking service around its own room registry
	hub := tracking.NewHub()
	trackingService := services.NewTrackingService(orderRepo, trackingRepo, redisClient, hub, services.TrackingConfig{
		MinInterval:     time.Duration(cfg.TrackingMinIntervalSec) * time.Second,
		MinDisplacement: cfg.TrackingMinDisplacement,
		PersistInterval: time.Duration(cfg.TrackingPersistSec) * time.Second,
	})

	// Close rooms when the API server reports a terminal order
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trackingService.RunControlLoop(ctx, redisClient.SubscribeTrackingControl(ctx))

	heartbeat := time.Duration(cfg.TrackingHeartbeatSec) * time.Second
	trackingHandler := handlers.NewTrackingHandler(trackingService, heartbeat)

	// Setup routes
	router := gin.Default()

	ws := router.Group("/ws", middleware.Authenticate(cfg.JWTSecret))
	{
		ws.GET("/orders/:id/publish", trackingHandler.Publish)
		ws.GET("/orders/:id/track", trackingHandler.Subscribe)
	}

	api := router.Group("/api", middleware.Authenticate(cfg.JWTSecret))
	{
		api.GET("/orders/:id/tracking", trackingHandler.LastPosition)
	}

	// Start server
	log.Printf("Tracker starting on port %s", cfg.TrackerPort)
	if err := router.Run(":" + cfg.TrackerPort); err != nil {
		log.Fatal("Failed to start tracker:", err)
	}
}
