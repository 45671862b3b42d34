package main

import (
	"log"
	"quickbite/internal/config"
	"quickbite/internal/database"
	"quickbite/internal/events"
	"quickbite/internal/handlers"
	"quickbite/internal/middleware"
	"quickbite/internal/redis"
	"quickbite/internal/repository"
	"quickbite/internal/services"
	"quickbite/pkg/razorpay"

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

	// Initialize payment processor client
	processor := razorpay.NewClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret)

	// Initialize event producer
	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	trackingRepo := repository.NewTrackingRepository(db)

	// Initialize services
	couponService := services.NewCouponService(couponRepo)
	trackingCleaner := services.NewTrackingCleaner(trackingRepo, redisClient)
	orderService := services.NewOrderService(orderRepo, couponService, producer, trackingCleaner, services.Pricing{
		DeliveryFee:       cfg.DeliveryFee,
		FreeDeliveryAbove: cfg.FreeDeliveryAbove,
	})
	paymentService := services.NewPaymentService(orderRepo, paymentRepo, processor, redisClient,
		cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)

	// Initialize handlers
	orderHandler := handlers.NewOrderHandler(orderService)
	couponHandler := handlers.NewCouponHandler(couponService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)

	// Setup routes
	router := gin.Default()

	// Webhook authenticates by signature alone, no bearer token
	router.POST("/api/payments/webhook", paymentHandler.Webhook)

	api := router.Group("/api", middleware.Authenticate(cfg.JWTSecret))
	{
		api.POST("/orders", orderHandler.Create)
		api.GET("/orders", orderHandler.ListMine)
		api.GET("/orders/:id", orderHandler.Get)
		api.PATCH("/orders/:id/status", orderHandler.UpdateStatus)
		api.POST("/orders/:id/cancel", orderHandler.Cancel)

		api.POST("/payments/intent", paymentHandler.CreateIntent)
		api.POST("/payments/verify", paymentHandler.Verify)

		api.POST("/coupons/validate", couponHandler.Validate)

		admin := api.Group("/admin", middleware.RequireAdmin())
		{
			admin.GET("/orders", orderHandler.ListActive)
			admin.POST("/orders/:id/assign", orderHandler.AssignAgent)
			admin.POST("/coupons", couponHandler.Create)
			admin.GET("/coupons", couponHandler.List)
			admin.POST("/coupons/:code/deactivate", couponHandler.Deactivate)
		}
	}

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	if err := router.Run(":" + cfg.ServerPort); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
