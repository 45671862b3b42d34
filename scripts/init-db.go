package main

import (
	"fmt"
	"log"
	"time"

	"quickbite/internal/config"
	"quickbite/internal/database"
	"quickbite/internal/models"
	"quickbite/internal/repository"
)

func main() {
	fmt.Println("Initializing database...")

	// Load configuration
	cfg := config.Load()

	// Initialize database (runs automigrate)
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Create sample coupons for local development
	fmt.Println("Creating sample coupons...")
	couponRepo := repository.NewCouponRepository(db)

	now := time.Now()
	samples := []*models.Coupon{
		{
			Code:            "SAVE10",
			DiscountPercent: 10,
			MaxDiscount:     50,
			MinOrderAmount:  200,
			ValidFrom:       now,
			ValidTo:         now.AddDate(0, 1, 0),
			UsageLimit:      100,
			IsActive:        true,
		},
		{
			Code:           "FLAT50",
			DiscountFlat:   50,
			MinOrderAmount: 300,
			ValidFrom:      now,
			ValidTo:        now.AddDate(0, 1, 0),
			UsageLimit:     50,
			IsActive:       true,
		},
	}

	for _, coupon := range samples {
		if _, err := couponRepo.GetByCode(coupon.Code); err == nil {
			fmt.Printf("Coupon %s already exists\n", coupon.Code)
			continue
		}
		if err := couponRepo.Create(coupon); err != nil {
			log.Printf("Warning: Failed to create coupon %s: %v", coupon.Code, err)
		} else {
			fmt.Printf("Created coupon %s\n", coupon.Code)
		}
	}

	fmt.Println("Database initialization completed successfully!")
}
