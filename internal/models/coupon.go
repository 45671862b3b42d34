package models

import (
	"time"
)

// Coupon is a limited-use discount code. Codes are stored upper-cased and
// matched case-insensitively. UsedCount never exceeds UsageLimit; the
// increment is guarded inside the store transaction, not by read-then-write.
type Coupon struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Code            string    `json:"code" gorm:"uniqueIndex;not null"`
	DiscountPercent float64   `json:"discount_percent"`
	DiscountFlat    float64   `json:"discount_flat"`
	MaxDiscount     float64   `json:"max_discount"`
	MinOrderAmount  float64   `json:"min_order_amount"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidTo         time.Time `json:"valid_to"`
	UsageLimit      int       `json:"usage_limit" gorm:"not null"`
	UsedCount       int       `json:"used_count" gorm:"default:0"`
	IsActive        bool      `json:"is_active" gorm:"default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DiscountFor computes the discount this coupon grants on the given order
// amount. Percentage coupons are capped by MaxDiscount when set; the result
// never exceeds the order amount itself.
func (c *Coupon) DiscountFor(orderAmount float64) float64 {
	var discount float64
	if c.DiscountPercent > 0 {
		discount = orderAmount * c.DiscountPercent / 100
		if c.MaxDiscount > 0 && discount > c.MaxDiscount {
			discount = c.MaxDiscount
		}
	} else {
		discount = c.DiscountFlat
	}
	if discount > orderAmount {
		discount = orderAmount
	}
	return discount
}
