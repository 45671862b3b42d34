package handlers

import (
	"net/http"
	"time"

	"quickbite/internal/models"
	"quickbite/internal/services"

	"github.com/gin-gonic/gin"
)

type CouponHandler struct {
	couponService services.CouponService
}

func NewCouponHandler(couponService services.CouponService) *CouponHandler {
	return &CouponHandler{couponService: couponService}
}

// Validate previews the discount for a code without consuming a use; the
// cart screen calls this before checkout.
func (h *CouponHandler) Validate(c *gin.Context) {
	var req struct {
		Code        string  `json:"code" binding:"required"`
		OrderAmount float64 `json:"order_amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	coupon, discount, err := h.couponService.Validate(req.Code, req.OrderAmount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":     coupon.Code,
		"discount": discount,
	})
}

type couponRequest struct {
	Code            string    `json:"code" binding:"required"`
	DiscountPercent float64   `json:"discount_percent"`
	DiscountFlat    float64   `json:"discount_flat"`
	MaxDiscount     float64   `json:"max_discount"`
	MinOrderAmount  float64   `json:"min_order_amount"`
	ValidFrom       time.Time `json:"valid_from" binding:"required"`
	ValidTo         time.Time `json:"valid_to" binding:"required"`
	UsageLimit      int       `json:"usage_limit" binding:"required"`
	IsActive        bool      `json:"is_active"`
}

func (h *CouponHandler) Create(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	coupon := &models.Coupon{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		DiscountFlat:    req.DiscountFlat,
		MaxDiscount:     req.MaxDiscount,
		MinOrderAmount:  req.MinOrderAmount,
		ValidFrom:       req.ValidFrom,
		ValidTo:         req.ValidTo,
		UsageLimit:      req.UsageLimit,
		IsActive:        req.IsActive,
	}
	if err := h.couponService.CreateCoupon(coupon); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"coupon": coupon})
}

func (h *CouponHandler) List(c *gin.Context) {
	coupons, err := h.couponService.GetAllCoupons()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

// Deactivate turns a coupon off without deleting its usage history.
func (h *CouponHandler) Deactivate(c *gin.Context) {
	coupon, err := h.couponService.GetCoupon(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	coupon.IsActive = false
	if err := h.couponService.UpdateCoupon(coupon); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}
