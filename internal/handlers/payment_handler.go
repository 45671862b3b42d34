package handlers

import (
	"io"
	"net/http"

	"quickbite/internal/apperr"
	"quickbite/internal/middleware"
	"quickbite/internal/services"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	paymentService services.PaymentService
}

func NewPaymentHandler(paymentService services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req struct {
		OrderID string `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	intent, err := h.paymentService.CreateIntent(c.Request.Context(), principal, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"intent_id": intent.ID,
		"amount":    intent.Amount,
		"currency":  intent.Currency,
	})
}

// Verify is the interactive one-shot verification the payment page calls
// after checkout completes.
func (h *PaymentHandler) Verify(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req struct {
		IntentID  string `json:"intent_id" binding:"required"`
		PaymentID string `json:"payment_id" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		OrderID   string `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	err := h.paymentService.VerifyInteractive(c.Request.Context(), principal, req.IntentID, req.PaymentID, req.Signature, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

// Webhook is the unauthenticated asynchronous entry point; authenticity
// comes solely from the signature over the raw body.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	signature := c.GetHeader("X-Razorpay-Signature")
	if err := h.paymentService.HandleWebhook(c.Request.Context(), rawBody, signature); err != nil {
		switch apperr.KindOf(err) {
		case apperr.PermissionDenied, apperr.InvalidArgument, apperr.NotFound:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
