package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"math"
	"time"

	"quickbite/internal/apperr"
	"quickbite/internal/auth"
	"quickbite/internal/models"
	"quickbite/internal/repository"
	"quickbite/pkg/razorpay"

	"gorm.io/gorm"
)

// PaymentProcessor is the slice of the external processor this service uses.
type PaymentProcessor interface {
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.OrderResponse, error)
}

// WebhookDeduper marks processor event ids so true duplicate deliveries are
// skipped. The paid-stays-paid rule remains the primary idempotency guard;
// this only hardens additive future effects. A marker is released again when
// applying the event fails, so the processor's retry is not mistaken for a
// duplicate.
type WebhookDeduper interface {
	MarkWebhookEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	UnmarkWebhookEvent(ctx context.Context, eventID string) error
}

type PaymentService interface {
	CreateIntent(ctx context.Context, principal auth.Principal, orderID string) (*models.PaymentIntent, error)
	VerifyInteractive(ctx context.Context, principal auth.Principal, intentID, paymentID, signature, orderID string) error
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) error
}

type paymentService struct {
	orderRepo     repository.OrderRepository
	paymentRepo   repository.PaymentRepository
	processor     PaymentProcessor
	deduper       WebhookDeduper
	keySecret     string
	webhookSecret string
}

func NewPaymentService(
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	processor PaymentProcessor,
	deduper WebhookDeduper,
	keySecret, webhookSecret string,
) PaymentService {
	return &paymentService{
		orderRepo:     orderRepo,
		paymentRepo:   paymentRepo,
		processor:     processor,
		deduper:       deduper,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

// CreateIntent mints a processor intent for an order. Creation is idempotent
// per order: a second call returns the existing intent. The charged amount
// comes from the order record, never from the client.
func (s *paymentService) CreateIntent(ctx context.Context, principal auth.Principal, orderID string) (*models.PaymentIntent, error) {
	if orderID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "order id is required")
	}

	order, err := s.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != principal.UID {
		return nil, apperr.New(apperr.PermissionDenied, "not authorized for this order")
	}
	if order.PaymentMethod != models.PaymentOnline {
		return nil, apperr.New(apperr.InvalidArgument, "order is not payable online")
	}

	if order.PaymentIntentID != "" {
		intent, err := s.paymentRepo.GetIntentByID(order.PaymentIntentID)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.Internal, "failed to load payment intent", err)
		}
	}

	resp, err := s.processor.CreateOrder(ctx, razorpay.CreateOrderRequest{
		Amount:   toPaise(order.FinalAmount),
		Currency: "INR",
		Receipt:  order.ID,
		// The processor echoes these back in webhook events, letting the
		// webhook authenticate the order without trusting caller identity.
		Notes: map[string]string{
			"order_id": order.ID,
			"user_id":  order.UserID,
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "payment intent creation failed", err)
	}

	intent := &models.PaymentIntent{
		ID:       resp.ID,
		OrderID:  order.ID,
		Amount:   order.FinalAmount,
		Currency: resp.Currency,
		Status:   models.IntentCreated,
	}
	if err := s.paymentRepo.CreateIntent(intent); err != nil {
		// A concurrent request may have won the order_id unique index;
		// answer with its intent instead of failing.
		if existing, lookupErr := s.paymentRepo.GetIntentByOrderID(order.ID); lookupErr == nil {
			return existing, nil
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to persist payment intent", err)
	}

	// Written for auditability; pending is already the default.
	order.PaymentIntentID = intent.ID
	order.PaymentStatus = models.PaymentStatusPending
	if err := s.orderRepo.Update(order); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to update order", err)
	}

	return intent, nil
}

func toPaise(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// VerifyInteractive checks the signature the payment page hands back after a
// successful checkout: HMAC-SHA256 over "intentID|paymentID" with the key
// secret.
func (s *paymentService) VerifyInteractive(ctx context.Context, principal auth.Principal, intentID, paymentID, signature, orderID string) error {
	if intentID == "" || paymentID == "" || signature == "" || orderID == "" {
		return apperr.New(apperr.InvalidArgument, "missing payment verification data")
	}

	order, err := s.loadOrder(orderID)
	if err != nil {
		return err
	}
	if order.UserID != principal.UID {
		return apperr.New(apperr.PermissionDenied, "not authorized for this order")
	}

	expected := signHMAC(s.keySecret, []byte(intentID+"|"+paymentID))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		if order.PaymentStatus == models.PaymentStatusPaid {
			// A paid order is never downgraded by a bad late callback.
			log.Printf("Ignoring failed verification for already-paid order %s", order.ID)
			return apperr.New(apperr.PermissionDenied, "payment verification failed")
		}
		order.PaymentStatus = models.PaymentStatusFailed
		order.PaymentError = "signature verification failed"
		if err := s.orderRepo.Update(order); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to update order", err)
		}
		return apperr.New(apperr.PermissionDenied, "payment verification failed")
	}

	return s.markPaid(order, paymentID)
}

// webhookEnvelope mirrors the processor's event shape; the order id travels
// in notes set at intent-creation time.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string            `json:"id"`
				OrderID          string            `json:"order_id"`
				Notes            map[string]string `json:"notes"`
				ErrorDescription string            `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook authenticates the asynchronous processor callback purely by
// its signature over the exact raw payload bytes, then applies the event.
func (s *paymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	expected := signHMAC(s.webhookSecret, rawBody)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperr.New(apperr.PermissionDenied, "invalid webhook signature")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "malformed webhook payload", err)
	}

	payment := envelope.Payload.Payment.Entity
	orderID := payment.Notes["order_id"]
	if orderID == "" {
		return apperr.New(apperr.InvalidArgument, "webhook payload missing order reference")
	}

	var marked bool
	eventKey := envelope.Event + ":" + payment.ID
	if s.deduper != nil && payment.ID != "" {
		first, err := s.deduper.MarkWebhookEvent(ctx, eventKey, 7*24*time.Hour)
		if err != nil {
			// Dedup is best effort; the paid-stays-paid rule below still holds.
			log.Printf("Webhook dedup check failed: %v", err)
		} else if !first {
			log.Printf("Skipping duplicate webhook event %s for payment %s", envelope.Event, payment.ID)
			return nil
		} else {
			marked = true
		}
	}

	order, err := s.loadOrder(orderID)
	if err != nil {
		s.releaseWebhookMarker(ctx, marked, eventKey)
		return err
	}

	switch envelope.Event {
	case "payment.captured":
		err = s.markPaid(order, payment.ID)
	case "payment.failed":
		err = s.markFailed(order, payment.ErrorDescription)
	default:
		log.Printf("Ignoring unhandled webhook event %q", envelope.Event)
		return nil
	}
	if err != nil {
		// The processor will retry; the marker must not turn that retry
		// into a skipped duplicate.
		s.releaseWebhookMarker(ctx, marked, eventKey)
	}
	return err
}

func (s *paymentService) releaseWebhookMarker(ctx context.Context, marked bool, eventKey string) {
	if !marked {
		return
	}
	if err := s.deduper.UnmarkWebhookEvent(ctx, eventKey); err != nil {
		log.Printf("Failed to release webhook dedup marker %s: %v", eventKey, err)
	}
}

// markPaid flips payment status to paid exactly once; repeat confirmations
// are accepted as no-ops.
func (s *paymentService) markPaid(order *models.Order, paymentID string) error {
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil
	}

	now := time.Now()
	order.PaymentStatus = models.PaymentStatusPaid
	order.PaymentID = paymentID
	order.PaymentError = ""
	if order.PaidAt == nil {
		order.PaidAt = &now
	}
	if err := s.orderRepo.Update(order); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update order", err)
	}

	s.updateIntentStatus(order.PaymentIntentID, models.IntentPaid)
	return nil
}

func (s *paymentService) markFailed(order *models.Order, reason string) error {
	if order.PaymentStatus == models.PaymentStatusPaid {
		// Never downgrade a paid order.
		log.Printf("Ignoring payment failure for already-paid order %s: %s", order.ID, reason)
		return nil
	}

	order.PaymentStatus = models.PaymentStatusFailed
	order.PaymentError = reason
	if err := s.orderRepo.Update(order); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to update order", err)
	}

	s.updateIntentStatus(order.PaymentIntentID, models.IntentFailed)
	return nil
}

func (s *paymentService) updateIntentStatus(intentID string, status models.IntentStatus) {
	if intentID == "" {
		return
	}
	intent, err := s.paymentRepo.GetIntentByID(intentID)
	if err != nil {
		log.Printf("Failed to load intent %s: %v", intentID, err)
		return
	}
	intent.Status = status
	if err := s.paymentRepo.UpdateIntent(intent); err != nil {
		log.Printf("Failed to update intent %s: %v", intentID, err)
	}
}

func (s *paymentService) loadOrder(orderID string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "order not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load order", err)
	}
	return order, nil
}

func signHMAC(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
