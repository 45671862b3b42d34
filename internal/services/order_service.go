package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"quickbite/internal/apperr"
	"quickbite/internal/auth"
	"quickbite/internal/events"
	"quickbite/internal/models"
	"quickbite/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderDraft is the client-supplied part of a new order. Everything money-
// related is computed server-side.
type OrderDraft struct {
	Items         []models.OrderItem   `json:"items"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	CouponCode    string               `json:"coupon_code"`
	Address       models.OrderAddress  `json:"address"`
}

// Pricing carries the fee policy the coordinator applies at checkout.
type Pricing struct {
	DeliveryFee       float64
	FreeDeliveryAbove float64
}

// TrackingCleaner tears down the live-tracking side channel when an order
// reaches a terminal status.
type TrackingCleaner interface {
	Teardown(ctx context.Context, orderID string) error
}

type OrderService interface {
	Create(principal auth.Principal, draft *OrderDraft) (*models.Order, error)
	GetByID(principal auth.Principal, orderID string) (*models.Order, error)
	GetByUser(principal auth.Principal) ([]models.Order, error)
	GetActive(principal auth.Principal) ([]models.Order, error)
	AssignAgent(principal auth.Principal, orderID, agentID string) error
	UpdateStatus(ctx context.Context, principal auth.Principal, orderID string, next models.OrderStatus) (*models.Order, error)
	Cancel(ctx context.Context, principal auth.Principal, orderID string) (*models.Order, error)
}

type orderService struct {
	orderRepo  repository.OrderRepository
	couponSvc  CouponService
	publisher  events.Publisher
	trackingCl TrackingCleaner
	pricing    Pricing
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	couponSvc CouponService,
	publisher events.Publisher,
	trackingCl TrackingCleaner,
	pricing Pricing,
) OrderService {
	return &orderService{
		orderRepo:  orderRepo,
		couponSvc:  couponSvc,
		publisher:  publisher,
		trackingCl: trackingCl,
		pricing:    pricing,
	}
}

// maxTxRetries bounds transparent retries of the checkout transaction on
// transient aborts. A genuinely exhausted coupon is not transient and
// surfaces immediately.
const maxTxRetries = 3

func (s *orderService) Create(principal auth.Principal, draft *OrderDraft) (*models.Order, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	subtotal := models.OrderItems(draft.Items).Subtotal()
	fee := s.pricing.DeliveryFee
	if s.pricing.FreeDeliveryAbove > 0 && subtotal >= s.pricing.FreeDeliveryAbove {
		fee = 0
	}

	order := &models.Order{
		ID:              uuid.NewString(),
		UserID:          principal.UID,
		Items:           draft.Items,
		Subtotal:        subtotal,
		DeliveryFee:     fee,
		Status:          models.OrderPending,
		PaymentMethod:   draft.PaymentMethod,
		PaymentStatus:   models.PaymentStatusPending,
		CouponCode:      strings.ToUpper(draft.CouponCode),
		DeliveryAddress: draft.Address,
	}

	if draft.CouponCode == "" {
		order.FinalAmount = finalAmount(subtotal, fee, 0)
		if err := s.orderRepo.Create(order); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to create order", err)
		}
		return order, nil
	}

	// Resolve the coupon up front so a bad code fails fast; eligibility is
	// re-checked inside the transaction where it counts.
	if _, _, err := s.couponSvc.Validate(draft.CouponCode, subtotal); err != nil {
		return nil, err
	}

	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
			discount, redeemErr := s.couponSvc.RedeemTx(tx, draft.CouponCode, subtotal)
			if redeemErr != nil {
				return redeemErr
			}
			order.Discount = discount
			order.FinalAmount = finalAmount(subtotal, fee, discount)
			return s.orderRepo.CreateTx(tx, order)
		})
		if err == nil || !isRetryableTxError(err) {
			break
		}
		log.Printf("Retrying order transaction for %s after transient abort: %v", order.ID, err)
	}
	if err != nil {
		if !isAppError(err) {
			return nil, apperr.Wrap(apperr.Internal, "failed to create order", err)
		}
		return nil, err
	}

	return order, nil
}

func validateDraft(draft *OrderDraft) error {
	if draft == nil || len(draft.Items) == 0 {
		return apperr.New(apperr.InvalidArgument, "order must contain at least one item")
	}
	for _, item := range draft.Items {
		if item.Quantity <= 0 {
			return apperr.New(apperr.InvalidArgument, "item quantity must be positive")
		}
		if item.UnitPrice < 0 {
			return apperr.New(apperr.InvalidArgument, "item price must not be negative")
		}
	}
	if draft.Address.FullAddress == "" {
		return apperr.New(apperr.InvalidArgument, "delivery address is required")
	}
	switch draft.PaymentMethod {
	case models.PaymentOnline, models.PaymentCashOnDelivery:
	default:
		return apperr.New(apperr.InvalidArgument, "unknown payment method")
	}
	return nil
}

func finalAmount(subtotal, fee, discount float64) float64 {
	total := subtotal + fee - discount
	if total < 0 {
		total = 0
	}
	return total
}

func isAppError(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e)
}

// isRetryableTxError matches store-level transaction aborts worth retrying;
// everything else is a definitive outcome.
func isRetryableTxError(err error) bool {
	if err == nil || isAppError(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func (s *orderService) GetByID(principal auth.Principal, orderID string) (*models.Order, error) {
	order, err := s.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if !canView(principal, order) {
		return nil, apperr.New(apperr.PermissionDenied, "not authorized for this order")
	}
	return order, nil
}

func (s *orderService) GetByUser(principal auth.Principal) ([]models.Order, error) {
	return s.orderRepo.GetByUserID(principal.UID)
}

func (s *orderService) GetActive(principal auth.Principal) ([]models.Order, error) {
	if !principal.IsAdmin() {
		return nil, apperr.New(apperr.PermissionDenied, "admin access required")
	}
	return s.orderRepo.GetActive()
}

func (s *orderService) AssignAgent(principal auth.Principal, orderID, agentID string) error {
	if !principal.IsAdmin() {
		return apperr.New(apperr.PermissionDenied, "admin access required")
	}
	if agentID == "" {
		return apperr.New(apperr.InvalidArgument, "agent id is required")
	}
	order, err := s.loadOrder(orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() || order.Status.InTransit() {
		return apperr.New(apperr.FailedPrecondition, "order can no longer be reassigned")
	}
	order.AssignedAgentID = agentID
	if err := s.orderRepo.Update(order); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to assign agent", err)
	}
	return nil
}

func (s *orderService) Cancel(ctx context.Context, principal auth.Principal, orderID string) (*models.Order, error) {
	return s.UpdateStatus(ctx, principal, orderID, models.OrderCancelled)
}

// UpdateStatus drives the order state machine. Side effects (timestamps,
// events, tracking teardown) fire only on an actual change; writing the
// current status again is a no-op.
func (s *orderService) UpdateStatus(ctx context.Context, principal auth.Principal, orderID string, next models.OrderStatus) (*models.Order, error) {
	var updated *models.Order
	var prev models.OrderStatus
	changed := false

	err := s.orderRepo.Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetByIDTx(tx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.NotFound, "order not found")
			}
			return apperr.Wrap(apperr.Internal, "failed to load order", err)
		}

		if order.Status == next {
			// The no-op answer still carries the full order; only parties
			// who may see it get the shortcut.
			if !canView(principal, order) {
				return apperr.New(apperr.PermissionDenied, "not authorized for this order")
			}
			updated = order
			return nil
		}

		if !models.CanTransition(order.Status, next) {
			return apperr.Newf(apperr.FailedPrecondition, "invalid transition from %s to %s", order.Status, next)
		}
		if err := authorizeTransition(principal, order, next); err != nil {
			return err
		}

		prev = order.Status
		order.Status = next
		stampTransition(order, next, principal)

		if err := s.orderRepo.UpdateTx(tx, order); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to update order", err)
		}
		updated = order
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterTransition(ctx, updated, prev)
	}
	return updated, nil
}

// stampTransition records the first time each status was entered; repeated
// entries never overwrite an existing stamp.
func stampTransition(order *models.Order, next models.OrderStatus, principal auth.Principal) {
	now := time.Now()
	switch next {
	case models.OrderConfirmed:
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}
	case models.OrderPickedUp:
		if order.PickedUpAt == nil {
			order.PickedUpAt = &now
		}
	case models.OrderDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	case models.OrderCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
		if principal.IsAdmin() {
			order.CancelledBy = "admin"
		} else {
			order.CancelledBy = "user"
		}
	}
}

func (s *orderService) afterTransition(ctx context.Context, order *models.Order, prev models.OrderStatus) {
	if s.publisher != nil {
		evt := events.StatusChange{
			OrderID: order.ID,
			UserID:  order.UserID,
			From:    prev,
			To:      order.Status,
			At:      time.Now(),
		}
		if err := s.publisher.PublishStatusChange(ctx, evt); err != nil {
			log.Printf("Failed to publish status change for order %s: %v", order.ID, err)
		}
	}

	if order.Status.IsTerminal() && s.trackingCl != nil {
		if err := s.trackingCl.Teardown(ctx, order.ID); err != nil {
			log.Printf("Failed to tear down tracking for order %s: %v", order.ID, err)
		}
	}
}

// authorizeTransition enforces who may drive each edge: kitchen statuses by
// admins, physical movement by the assigned agent, cancellation by the
// owner or an admin.
func authorizeTransition(principal auth.Principal, order *models.Order, next models.OrderStatus) error {
	if next == models.OrderCancelled {
		if principal.IsAdmin() || principal.UID == order.UserID {
			return nil
		}
		return apperr.New(apperr.PermissionDenied, "not authorized to cancel this order")
	}

	switch next {
	case models.OrderConfirmed, models.OrderPreparing, models.OrderReady:
		if !principal.IsAdmin() {
			return apperr.New(apperr.PermissionDenied, "admin access required")
		}
	case models.OrderPickedUp, models.OrderOnTheWay, models.OrderDelivered:
		if !principal.IsAgent() || principal.UID != order.AssignedAgentID {
			return apperr.New(apperr.PermissionDenied, "only the assigned delivery agent can report this status")
		}
	}
	return nil
}

func canView(principal auth.Principal, order *models.Order) bool {
	return principal.IsAdmin() ||
		principal.UID == order.UserID ||
		(principal.IsAgent() && principal.UID == order.AssignedAgentID)
}

func (s *orderService) loadOrder(orderID string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.NotFound, "order not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to load order", err)
	}
	return order, nil
}
