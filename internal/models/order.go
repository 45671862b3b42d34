package models

import (
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderPickedUp  OrderStatus = "picked_up"
	OrderOnTheWay  OrderStatus = "on_the_way"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentOnline         PaymentMethod = "online"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// OrderAddress is the delivery destination captured at checkout.
type OrderAddress struct {
	Label       string  `json:"label"`
	FullAddress string  `json:"full_address"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// OrderItem is a single cart line, embedded in the order as JSON.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	IsVeg     bool    `json:"is_veg"`
}

type Order struct {
	ID              string        `json:"id" gorm:"primaryKey"`
	UserID          string        `json:"user_id" gorm:"not null;index"`
	Items           OrderItems    `json:"items" gorm:"serializer:json"`
	Subtotal        float64       `json:"subtotal" gorm:"not null"`
	DeliveryFee     float64       `json:"delivery_fee"`
	Discount        float64       `json:"discount"`
	FinalAmount     float64       `json:"final_amount" gorm:"not null"`
	Status          OrderStatus   `json:"status" gorm:"default:'pending';index"`
	PaymentMethod   PaymentMethod `json:"payment_method" gorm:"not null"`
	PaymentStatus   PaymentStatus `json:"payment_status" gorm:"default:'pending'"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	PaymentID       string        `json:"payment_id,omitempty"`
	PaymentError    string        `json:"payment_error,omitempty"`
	CouponCode      string        `json:"coupon_code,omitempty"`
	DeliveryAddress OrderAddress  `json:"delivery_address" gorm:"embedded;embeddedPrefix:address_"`
	AssignedAgentID string        `json:"assigned_agent_id,omitempty" gorm:"index"`
	CancelledBy     string        `json:"cancelled_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ConfirmedAt     *time.Time    `json:"confirmed_at,omitempty"`
	PickedUpAt      *time.Time    `json:"picked_up_at,omitempty"`
	DeliveredAt     *time.Time    `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
}

type OrderItems []OrderItem

// Subtotal sums quantity times unit price across the lines.
func (items OrderItems) Subtotal() float64 {
	var total float64
	for _, it := range items {
		total += float64(it.Quantity) * it.UnitPrice
	}
	return total
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// InTransit reports whether the order is physically moving; cancellation is
// rejected from these statuses.
func (s OrderStatus) InTransit() bool {
	return s == OrderPickedUp || s == OrderOnTheWay
}

// Tracked reports whether live position broadcast is active for this status.
func (s OrderStatus) Tracked() bool {
	return s == OrderPickedUp || s == OrderOnTheWay
}

// nextStatus is the happy-path progression; cancelled is handled separately.
var nextStatus = map[OrderStatus]OrderStatus{
	OrderPending:   OrderConfirmed,
	OrderConfirmed: OrderPreparing,
	OrderPreparing: OrderReady,
	OrderReady:     OrderPickedUp,
	OrderPickedUp:  OrderOnTheWay,
	OrderOnTheWay:  OrderDelivered,
}

// CanTransition reports whether from -> to is a legal edge of the order
// state machine.
func CanTransition(from, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == OrderCancelled {
		return !from.InTransit()
	}
	return nextStatus[from] == to
}
