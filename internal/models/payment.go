package models

import (
	"time"
)

type IntentStatus string

const (
	IntentCreated IntentStatus = "created"
	IntentPaid    IntentStatus = "paid"
	IntentFailed  IntentStatus = "failed"
)

// PaymentIntent is the processor-side pending-payment record for one order.
// At most one intent exists per order.
type PaymentIntent struct {
	ID        string       `json:"id" gorm:"primaryKey"`
	OrderID   string       `json:"order_id" gorm:"uniqueIndex;not null"`
	Amount    float64      `json:"amount" gorm:"not null"`
	Currency  string       `json:"currency" gorm:"default:'INR'"`
	Status    IntentStatus `json:"status" gorm:"default:'created'"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
