package models

import (
	"time"
)

// TrackingSession mirrors the delivery agent's last known position for one
// order. Written only by the tracking service; deleted when the order reaches
// a terminal status.
type TrackingSession struct {
	OrderID   string      `json:"order_id" gorm:"primaryKey"`
	AgentID   string      `json:"agent_id" gorm:"not null"`
	Lat       float64     `json:"lat"`
	Lng       float64     `json:"lng"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Position is a single coordinate sample flowing through a tracking room.
type Position struct {
	OrderID string    `json:"order_id"`
	AgentID string    `json:"agent_id"`
	Lat     float64   `json:"lat"`
	Lng     float64   `json:"lng"`
	At      time.Time `json:"at"`
}
