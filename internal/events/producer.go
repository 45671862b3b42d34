package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"quickbite/internal/models"
)

// StatusChange is emitted once per actual order status transition and feeds
// the downstream notification pipeline.
type StatusChange struct {
	OrderID string             `json:"order_id"`
	UserID  string             `json:"user_id"`
	From    models.OrderStatus `json:"from"`
	To      models.OrderStatus `json:"to"`
	At      time.Time          `json:"at"`
}

// Publisher is what the order state machine needs from the event pipeline.
type Publisher interface {
	PublishStatusChange(ctx context.Context, evt StatusChange) error
}

// Producer publishes status changes to Kafka, keyed by order id so events
// for one order land on one partition in order.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) PublishStatusChange(ctx context.Context, evt StatusChange) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: b,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
