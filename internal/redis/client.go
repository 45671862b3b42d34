package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quickbite/internal/models"
)

type Client struct {
	rdb *redis.Client
}

func Initialize(redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	// Test connection
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

func positionKey(orderID string) string {
	return "tracking:position:" + orderID
}

func webhookEventKey(eventID string) string {
	return "payment:webhook:event:" + eventID
}

// trackingControlChannel carries order-teardown notices from the API server
// to the tracker server.
const trackingControlChannel = "tracking:control"

// Last-known-position cache; lets a reconnecting client fetch the most
// recent sample without waiting for the next live one.

func (c *Client) SetLastPosition(ctx context.Context, pos *models.Position, ttl time.Duration) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	return c.rdb.Set(ctx, positionKey(pos.OrderID), data, ttl).Err()
}

func (c *Client) GetLastPosition(ctx context.Context, orderID string) (*models.Position, error) {
	val, err := c.rdb.Get(ctx, positionKey(orderID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	var pos models.Position
	if err := json.Unmarshal([]byte(val), &pos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return &pos, nil
}

func (c *Client) DeleteLastPosition(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, positionKey(orderID)).Err()
}

// MarkWebhookEvent records a processor event id with SETNX. Returns true the
// first time an event id is seen; false means a duplicate delivery.
func (c *Client) MarkWebhookEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, webhookEventKey(eventID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return ok, nil
}

// UnmarkWebhookEvent releases a marker set by MarkWebhookEvent, used when
// applying the event failed and the processor's retry must get through.
func (c *Client) UnmarkWebhookEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, webhookEventKey(eventID)).Err()
}

// PublishTrackingClosed notifies tracker instances that an order reached a
// terminal status and its room must be torn down.
func (c *Client) PublishTrackingClosed(ctx context.Context, orderID string) error {
	return c.rdb.Publish(ctx, trackingControlChannel, orderID).Err()
}

// SubscribeTrackingControl yields order ids whose rooms should close. The
// returned channel closes when ctx is cancelled.
func (c *Client) SubscribeTrackingControl(ctx context.Context) <-chan string {
	sub := c.rdb.Subscribe(ctx, trackingControlChannel)
	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
