package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDeliveryTTL = 24 * time.Hour

func deliveryKey(eventID string) string { return "taskreminder:delivered:" + eventID }

// DeliveryLog remembers which reminder events the relay has delivered so a
// redelivered Kafka message is not sent twice.
type DeliveryLog interface {
	Delivered(ctx context.Context, eventID string) (bool, error)
	MarkDelivered(ctx context.Context, eventID, channel string) error
}

type deliveryLog struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeliveryLog returns a Redis-backed DeliveryLog. Entries expire after
// ttl, or 24 hours when ttl is zero.
func NewDeliveryLog(client *redis.Client, ttl time.Duration) DeliveryLog {
	if ttl <= 0 {
		ttl = defaultDeliveryTTL
	}
	return &deliveryLog{client: client, ttl: ttl}
}

func (d *deliveryLog) Delivered(ctx context.Context, eventID string) (bool, error) {
	_, err := d.client.Get(ctx, deliveryKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get delivery %s: %w", eventID, err)
	}
	return true, nil
}

func (d *deliveryLog) MarkDelivered(ctx context.Context, eventID, channel string) error {
	if err := d.client.Set(ctx, deliveryKey(eventID), channel, d.ttl).Err(); err != nil {
		return fmt.Errorf("set delivery %s: %w", eventID, err)
	}
	return nil
}
