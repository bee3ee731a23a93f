package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces allocation events on the shared Redis instance.
const channelPrefix = "allograft:events:"

// Redis publishes events over Redis pub/sub, one channel per event name.
// Suitable when the surrounding CRUD layer already runs Redis and consumers
// only need live notification, not replay.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed publisher.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Name, err)
	}
	if err := r.client.Publish(ctx, channelPrefix+event.Name, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Name, err)
	}
	return nil
}
