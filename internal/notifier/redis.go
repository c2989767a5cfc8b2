package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis publishes payloads on redis pub/sub channels. Subscribers that
// connect after publication never see the event, matching the notifier's
// no-persistence contract.
type Redis struct {
	client *redis.Client
}

var _ Publisher = (*Redis)(nil)

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish marshals the payload to JSON and publishes it on the topic
// channel. The returned ID is the live subscriber count.
func (r *Redis) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	receivers, err := r.client.Publish(ctx, topic, data).Result()
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return strconv.FormatInt(receivers, 10), nil
}
