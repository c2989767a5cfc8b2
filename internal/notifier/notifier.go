// Package notifier is the realtime publish primitive used to announce task
// state changes. Delivery is fire-and-forget: no persistence, no
// acknowledgement, zero or more live subscribers.
package notifier

import (
	"context"
	"fmt"
)

// Publisher publishes a payload on a topic and returns a backend message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TaskTopic derives the notification topic for a task ID.
func TaskTopic(prefix, taskID string) string {
	return fmt.Sprintf("%s.%s", prefix, taskID)
}
