package notifier

import (
	"context"
	"fmt"
	"sync"
)

// Memory stores published payloads for inspection. It backs tests and
// deployments that have no realtime transport configured.
type Memory struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

var _ Publisher = (*Memory)(nil)

// NewMemory returns a memory Publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the message and returns a pseudo ID.
func (m *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(m.messages)), nil
}

// Messages returns the recorded publishes.
func (m *Memory) Messages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PublishedMessage, len(m.messages))
	copy(out, m.messages)
	return out
}
