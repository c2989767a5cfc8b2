package notifier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryRecordsPublishes(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	ctx := context.Background()

	id, err := pub.Publish(ctx, "analysis.task.t1", map[string]string{"status": "completed"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = pub.Publish(ctx, "analysis.task.t2", "payload")
	require.NoError(t, err)

	messages := pub.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "analysis.task.t1", messages[0].Topic)
	require.Equal(t, map[string]string{"status": "completed"}, messages[0].Payload)
	require.Equal(t, "analysis.task.t2", messages[1].Topic)
}

func TestMemoryConcurrentPublish(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pub.Publish(ctx, "topic", "x")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, pub.Messages(), 20)
}

func TestTaskTopic(t *testing.T) {
	t.Parallel()

	require.Equal(t, "analysis.task.t1", TaskTopic("analysis.task", "t1"))
	require.Equal(t, "custom.t1", TaskTopic("custom", "t1"))
}
