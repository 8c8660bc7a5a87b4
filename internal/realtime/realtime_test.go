package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sdko-org/visitor-beacon/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannels(t *testing.T) {
	assert.Equal(t, "private-user-7", UserChannel(7))
	assert.Equal(t, "project-42", ProjectChannel(42))
}

func decode(t *testing.T, raw []byte) (Envelope, map[string]any) {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return env, data
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub(logging.Discard(), 4)
	a, cancelA := hub.Subscribe("project-1")
	b, cancelB := hub.Subscribe("project-1")
	other, cancelOther := hub.Subscribe("project-2")
	defer cancelA()
	defer cancelB()
	defer cancelOther()

	require.NoError(t, hub.Publish(context.Background(), "project-1", EventVisitorUpdate, map[string]any{"count": 3}))

	for _, ch := range []<-chan []byte{a, b} {
		env, data := decode(t, <-ch)
		assert.Equal(t, EventVisitorUpdate, env.Event)
		assert.EqualValues(t, 3, data["count"])
	}
	assert.Empty(t, other)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(logging.Discard(), 1)
	ch, cancel := hub.Subscribe("c")
	defer cancel()

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, "c", EventUsageUpdate, 1))
	require.NoError(t, hub.Publish(ctx, "c", EventUsageUpdate, 2))

	assert.Len(t, ch, 1)
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(logging.Discard(), 1)
	ch, cancel := hub.Subscribe("c")
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, hub.Publish(context.Background(), "c", EventUsageUpdate, 1))
	assert.Empty(t, hub.subs)
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(ctx, UserChannel(9))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client)
	require.NoError(t, pub.Publish(ctx, UserChannel(9), EventNewNotification, map[string]string{"kind": "usage_warning"}))

	select {
	case msg := <-sub.Channel():
		env, data := decode(t, []byte(msg.Payload))
		assert.Equal(t, EventNewNotification, env.Event)
		assert.Equal(t, "usage_warning", data["kind"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	hub := NewHub(logging.Discard(), 1)
	err := hub.Publish(context.Background(), "c", EventUsageUpdate, make(chan int))
	require.Error(t, err)
}
