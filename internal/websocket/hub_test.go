package websocket

import (
	"context"
	"testing"
	"time"

	"deepsearch-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSessionWatchersOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, logger.NewNopLogger())
	go hub.Run(ctx)

	watched, other := uuid.New(), uuid.New()
	a := &Client{Hub: hub, SessionID: watched, Send: make(chan []byte, 4)}
	b := &Client{Hub: hub, SessionID: other, Send: make(chan []byte, 4)}
	hub.register <- a
	hub.register <- b

	require.Eventually(t, func() bool { return hub.Watchers(watched) == 1 && hub.Watchers(other) == 1 }, time.Second, 5*time.Millisecond)

	hub.Send(watched, []byte(`{"type":"round"}`))

	select {
	case msg := <-a.Send:
		assert.JSONEq(t, `{"type":"round"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("watcher did not receive progress")
	}
	assert.Empty(t, b.Send)

	hub.unregister <- a
	require.Eventually(t, func() bool { return hub.Watchers(watched) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-a.Send
	assert.False(t, open, "unregistering closes the send channel")
}
