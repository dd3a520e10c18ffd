package nats

import (
	"testing"
	"time"

	"deepsearch-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "deepsearch.QUERY_COMPLETED", Subject(events.QueryCompleted))
}

func TestDecode(t *testing.T) {
	ev, err := decode("deepsearch.QUERY_COMPLETED", []byte(`{"session_id":"abc","tokens":42,"occurred_at":"2026-01-02T03:04:05Z"}`))
	require.NoError(t, err)

	assert.Equal(t, events.QueryCompleted, ev.EventType())
	assert.Equal(t, "abc", ev.Payload()["session_id"])
	assert.Equal(t, float64(42), ev.Payload()["tokens"])
	assert.NotContains(t, ev.Payload(), "occurred_at")
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ev.Timestamp().UTC())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decode("deepsearch.QUERY_COMPLETED", []byte("not json"))
	assert.Error(t, err)
}
