package memory

import (
	"testing"
	"time"

	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository(t *testing.T) {
	repo := NewSessionRepository(time.Minute)

	running := store.NewSession(uuid.New(), "", "a", executor.DefaultParams(), nil)
	done := store.NewSession(uuid.New(), "", "b", executor.DefaultParams(), nil)
	done.Finish(&executor.Result{}, nil)

	repo.Save(running)
	repo.Save(done)

	got, ok := repo.Get(running.ID())
	require.True(t, ok)
	assert.Same(t, running, got)

	live := repo.Running()
	require.Len(t, live, 1)
	assert.Equal(t, running.ID(), live[0].ID())

	repo.Delete(running.ID())
	_, ok = repo.Get(running.ID())
	assert.False(t, ok)
}
