package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"deepsearch-be/internal/dto"
	"deepsearch-be/internal/entity"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/internal/repository/cache"
	"deepsearch-be/internal/repository/memory"
	"deepsearch-be/internal/repository/specification"
	"deepsearch-be/pkg/events"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/planner"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/rag/ragtest"
	"deepsearch-be/pkg/rag/reflection"
	"deepsearch-be/pkg/rag/response"
	"deepsearch-be/pkg/rag/router"
	"deepsearch-be/pkg/rag/search"
	"deepsearch-be/pkg/rag/session"
	"deepsearch-be/pkg/store"
	"deepsearch-be/pkg/vectorstore"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sufficientVerdict = `{"sufficient": true, "gap_description": "", "suggested_sub_queries": []}`

type fakeHistory struct {
	mu    sync.Mutex
	saved []*entity.QueryHistory
}

func (f *fakeHistory) Create(_ context.Context, h *entity.QueryHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.CreatedAt = time.Now()
	f.saved = append(f.saved, h)
	return nil
}

// matches applies the filtering specifications the way the gorm repository does.
func matches(h *entity.QueryHistory, specs []specification.Specification) bool {
	for _, spec := range specs {
		switch s := spec.(type) {
		case specification.ByID:
			if h.Id != s.ID {
				return false
			}
		case specification.BySubject:
			if h.Subject != s.Subject {
				return false
			}
		case specification.ByTerminationReason:
			if string(h.TerminationReason) != s.Reason {
				return false
			}
		case specification.QuestionContains:
			if !strings.Contains(strings.ToLower(h.Question), strings.ToLower(s.Query)) {
				return false
			}
		case specification.CreatedAfter:
			if h.CreatedAt.Before(s.Time) {
				return false
			}
		}
	}
	return true
}

func (f *fakeHistory) filter(specs []specification.Specification) []*entity.QueryHistory {
	var out []*entity.QueryHistory
	for _, h := range f.saved {
		if matches(h, specs) {
			out = append(out, h)
		}
	}
	return out
}

func (f *fakeHistory) FindOne(_ context.Context, specs ...specification.Specification) (*entity.QueryHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if found := f.filter(specs); len(found) > 0 {
		return found[0], nil
	}
	return nil, nil
}

func (f *fakeHistory) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.QueryHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := f.filter(specs)
	for _, spec := range specs {
		if p, ok := spec.(specification.Pagination); ok {
			if p.Offset >= len(found) {
				return nil, nil
			}
			found = found[p.Offset:]
			if p.Limit > 0 && p.Limit < len(found) {
				found = found[:p.Limit]
			}
		}
	}
	return found, nil
}

func (f *fakeHistory) Count(_ context.Context, specs ...specification.Specification) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.filter(specs))), nil
}

func (f *fakeHistory) all() []*entity.QueryHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*entity.QueryHistory(nil), f.saved...)
}

type fakeDelivery struct {
	mu       sync.Mutex
	messages map[uuid.UUID][]dto.ProgressMessage
}

func (f *fakeDelivery) Send(id uuid.UUID, data []byte) {
	var msg dto.ProgressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = make(map[uuid.UUID][]dto.ProgressMessage)
	}
	f.messages[id] = append(f.messages[id], msg)
}

func (f *fakeDelivery) types(id uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages[id] {
		out = append(out, m.Type)
	}
	return out
}

type fakeEvents struct {
	mu    sync.Mutex
	types []string
}

func (f *fakeEvents) Publish(_ context.Context, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, e.EventType())
	return nil
}

func (f *fakeEvents) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.types...)
}

type fixture struct {
	llm      *ragtest.LLM
	idx      *ragtest.Index
	history  *fakeHistory
	sessions *memory.SessionRepository
	svc      IQueryService
	delivery *fakeDelivery
	events   *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNopLogger()

	f := &fixture{
		llm:      ragtest.NewLLM(),
		history:  &fakeHistory{},
		sessions: memory.NewSessionRepository(time.Minute),
		delivery: &fakeDelivery{},
		events:   &fakeEvents{},
	}
	emb := ragtest.NewEmbedder()
	f.idx = ragtest.NewIndex(emb).
		AddCollection(vectorstore.CollectionInfo{Name: "kb", Description: "knowledge base", Default: true})

	composer := prompt.NewComposer(0)
	ctrl := executor.NewController(executor.Dependencies{
		Planner:     planner.NewPlanner(f.llm, composer, time.Second, log),
		Retrieval:   search.NewOrchestrator(emb, f.idx, search.DefaultConfig(), log),
		Evaluator:   reflection.NewEvaluator(f.llm, composer, time.Second, 0, log),
		Synthesizer: response.NewGenerator(f.llm, composer, time.Second, 0, log),
		Router:      router.NewRouter(f.llm, composer, time.Second, log),
		Store:       f.idx,
	}, executor.Config{
		Defaults:         executor.DefaultParams(),
		Stagnation:       reflection.DefaultStagnationPolicy(),
		PlanningEvidence: 10,
	}, log)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	consumer := NewConsumerService(pubSub, "progress", f.delivery, f.events, log)
	require.NoError(t, consumer.Consume(ctx))

	publisher := NewPublisherService("progress", pubSub, log)
	f.svc = NewQueryService(ctrl, f.idx, f.sessions, f.history, cache.NewAnswerCache(nil, 0), publisher, log)
	return f
}

func (f *fixture) scriptSingleRound() {
	f.llm.
		Script(ragtest.StageDecompose, ragtest.Reply{Content: `["What is X?"]`, Tokens: 10}).
		Script(ragtest.StageReflect, ragtest.Reply{Content: sufficientVerdict, Tokens: 20}).
		Script(ragtest.StageSynthesize, ragtest.Reply{Content: "X is a thing.", Tokens: 30})
	f.idx.On("kb", "What is X?", ragtest.Hit("x1", 0.9, "X is a thing"))
}

func TestRunAnswersAndRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.scriptSingleRound()

	res, err := f.svc.Run(context.Background(), "alice", &dto.QueryRequest{
		Question:    "What is X?",
		Collections: []string{"kb"},
	})
	require.NoError(t, err)

	assert.Equal(t, "X is a thing.", res.Answer)
	assert.Equal(t, string(session.TerminationEvaluatorStop), res.TerminationReason)
	assert.Equal(t, 60, res.TokensConsumed)
	assert.Equal(t, 1, res.Rounds)
	assert.False(t, res.Cached)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "x1", res.Citations[0].ChunkId)

	saved := f.history.all()
	require.Len(t, saved, 1)
	assert.Equal(t, res.SessionId, saved[0].Id)
	assert.Equal(t, "alice", saved[0].Subject)
	assert.False(t, saved[0].Failed())

	view, err := f.svc.Get(context.Background(), "alice", res.SessionId)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, view.Status)
	assert.Len(t, view.Rounds, 1)

	_, err = f.svc.Get(context.Background(), "bob", res.SessionId)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRunRejectsBlankQuestion(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Run(context.Background(), "", &dto.QueryRequest{Question: "   "})
	assert.ErrorIs(t, err, executor.ErrEmptyQuestion)

	_, err = f.svc.Start(context.Background(), "", &dto.QueryRequest{Question: ""})
	assert.ErrorIs(t, err, executor.ErrEmptyQuestion)
	assert.Empty(t, f.llm.Calls())
}

func TestRunReportsSynthesisFailure(t *testing.T) {
	f := newFixture(t)
	f.llm.
		Script(ragtest.StageDecompose, ragtest.Reply{Content: `["What is X?"]`, Tokens: 10}).
		Script(ragtest.StageReflect, ragtest.Reply{Content: sufficientVerdict, Tokens: 20}).
		Always(ragtest.StageSynthesize, ragtest.Reply{Err: assert.AnError})
	f.idx.On("kb", "What is X?", ragtest.Hit("x1", 0.9, "X is a thing"))

	_, err := f.svc.Run(context.Background(), "", &dto.QueryRequest{Question: "What is X?", Collections: []string{"kb"}})
	assert.ErrorIs(t, err, response.ErrSynthesisFailed)

	saved := f.history.all()
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Failed())
}

func TestStartRunsInBackground(t *testing.T) {
	f := newFixture(t)
	f.scriptSingleRound()

	started, err := f.svc.Start(context.Background(), "", &dto.QueryRequest{
		Question:    "What is X?",
		Collections: []string{"kb"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/query/v1/"+started.SessionId.String(), started.StatusURL)
	assert.Equal(t, started.StatusURL+"/ws", started.StreamURL)

	require.Eventually(t, func() bool {
		view, err := f.svc.Get(context.Background(), "", started.SessionId)
		return err == nil && view.Status == store.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	view, err := f.svc.Get(context.Background(), "", started.SessionId)
	require.NoError(t, err)
	assert.Equal(t, "X is a thing.", view.Answer)
	assert.Equal(t, []string{"kb"}, view.Collections)

	require.NoError(t, f.svc.Shutdown(context.Background()))
}

func TestCancelStopsRunningSession(t *testing.T) {
	f := newFixture(t)
	reflecting := make(chan struct{})
	var once sync.Once
	f.llm.OnCall = func(stage ragtest.Stage) {
		if stage == ragtest.StageReflect {
			once.Do(func() { close(reflecting) })
		}
	}
	f.llm.
		Script(ragtest.StageDecompose, ragtest.Reply{Content: `["What is X?"]`, Tokens: 10}).
		Script(ragtest.StageReflect, ragtest.Reply{Hang: true}).
		Always(ragtest.StageSynthesize, ragtest.Reply{Content: "partial", Tokens: 5})
	f.idx.On("kb", "What is X?", ragtest.Hit("x1", 0.9, "X is a thing"))

	started, err := f.svc.Start(context.Background(), "", &dto.QueryRequest{Question: "What is X?", Collections: []string{"kb"}})
	require.NoError(t, err)

	select {
	case <-reflecting:
	case <-time.After(2 * time.Second):
		t.Fatal("session never reached evaluation")
	}

	_, err = f.svc.Cancel(context.Background(), "", started.SessionId)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := f.svc.Get(context.Background(), "", started.SessionId)
		return err == nil && view.Status == store.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	view, err := f.svc.Get(context.Background(), "", started.SessionId)
	require.NoError(t, err)
	assert.Equal(t, session.TerminationCancelled, view.TerminationReason)
	assert.Empty(t, view.Rounds)

	_, err = f.svc.Cancel(context.Background(), "", started.SessionId)
	assert.ErrorIs(t, err, ErrSessionFinished)

	_, err = f.svc.Cancel(context.Background(), "", uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetFallsBackToHistory(t *testing.T) {
	f := newFixture(t)
	f.scriptSingleRound()

	res, err := f.svc.Run(context.Background(), "", &dto.QueryRequest{Question: "What is X?", Collections: []string{"kb"}})
	require.NoError(t, err)
	f.sessions.Delete(res.SessionId)

	view, err := f.svc.Get(context.Background(), "", res.SessionId)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, view.Status)
	assert.Equal(t, "X is a thing.", view.Answer)
	require.NotNil(t, view.FinishedAt)

	_, err = f.svc.Get(context.Background(), "", uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestProgressIsRelayed(t *testing.T) {
	f := newFixture(t)
	f.scriptSingleRound()

	res, err := f.svc.Run(context.Background(), "", &dto.QueryRequest{Question: "What is X?", Collections: []string{"kb"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.delivery.types(res.SessionId)) == 3
	}, 2*time.Second, 10*time.Millisecond)
	// gochannel does not order deliveries
	assert.ElementsMatch(t, []string{ProgressStarted, ProgressRound, ProgressFinished}, f.delivery.types(res.SessionId))

	require.Eventually(t, func() bool {
		return len(f.events.published()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{events.QueryStarted, events.QueryCompleted}, f.events.published())
}

func TestCollectionsAndHistory(t *testing.T) {
	f := newFixture(t)
	f.scriptSingleRound()

	cols, err := f.svc.Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "kb", cols[0].Name)
	assert.True(t, cols[0].Default)

	_, err = f.svc.Run(context.Background(), "", &dto.QueryRequest{Question: "What is X?", Collections: []string{"kb"}})
	require.NoError(t, err)

	list, err := f.svc.History(context.Background(), "", &dto.HistoryListRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 20, list.Limit)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "What is X?", list.Items[0].Question)
	assert.Equal(t, 1, list.Items[0].Rounds)
}

func TestLifecycleEventMapsFailures(t *testing.T) {
	id := uuid.New()

	_, ok := lifecycleEvent(dto.ProgressMessage{Type: ProgressRound, SessionId: id})
	assert.False(t, ok)

	e, ok := lifecycleEvent(dto.ProgressMessage{
		Type:      ProgressFinished,
		SessionId: id,
		Round:     2,
		Data:      map[string]interface{}{"error": "boom"},
	})
	require.True(t, ok)
	assert.Equal(t, events.QueryFailed, e.EventType())
	assert.Equal(t, 2, e.Payload()["rounds"])
	assert.Equal(t, id.String(), e.Payload()["session_id"])
}

func TestHistoryAppliesFilters(t *testing.T) {
	f := newFixture(t)
	f.llm.
		Always(ragtest.StageDecompose, ragtest.Reply{Content: `["What is X?"]`, Tokens: 1}).
		Always(ragtest.StageReflect, ragtest.Reply{Content: sufficientVerdict, Tokens: 1}).
		Always(ragtest.StageSynthesize, ragtest.Reply{Content: "X is a thing.", Tokens: 1})
	f.idx.On("kb", ragtest.AnyQuery, ragtest.Hit("x1", 0.9, "X is a thing"))

	for _, run := range []struct{ subject, question string }{
		{"alice", "What is X?"},
		{"alice", "Where is Y?"},
		{"bob", "What is X?"},
	} {
		_, err := f.svc.Run(context.Background(), run.subject, &dto.QueryRequest{
			Question:    run.question,
			Collections: []string{"kb"},
			NoCache:     true,
		})
		require.NoError(t, err)
	}

	list, err := f.svc.History(context.Background(), "alice", &dto.HistoryListRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)

	list, err = f.svc.History(context.Background(), "alice", &dto.HistoryListRequest{Search: "where"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Where is Y?", list.Items[0].Question)

	list, err = f.svc.History(context.Background(), "alice", &dto.HistoryListRequest{Reason: "cancelled"})
	require.NoError(t, err)
	assert.Zero(t, list.Total)
	assert.Empty(t, list.Items)

	list, err = f.svc.History(context.Background(), "", &dto.HistoryListRequest{Limit: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), list.Total)
	assert.Len(t, list.Items, 1)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	list, err = f.svc.History(context.Background(), "", &dto.HistoryListRequest{Since: future})
	require.NoError(t, err)
	assert.Zero(t, list.Total)

	_, err = f.svc.History(context.Background(), "", &dto.HistoryListRequest{Since: "yesterday"})
	assert.ErrorIs(t, err, executor.ErrInvalidParams)
}
