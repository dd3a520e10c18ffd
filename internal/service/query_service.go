package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deepsearch-be/internal/dto"
	"deepsearch-be/internal/entity"
	"deepsearch-be/internal/mapper"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/internal/repository/cache"
	"deepsearch-be/internal/repository/contract"
	"deepsearch-be/internal/repository/memory"
	"deepsearch-be/internal/repository/specification"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"
	"deepsearch-be/pkg/store"
	"deepsearch-be/pkg/vectorstore"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFinished = errors.New("session already finished")
)

const persistTimeout = 5 * time.Second

type IQueryService interface {
	Run(ctx context.Context, subject string, req *dto.QueryRequest) (*dto.QueryResponse, error)
	Start(ctx context.Context, subject string, req *dto.QueryRequest) (*dto.AsyncQueryResponse, error)
	Get(ctx context.Context, subject string, id uuid.UUID) (*store.View, error)
	Cancel(ctx context.Context, subject string, id uuid.UUID) (*store.View, error)
	Collections(ctx context.Context) ([]*dto.CollectionResponse, error)
	History(ctx context.Context, subject string, req *dto.HistoryListRequest) (*dto.HistoryListResponse, error)
	Shutdown(ctx context.Context) error
}

type queryService struct {
	controller  *executor.Controller
	vectorStore vectorstore.Store
	sessions    *memory.SessionRepository
	history     contract.QueryHistoryRepository
	answers     *cache.AnswerCache
	publisher   IPublisherService
	mapper      *mapper.QueryHistoryMapper
	logger      logger.ILogger

	wg sync.WaitGroup
}

// NewQueryService wires the query use cases. history, answers and publisher
// may be nil.
func NewQueryService(
	controller *executor.Controller,
	vectorStore vectorstore.Store,
	sessions *memory.SessionRepository,
	history contract.QueryHistoryRepository,
	answers *cache.AnswerCache,
	publisher IPublisherService,
	log logger.ILogger,
) IQueryService {
	return &queryService{
		controller:  controller,
		vectorStore: vectorStore,
		sessions:    sessions,
		history:     history,
		answers:     answers,
		publisher:   publisher,
		mapper:      mapper.NewQueryHistoryMapper(),
		logger:      log,
	}
}

func paramsOf(req *dto.QueryRequest) executor.Params {
	return executor.Params{
		MaxRounds:   req.MaxRounds,
		TokenBudget: req.TokenBudget,
		TopK:        req.TopK,
		FanOut:      req.FanOut,
	}
}

func (s *queryService) Run(ctx context.Context, subject string, req *dto.QueryRequest) (*dto.QueryResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, executor.ErrEmptyQuestion
	}
	params := paramsOf(req)
	key := cache.Key(req.Question, req.Collections, params)

	if !req.NoCache {
		cached, err := s.answers.Get(ctx, key)
		if err != nil {
			s.logger.Warn("QueryService", "Answer cache lookup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if cached != nil {
			s.logger.Info("QueryService", "Answer served from cache", map[string]interface{}{
				"session_id": cached.SessionID.String(),
			})
			return cachedResponse(cached), nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := store.NewSession(uuid.New(), subject, req.Question, params, cancel)
	s.sessions.Save(sess)

	res, err := s.execute(runCtx, sess, req, key)
	if err != nil && res == nil {
		return nil, err
	}
	if err != nil {
		// Synthesis failed; the trace is still available under the session id
		return nil, fmt.Errorf("session %s: %w", sess.ID(), err)
	}
	return resultResponse(res), nil
}

func (s *queryService) Start(ctx context.Context, subject string, req *dto.QueryRequest) (*dto.AsyncQueryResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, executor.ErrEmptyQuestion
	}
	params := paramsOf(req)
	key := cache.Key(req.Question, req.Collections, params)

	// The run outlives the request that started it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := store.NewSession(uuid.New(), subject, req.Question, params, cancel)
	s.sessions.Save(sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if _, err := s.execute(runCtx, sess, req, key); err != nil {
			s.logger.Error("QueryService", "Async session failed", map[string]interface{}{
				"session_id": sess.ID().String(),
				"error":      err.Error(),
			})
		}
	}()

	id := sess.ID().String()
	return &dto.AsyncQueryResponse{
		SessionId: sess.ID(),
		StatusURL: "/api/query/v1/" + id,
		StreamURL: "/api/query/v1/" + id + "/ws",
	}, nil
}

// execute runs one session to completion and records its outcome in the
// live trace, the history table and the answer cache.
func (s *queryService) execute(ctx context.Context, sess *store.Session, req *dto.QueryRequest, key string) (*executor.Result, error) {
	observers := executor.MultiObserver{sessionObserver{sess}}
	if s.publisher != nil {
		observers = append(observers, s.publisher)
	}

	res, err := s.controller.RunQuery(ctx, req.Question, req.Collections, paramsOf(req),
		executor.WithSessionID(sess.ID()),
		executor.WithObserver(observers),
	)
	sess.Finish(res, err)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if res != nil {
		s.persist(saveCtx, sess, req, res, err)
	}
	if err == nil {
		if putErr := s.answers.Put(saveCtx, key, res); putErr != nil {
			s.logger.Warn("QueryService", "Failed to cache answer", map[string]interface{}{
				"session_id": sess.ID().String(),
				"error":      putErr.Error(),
			})
		}
	}
	return res, err
}

func (s *queryService) persist(ctx context.Context, sess *store.Session, req *dto.QueryRequest, res *executor.Result, runErr error) {
	if s.history == nil {
		return
	}
	h := s.mapper.ResultToEntity(res, req.Question, paramsOf(req), sess.Subject(), sess.StartedAt(), runErr)
	if err := s.history.Create(ctx, h); err != nil {
		s.logger.Error("QueryService", "Failed to save query history", map[string]interface{}{
			"session_id": sess.ID().String(),
			"error":      err.Error(),
		})
	}
}

func (s *queryService) lookup(subject string, id uuid.UUID) (*store.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok || (subject != "" && sess.Subject() != subject) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *queryService) Get(ctx context.Context, subject string, id uuid.UUID) (*store.View, error) {
	if sess, err := s.lookup(subject, id); err == nil {
		v := sess.Snapshot()
		return &v, nil
	}
	if s.history == nil {
		return nil, ErrSessionNotFound
	}

	specs := []specification.Specification{specification.ByID{ID: id}}
	if subject != "" {
		specs = append(specs, specification.BySubject{Subject: subject})
	}
	h, err := s.history.FindOne(ctx, specs...)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrSessionNotFound
	}
	return historyView(h), nil
}

func (s *queryService) Cancel(ctx context.Context, subject string, id uuid.UUID) (*store.View, error) {
	sess, err := s.lookup(subject, id)
	if err != nil {
		return nil, err
	}
	if !sess.Cancel() {
		return nil, ErrSessionFinished
	}

	s.logger.Info("QueryService", "Session cancellation requested", map[string]interface{}{
		"session_id": id.String(),
	})
	v := sess.Snapshot()
	return &v, nil
}

func (s *queryService) Collections(ctx context.Context) ([]*dto.CollectionResponse, error) {
	infos, err := s.vectorStore.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.CollectionResponse, 0, len(infos))
	for _, info := range infos {
		res = append(res, &dto.CollectionResponse{
			Name:        info.Name,
			Description: info.Description,
			Default:     info.Default,
		})
	}
	return res, nil
}

func (s *queryService) History(ctx context.Context, subject string, req *dto.HistoryListRequest) (*dto.HistoryListResponse, error) {
	page, limit := req.Page, req.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	res := &dto.HistoryListResponse{
		Items: make([]dto.HistoryItemResponse, 0),
		Page:  page,
		Limit: limit,
	}
	if s.history == nil {
		return res, nil
	}

	var filters []specification.Specification
	if subject != "" {
		filters = append(filters, specification.BySubject{Subject: subject})
	}
	if req.Reason != "" {
		filters = append(filters, specification.ByTerminationReason{Reason: req.Reason})
	}
	if q := strings.TrimSpace(req.Search); q != "" {
		filters = append(filters, specification.QuestionContains{Query: q})
	}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: since must be an RFC 3339 time", executor.ErrInvalidParams)
		}
		filters = append(filters, specification.CreatedAfter{Time: since})
	}

	total, err := s.history.Count(ctx, filters...)
	if err != nil {
		return nil, err
	}

	specs := append(append([]specification.Specification(nil), filters...),
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: limit, Offset: (page - 1) * limit},
	)
	items, err := s.history.FindAll(ctx, specs...)
	if err != nil {
		return nil, err
	}

	res.Total = total
	for _, h := range items {
		res.Items = append(res.Items, dto.HistoryItemResponse{
			SessionId:         h.Id,
			Question:          h.Question,
			TerminationReason: string(h.TerminationReason),
			TokensConsumed:    h.TokensConsumed,
			Rounds:            len(h.Rounds),
			Failed:            h.Failed(),
			CreatedAt:         h.CreatedAt,
		})
	}
	return res, nil
}

// Shutdown cancels running sessions and waits for them to finish. Cancelled
// sessions still synthesize, so this can take a while.
func (s *queryService) Shutdown(ctx context.Context) error {
	for _, sess := range s.sessions.Running() {
		sess.Cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sessionObserver keeps the live trace of one session current.
type sessionObserver struct {
	sess *store.Session
}

func (o sessionObserver) SessionStarted(_ context.Context, _ uuid.UUID, _ string, collections []string) {
	o.sess.SetCollections(collections)
}

func (o sessionObserver) RoundCompleted(_ context.Context, ev executor.RoundEvent) {
	o.sess.AddRound(ev)
}

func (o sessionObserver) SessionFinished(_ context.Context, res *executor.Result, err error) {
	o.sess.Finish(res, err)
}

func citations(chunks []session.EvidenceChunk) []dto.CitationDTO {
	out := make([]dto.CitationDTO, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, dto.CitationDTO{
			ChunkId:    c.ChunkID,
			Collection: c.Collection,
			Source:     c.Citation(),
			Score:      c.Score,
			Text:       c.Text,
		})
	}
	return out
}

func resultResponse(res *executor.Result) *dto.QueryResponse {
	out := &dto.QueryResponse{
		SessionId:         res.SessionID,
		Answer:            res.Answer,
		Citations:         citations(res.EvidenceUsed),
		TokensConsumed:    res.TokensConsumed,
		TerminationReason: string(res.TerminationReason),
		Collections:       res.Collections,
	}
	if res.State != nil {
		out.Rounds = len(res.State.Rounds)
	}
	return out
}

func cachedResponse(c *cache.CachedAnswer) *dto.QueryResponse {
	return &dto.QueryResponse{
		SessionId:         c.SessionID,
		Answer:            c.Answer,
		Citations:         citations(c.EvidenceUsed),
		TokensConsumed:    c.TokensConsumed,
		TerminationReason: string(c.TerminationReason),
		Collections:       c.Collections,
		Cached:            true,
	}
}

func historyView(h *entity.QueryHistory) *store.View {
	status := store.StatusCompleted
	switch {
	case h.Failed():
		status = store.StatusFailed
	case h.TerminationReason == session.TerminationCancelled:
		status = store.StatusCancelled
	}
	finished := h.FinishedAt
	return &store.View{
		ID:                h.Id,
		Question:          h.Question,
		Status:            status,
		Params:            h.Params,
		Collections:       h.Collections,
		Rounds:            h.Rounds,
		TokensConsumed:    h.TokensConsumed,
		EvidenceCount:     h.EvidenceCount,
		TerminationReason: h.TerminationReason,
		Answer:            h.Answer,
		EvidenceUsed:      h.EvidenceUsed,
		Error:             h.ErrorMessage,
		StartedAt:         h.StartedAt,
		FinishedAt:        &finished,
	}
}
