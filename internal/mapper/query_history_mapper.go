package mapper

import (
	"encoding/json"
	"time"

	"deepsearch-be/internal/entity"
	"deepsearch-be/internal/model"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"gorm.io/datatypes"
)

type QueryHistoryMapper struct{}

func NewQueryHistoryMapper() *QueryHistoryMapper {
	return &QueryHistoryMapper{}
}

// ResultToEntity builds the history entry of a finished run. res may be nil
// when the run never started.
func (m *QueryHistoryMapper) ResultToEntity(res *executor.Result, question string, params executor.Params, subject string, startedAt time.Time, runErr error) *entity.QueryHistory {
	h := &entity.QueryHistory{
		Subject:    subject,
		Question:   question,
		Params:     params,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		h.ErrorMessage = runErr.Error()
	}
	if res == nil {
		return h
	}

	h.Id = res.SessionID
	h.Collections = res.Collections
	h.Answer = res.Answer
	h.TerminationReason = res.TerminationReason
	h.TokensConsumed = res.TokensConsumed
	h.EvidenceUsed = res.EvidenceUsed
	if res.State != nil {
		h.Question = res.State.Question.Text
		h.Rounds = res.State.Rounds
		h.EvidenceCount = res.State.Evidence.Len()
	}
	return h
}

func (m *QueryHistoryMapper) ToModel(h *entity.QueryHistory) *model.QueryHistory {
	if h == nil {
		return nil
	}

	return &model.QueryHistory{
		Id:                h.Id,
		Subject:           h.Subject,
		Question:          h.Question,
		Collections:       toJSON(h.Collections),
		Params:            toJSON(h.Params),
		Answer:            h.Answer,
		TerminationReason: string(h.TerminationReason),
		TokensConsumed:    h.TokensConsumed,
		RoundCount:        len(h.Rounds),
		EvidenceCount:     h.EvidenceCount,
		Rounds:            toJSON(h.Rounds),
		EvidenceUsed:      toJSON(h.EvidenceUsed),
		ErrorMessage:      h.ErrorMessage,
		StartedAt:         h.StartedAt,
		FinishedAt:        h.FinishedAt,
		CreatedAt:         h.CreatedAt,
	}
}

func (m *QueryHistoryMapper) ToEntity(q *model.QueryHistory) *entity.QueryHistory {
	if q == nil {
		return nil
	}

	h := &entity.QueryHistory{
		Id:                q.Id,
		Subject:           q.Subject,
		Question:          q.Question,
		Answer:            q.Answer,
		TerminationReason: session.TerminationReason(q.TerminationReason),
		TokensConsumed:    q.TokensConsumed,
		EvidenceCount:     q.EvidenceCount,
		ErrorMessage:      q.ErrorMessage,
		StartedAt:         q.StartedAt,
		FinishedAt:        q.FinishedAt,
		CreatedAt:         q.CreatedAt,
	}
	// Columns are written by ToModel only, so decoding errors leave zero values
	_ = json.Unmarshal(q.Collections, &h.Collections)
	_ = json.Unmarshal(q.Params, &h.Params)
	_ = json.Unmarshal(q.Rounds, &h.Rounds)
	_ = json.Unmarshal(q.EvidenceUsed, &h.EvidenceUsed)
	return h
}

func (m *QueryHistoryMapper) ToEntities(models []*model.QueryHistory) []*entity.QueryHistory {
	out := make([]*entity.QueryHistory, len(models))
	for i, q := range models {
		out[i] = m.ToEntity(q)
	}
	return out
}

func toJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}
