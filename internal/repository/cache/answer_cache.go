package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "deepsearch:answer:"

// CachedAnswer is what survives in redis of a finished session.
type CachedAnswer struct {
	SessionID         uuid.UUID                 `json:"session_id"`
	Answer            string                    `json:"answer"`
	EvidenceUsed      []session.EvidenceChunk   `json:"evidence_used"`
	TokensConsumed    int                       `json:"tokens_consumed"`
	TerminationReason session.TerminationReason `json:"termination_reason"`
	Collections       []string                  `json:"collections"`
	CachedAt          time.Time                 `json:"cached_at"`
}

// AnswerCache stores answers keyed by the request that produced them.
// A nil client or zero TTL turns it into a no-op.
type AnswerCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAnswerCache(rdb *redis.Client, ttl time.Duration) *AnswerCache {
	return &AnswerCache{rdb: rdb, ttl: ttl}
}

func (c *AnswerCache) enabled() bool {
	return c != nil && c.rdb != nil && c.ttl > 0
}

// Key fingerprints a request: normalised question, sorted collections and the
// resolved params.
func Key(question string, collections []string, params executor.Params) string {
	sorted := append([]string(nil), collections...)
	sort.Strings(sorted)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d/%d/%d/%d",
		session.NormalizeQuery(question),
		strings.Join(sorted, ","),
		params.MaxRounds, params.TokenBudget, params.TopK, params.FanOut,
	)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached answer, or nil on a miss.
func (c *AnswerCache) Get(ctx context.Context, key string) (*CachedAnswer, error) {
	if !c.enabled() {
		return nil, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read answer cache: %w", err)
	}

	var out CachedAnswer
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cached answer: %w", err)
	}
	return &out, nil
}

// Put caches a result. Only sessions that ended on their own are cached;
// cancelled runs hold partial answers.
func (c *AnswerCache) Put(ctx context.Context, key string, res *executor.Result) error {
	if !c.enabled() || !Cacheable(res) {
		return nil
	}
	raw, err := json.Marshal(CachedAnswer{
		SessionID:         res.SessionID,
		Answer:            res.Answer,
		EvidenceUsed:      res.EvidenceUsed,
		TokensConsumed:    res.TokensConsumed,
		TerminationReason: res.TerminationReason,
		Collections:       res.Collections,
		CachedAt:          time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode cached answer: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write answer cache: %w", err)
	}
	return nil
}

func Cacheable(res *executor.Result) bool {
	return res != nil && res.Answer != "" && res.TerminationReason != session.TerminationCancelled
}
