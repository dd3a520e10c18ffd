package memory

import (
	"time"

	"deepsearch-be/pkg/store"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps live and recently finished session traces.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository(retention time.Duration) *SessionRepository {
	if retention <= 0 {
		retention = time.Hour
	}
	c := cache.New(retention, 10*time.Minute)
	return &SessionRepository{
		cache: c,
	}
}

func (r *SessionRepository) Save(session *store.Session) {
	r.cache.Set(session.ID().String(), session, cache.DefaultExpiration)
}

func (r *SessionRepository) Get(sessionID uuid.UUID) (*store.Session, bool) {
	if x, found := r.cache.Get(sessionID.String()); found {
		return x.(*store.Session), true
	}
	return nil, false
}

func (r *SessionRepository) Delete(sessionID uuid.UUID) {
	r.cache.Delete(sessionID.String())
}

// Running lists sessions that have not finished yet.
func (r *SessionRepository) Running() []*store.Session {
	var out []*store.Session
	for _, item := range r.cache.Items() {
		if s, ok := item.Object.(*store.Session); ok && s.Status() == store.StatusRunning {
			out = append(out, s)
		}
	}
	return out
}
