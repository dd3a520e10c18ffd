package vectorstore

import (
	"fmt"

	"gorm.io/gorm"
)

// Config selects one store backend.
type Config struct {
	Provider          string
	Endpoint          string
	APIKey            string
	DefaultCollection string
	Descriptions      map[string]string
}

// New creates a Store for the given provider. db is only needed for pgvector.
func New(cfg Config, db *gorm.DB) (Store, error) {
	kind, err := ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindPgvector:
		return NewPgvector(db)
	case KindQdrant:
		return NewQdrant(cfg.Endpoint,
			WithQdrantAPIKey(cfg.APIKey),
			WithCollectionDescriptions(cfg.Descriptions),
			WithDefaultCollection(cfg.DefaultCollection),
		)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vector store provider: %s", cfg.Provider)
	}
}
