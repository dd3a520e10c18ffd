package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrCollectionNotFound = errors.New("collection not found")

// Hit is a single scored chunk returned by a search.
type Hit struct {
	ChunkID    string            // unique within its collection
	Collection string
	Text       string
	Score      float64           // higher is more similar
	Reference  string            // source document id / path / url
	Offset     int               // position of the chunk inside its document
	Metadata   map[string]string
}

// CollectionInfo describes a searchable collection.
type CollectionInfo struct {
	Name        string
	Description string
	Default     bool
}

// Store is the read side of a vector index.
// Implementations must be safe for concurrent use.
type Store interface {
	// Search returns at most topK hits from one collection, best first.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error)

	// ListCollections returns every collection the store can search.
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
}

// Kind is the closed set of supported stores.
type Kind string

const (
	KindPgvector Kind = "pgvector"
	KindQdrant   Kind = "qdrant"
	KindMemory   Kind = "memory"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPgvector, KindQdrant, KindMemory:
		return k, nil
	default:
		return "", fmt.Errorf("unknown vector store provider: %q", s)
	}
}

// metadataValue flattens a decoded JSON value into Hit.Metadata form. Nested
// values are kept as their JSON encoding; null is dropped.
func metadataValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}

// decodeMetadata reads a JSON object of chunk metadata.
func decodeMetadata(raw []byte) (map[string]string, error) {
	meta := map[string]string{}
	if len(raw) == 0 {
		return meta, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if s, ok := metadataValue(v); ok {
			meta[k] = s
		}
	}
	return meta, nil
}
