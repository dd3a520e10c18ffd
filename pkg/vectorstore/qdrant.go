package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Payload keys written by the ingestion side.
const (
	qdrantKeyText      = "text"
	qdrantKeyReference = "reference"
	qdrantKeyOffset    = "offset"
	qdrantKeyChunkID   = "chunk_id"
)

// Qdrant implements Store using Qdrant's REST API.
type Qdrant struct {
	endpoint     string
	apiKey       string
	descriptions map[string]string
	defaultName  string
	client       *http.Client
}

var _ Store = (*Qdrant)(nil)

type QdrantOption func(*Qdrant)

// WithQdrantAPIKey sets the api-key header for managed clusters.
func WithQdrantAPIKey(key string) QdrantOption {
	return func(q *Qdrant) { q.apiKey = key }
}

// WithCollectionDescriptions attaches descriptions used by collection routing.
// Qdrant itself has no place to store them.
func WithCollectionDescriptions(desc map[string]string) QdrantOption {
	return func(q *Qdrant) { q.descriptions = desc }
}

func WithDefaultCollection(name string) QdrantOption {
	return func(q *Qdrant) { q.defaultName = name }
}

func WithHTTPClient(c *http.Client) QdrantOption {
	return func(q *Qdrant) { q.client = c }
}

// NewQdrant creates a Qdrant-backed vector store.
func NewQdrant(endpoint string, opts ...QdrantOption) (*Qdrant, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint is required")
	}
	q := &Qdrant{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, fn := range opts {
		fn(q)
	}
	return q, nil
}

func (q *Qdrant) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCollectionNotFound
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant %s %s failed: %s %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}

	var result struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", body, &result); err != nil {
		if err == ErrCollectionNotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return nil, err
	}

	hits := make([]Hit, 0, len(result.Result))
	for _, p := range result.Result {
		hits = append(hits, pointToHit(collection, p))
	}
	return hits, nil
}

func pointToHit(collection string, p qdrantPoint) Hit {
	h := Hit{
		Collection: collection,
		Score:      p.Score,
		Metadata:   make(map[string]string),
	}

	// Point ids are either unsigned integers or uuid strings
	id := strings.Trim(string(p.ID), `"`)
	h.ChunkID = id

	for k, v := range p.Payload {
		switch k {
		case qdrantKeyText:
			h.Text = fmt.Sprint(v)
		case qdrantKeyReference:
			h.Reference = fmt.Sprint(v)
		case qdrantKeyOffset:
			if f, ok := v.(float64); ok {
				h.Offset = int(f)
			}
		case qdrantKeyChunkID:
			h.ChunkID = fmt.Sprint(v)
		default:
			if s, ok := metadataValue(v); ok {
				h.Metadata[k] = s
			}
		}
	}
	return h
}

func (q *Qdrant) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var result struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}

	out := make([]CollectionInfo, 0, len(result.Result.Collections))
	for _, c := range result.Result.Collections {
		out = append(out, CollectionInfo{
			Name:        c.Name,
			Description: q.descriptions[c.Name],
			Default:     c.Name == q.defaultName,
		})
	}
	return out, nil
}
