package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"deepsearch-be/internal/model"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Pgvector searches the rag_chunks table with cosine distance.
type Pgvector struct {
	db *gorm.DB
}

var _ Store = (*Pgvector)(nil)

func NewPgvector(db *gorm.DB) (*Pgvector, error) {
	if db == nil {
		return nil, errors.New("pgvector store requires a database handle")
	}
	return &Pgvector{db: db}, nil
}

type scoredChunk struct {
	model.Chunk
	Similarity float64
}

func (p *Pgvector) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	var exists int64
	if err := p.db.WithContext(ctx).Model(&model.Collection{}).Where("name = ?", collection).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("lookup collection: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	// Cosine distance in pgvector is 1 - cosine_similarity
	queryVector := pgvector.NewVector(vector)
	var rows []scoredChunk
	err := p.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Select("rag_chunks.*, 1 - (embedding_value <=> ?) AS similarity", queryVector).
		Where("collection_name = ?", collection).
		Order(gorm.Expr("embedding_value <=> ?", queryVector)).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		meta, err := decodeMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("decode metadata of chunk %s: %w", r.ChunkKey, err)
		}
		hits = append(hits, Hit{
			ChunkID:    r.ChunkKey,
			Collection: r.CollectionName,
			Text:       r.Document,
			Score:      r.Similarity,
			Reference:  r.Reference,
			Offset:     r.ChunkIndex,
			Metadata:   meta,
		})
	}
	return hits, nil
}

func (p *Pgvector) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var rows []model.Collection
	if err := p.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := make([]CollectionInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, CollectionInfo{Name: r.Name, Description: r.Description, Default: r.IsDefault})
	}
	return out, nil
}
