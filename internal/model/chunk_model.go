package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Chunk is one indexed passage. Ingestion writes these rows; the deep search
// loop only reads them.
type Chunk struct {
	Id             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CollectionName string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_chunk_identity,priority:1"`
	ChunkKey       string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_chunk_identity,priority:2"`
	Document       string          `gorm:"type:text"`
	Reference      string          `gorm:"type:text"` // document id / path / url the chunk came from
	ChunkIndex     int             `gorm:"default:0"`
	EmbeddingValue pgvector.Vector `gorm:"type:vector(768)"`
	Metadata       datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
}

func (Chunk) TableName() string {
	return "rag_chunks"
}
