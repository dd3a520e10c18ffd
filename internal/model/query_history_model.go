package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// QueryHistory is the audit row written for every finished deep search
// session. Id is the session id.
type QueryHistory struct {
	Id                uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Subject           string         `gorm:"type:varchar(255);index"` // JWT subject, empty for CLI runs
	Question          string         `gorm:"type:text;not null"`
	Collections       datatypes.JSON `gorm:"type:jsonb"`
	Params            datatypes.JSON `gorm:"type:jsonb"`
	Answer            string         `gorm:"type:text"`
	TerminationReason string         `gorm:"type:varchar(50);index"`
	TokensConsumed    int            `gorm:"not null;default:0"`
	RoundCount        int            `gorm:"not null;default:0"`
	EvidenceCount     int            `gorm:"not null;default:0"`
	Rounds            datatypes.JSON `gorm:"type:jsonb"`
	EvidenceUsed      datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage      string         `gorm:"type:text"`
	StartedAt         time.Time      `gorm:"not null"`
	FinishedAt        time.Time      `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index"`
}

func (QueryHistory) TableName() string {
	return "query_histories"
}
