package specification

import (
	"time"

	"gorm.io/gorm"
)

// BySubject scopes history to the caller that ran the query
type BySubject struct {
	Subject string
}

func (s BySubject) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("subject = ?", s.Subject)
}

type ByTerminationReason struct {
	Reason string
}

func (s ByTerminationReason) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("termination_reason = ?", s.Reason)
}

// QuestionContains matches the question text case-insensitively
type QuestionContains struct {
	Query string
}

func (s QuestionContains) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("question ILIKE ?", "%"+s.Query+"%")
}

// CreatedAfter keeps rows created at or after Time
type CreatedAfter struct {
	Time time.Time
}

func (s CreatedAfter) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("created_at >= ?", s.Time)
}
