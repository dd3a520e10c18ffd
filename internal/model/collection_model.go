package model

import "time"

type Collection struct {
	Name        string    `gorm:"type:varchar(128);primaryKey"`
	Description string    `gorm:"type:text"`
	IsDefault   bool      `gorm:"default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Collection) TableName() string {
	return "rag_collections"
}
