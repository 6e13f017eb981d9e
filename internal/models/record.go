package models

import (
	"time"

	"gorm.io/datatypes"
)

// Record is the relational row backing every record store collection.
type Record struct {
	Collection string         `gorm:"primaryKey;size:64"`
	ID         string         `gorm:"primaryKey;size:191"`
	Data       datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName pins the table name.
func (Record) TableName() string {
	return "review_records"
}
