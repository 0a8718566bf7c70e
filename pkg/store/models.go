package store

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntryModel holds one collection blob per row.
type KVEntryModel struct {
	Name      string         `gorm:"primaryKey"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}
