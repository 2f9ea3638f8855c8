package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores a JSON-encoded application preference document.
type Setting struct {
	Key   string         `gorm:"primaryKey;size:128" json:"key"`
	Value datatypes.JSON `json:"value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
