package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConfigDocument — строка с сериализованным Config для хранения в БД.
type ConfigDocument struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:64;not null"`
	Body      datatypes.JSON
	Revision  int `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
