package models

import "time"

// Статусы записи журнала.
const (
	EventOK     = "ok"
	EventFailed = "failed"
)

// Event — запись журнала переходов жизненного цикла.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	UUID      string `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	Op        string `gorm:"size:64;not null" json:"op"` // create_interface, add_peer, ...
	Interface string `gorm:"index;size:64;not null" json:"interface"`
	PeerKey   string `gorm:"size:64" json:"peer,omitempty"`
	Status    string `gorm:"size:16;not null" json:"status"`
	Error     string `gorm:"size:1024" json:"error,omitempty"`
}
