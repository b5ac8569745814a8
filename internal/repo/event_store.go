package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wgmgr/internal/models"
)

// EventStore — журнал переходов в БД.
type EventStore struct{ db *gorm.DB }

func NewEventStore(db *gorm.DB) *EventStore { return &EventStore{db: db} }

// Record дописывает событие. UUID и время проставляются, если пусты.
func (s *EventStore) Record(ctx context.Context, e *models.Event) error {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Error) > 1024 {
		e.Error = e.Error[:1024]
	}
	return s.db.WithContext(ctx).Create(e).Error
}

type EventFilter struct {
	Interface string
	Limit     int
}

// List — последние события, новые первыми.
func (s *EventStore) List(ctx context.Context, f EventFilter) ([]models.Event, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(f.Limit)
	if f.Interface != "" {
		q = q.Where(&models.Event{Interface: f.Interface})
	}
	var out []models.Event
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
