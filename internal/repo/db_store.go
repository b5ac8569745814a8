package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wgmgr/internal/models"
)

// DBStore хранит документ одной строкой config_documents (тело — JSON).
type DBStore struct {
	db   *gorm.DB
	name string
}

func NewDBStore(db *gorm.DB, name string) *DBStore {
	if name == "" {
		name = "default"
	}
	return &DBStore{db: db, name: name}
}

func (s *DBStore) Load(ctx context.Context) (*models.Config, error) {
	var row models.ConfigDocument
	err := s.db.WithContext(ctx).Where(&models.ConfigDocument{Name: s.name}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Config{}, nil
	}
	if err != nil {
		return nil, models.Wrap(models.ErrPersistence, err)
	}
	if len(row.Body) == 0 {
		return &models.Config{}, nil
	}

	var d document
	if err := json.Unmarshal(row.Body, &d); err != nil {
		return nil, models.Wrap(models.ErrPersistence, fmt.Errorf("document %s: %w", s.name, err))
	}
	c, err := decodeConfig(d)
	if err != nil {
		return nil, models.Wrap(models.ErrPersistence, fmt.Errorf("document %s: %w", s.name, err))
	}
	return c, nil
}

// Save пишет документ в транзакции: строка либо обновлена целиком, либо не тронута.
func (s *DBStore) Save(ctx context.Context, c *models.Config) error {
	body, err := json.Marshal(encodeConfig(c))
	if err != nil {
		return models.Wrap(models.ErrPersistence, err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ConfigDocument
		err := tx.Where(&models.ConfigDocument{Name: s.name}).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.ConfigDocument{
				Name:     s.name,
				Body:     datatypes.JSON(body),
				Revision: 1,
			}).Error
		}
		if err != nil {
			return err
		}
		row.Body = datatypes.JSON(body)
		row.Revision++
		return tx.Save(&row).Error
	})
	if err != nil {
		return models.Wrap(models.ErrPersistence, err)
	}
	return nil
}

// Revision — номер последней сохранённой версии (0, если документа ещё нет).
func (s *DBStore) Revision(ctx context.Context) (int, error) {
	var row models.ConfigDocument
	err := s.db.WithContext(ctx).Select("revision").Where(&models.ConfigDocument{Name: s.name}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return row.Revision, err
}

func (s *DBStore) Check(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
