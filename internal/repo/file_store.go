package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"wgmgr/internal/fsutil"
	"wgmgr/internal/models"
)

// DocumentStore — долговременное хранилище Config целиком.
type DocumentStore interface {
	// Load: отсутствующий документ — пустой Config, не ошибка.
	Load(ctx context.Context) (*models.Config, error)
	// Save атомарен: после сбоя читается либо старый, либо новый документ.
	Save(ctx context.Context, c *models.Config) error
	// Check — готовность хранилища (для /readyz).
	Check(ctx context.Context) error
}

// FileStore хранит документ в YAML-файле.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (*models.Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &models.Config{}, nil
	}
	if err != nil {
		return nil, models.Wrap(models.ErrPersistence, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &models.Config{}, nil
	}

	var d document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, models.Wrap(models.ErrPersistence, fmt.Errorf("parse %s: %w", s.path, err))
	}
	c, err := decodeConfig(d)
	if err != nil {
		return nil, models.Wrap(models.ErrPersistence, fmt.Errorf("decode %s: %w", s.path, err))
	}
	return c, nil
}

func (s *FileStore) Save(_ context.Context, c *models.Config) error {
	data, err := Marshal(c)
	if err != nil {
		return models.Wrap(models.ErrPersistence, err)
	}
	if err := fsutil.WriteFile(s.path, data, 0o600); err != nil {
		return models.Wrap(models.ErrPersistence, err)
	}
	return nil
}

// Check проверяет, что каталог документа существует и доступен.
func (s *FileStore) Check(_ context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// Marshal сериализует Config в YAML-документ (используется и для бэкапа).
func Marshal(c *models.Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(encodeConfig(c)); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
