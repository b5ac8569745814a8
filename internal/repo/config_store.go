package repo

import (
	"context"
	"sync"

	"wgmgr/internal/models"
)

// ConfigStore — Config в памяти поверх DocumentStore.
// Изменения копируются, сохраняются и только потом подменяют текущую версию:
// читатели не видят недосохранённых состояний.
type ConfigStore struct {
	doc DocumentStore

	mu  sync.RWMutex
	cfg *models.Config
}

func NewConfigStore(doc DocumentStore) *ConfigStore {
	return &ConfigStore{doc: doc, cfg: &models.Config{}}
}

// Load перечитывает документ с диска/из БД.
func (s *ConfigStore) Load(ctx context.Context) error {
	c, err := s.doc.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = c
	s.mu.Unlock()
	return nil
}

// Snapshot — глубокая копия текущего Config.
func (s *ConfigStore) Snapshot() *models.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// FindInterface возвращает копию интерфейса.
func (s *ConfigStore) FindInterface(name string) (models.Interface, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.cfg.Find(name)
	if i < 0 {
		return models.Interface{}, false
	}
	return s.cfg.Interfaces[i].Clone(), true
}

// InsertInterface добавляет интерфейс в конец списка и сохраняет документ.
func (s *ConfigStore) InsertInterface(ctx context.Context, iface models.Interface) error {
	return s.mutate(ctx, func(c *models.Config) error {
		if c.Find(iface.Name) >= 0 {
			return models.Errorf(models.ErrAlreadyExists, "interface %s", iface.Name)
		}
		c.Interfaces = append(c.Interfaces, iface.Clone())
		return nil
	})
}

// RemoveInterface удаляет интерфейс по имени.
func (s *ConfigStore) RemoveInterface(ctx context.Context, name string) error {
	return s.mutate(ctx, func(c *models.Config) error {
		i := c.Find(name)
		if i < 0 {
			return models.Errorf(models.ErrNoSuchInterface, "interface %s", name)
		}
		c.Interfaces = append(c.Interfaces[:i], c.Interfaces[i+1:]...)
		return nil
	})
}

// UpdateInterface применяет fn к копии интерфейса; ошибка fn отменяет изменение.
func (s *ConfigStore) UpdateInterface(ctx context.Context, name string, fn func(*models.Interface) error) error {
	return s.mutate(ctx, func(c *models.Config) error {
		i := c.Find(name)
		if i < 0 {
			return models.Errorf(models.ErrNoSuchInterface, "interface %s", name)
		}
		return fn(&c.Interfaces[i])
	})
}

// Check — готовность нижележащего хранилища.
func (s *ConfigStore) Check(ctx context.Context) error { return s.doc.Check(ctx) }

func (s *ConfigStore) mutate(ctx context.Context, fn func(*models.Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.doc.Save(ctx, next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}
