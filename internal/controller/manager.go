package controller

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"wgmgr/internal/endpoint"
	"wgmgr/internal/fsutil"
	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
	"wgmgr/internal/vpn/wireguard"
)

// Хранилище конфигурации (repo.ConfigStore)
type Store interface {
	Snapshot() *models.Config
	FindInterface(name string) (models.Interface, bool)
	InsertInterface(ctx context.Context, iface models.Interface) error
	RemoveInterface(ctx context.Context, name string) error
	UpdateInterface(ctx context.Context, name string, fn func(*models.Interface) error) error
}

// Журнал переходов (repo.EventStore); может отсутствовать.
type Journal interface {
	Record(ctx context.Context, e *models.Event) error
}

type Options struct {
	ConfigDir             string         // каталог <name>.conf/<name>.key, /etc/wireguard
	RetainPeerPrivateKeys bool           // хранить сгенерированные сервером ключи пиров
	DefaultKeepalive      int            // 25
	PeerAllowedIPs        []netip.Prefix // AllowedIps клиента по умолчанию
}

// Manager — жизненный цикл интерфейсов и пиров.
// Переходы по одному интерфейсу сериализуются, по разным идут параллельно.
type Manager struct {
	Store    Store
	Gateway  wireguard.Gateway
	Endpoint endpoint.Discoverer
	Journal  Journal
	Log      logrus.FieldLogger
	Opts     Options

	locks keyedMutex
}

func NewManager(store Store, gw wireguard.Gateway, ep endpoint.Discoverer, log logrus.FieldLogger, opts Options) *Manager {
	if opts.ConfigDir == "" {
		opts.ConfigDir = "/etc/wireguard"
	}
	if opts.DefaultKeepalive <= 0 {
		opts.DefaultKeepalive = models.DefaultKeepalive
	}
	if len(opts.PeerAllowedIPs) == 0 {
		opts.PeerAllowedIPs = models.DefaultPeerAllowedIPs
	}
	return &Manager{Store: store, Gateway: gw, Endpoint: ep, Log: log, Opts: opts}
}

// ---- файлы драйвера ----

func (m *Manager) confPath(name string) string {
	return filepath.Join(m.Opts.ConfigDir, wgconf.ConfName(name))
}

func (m *Manager) keyPath(name string) string {
	return filepath.Join(m.Opts.ConfigDir, wgconf.KeyName(name))
}

// writeNewFiles создаёт conf и key; любой из них уже есть — ErrAlreadyExists.
func (m *Manager) writeNewFiles(iface *models.Interface) error {
	written := make([]string, 0, 2)
	for _, f := range wgconf.Files(iface) {
		path := filepath.Join(m.Opts.ConfigDir, f.Name)
		if err := fsutil.WriteNew(path, f.Data, os.FileMode(f.Mode)); err != nil {
			m.removeFiles(written...)
			if errors.Is(err, os.ErrExist) {
				return models.Errorf(models.ErrAlreadyExists, "%s already exists on disk", path)
			}
			return models.Wrap(models.ErrPersistence, err)
		}
		written = append(written, path)
	}
	return nil
}

// writeFiles перерисовывает conf и key интерфейса.
func (m *Manager) writeFiles(iface *models.Interface) error {
	for _, f := range wgconf.Files(iface) {
		path := filepath.Join(m.Opts.ConfigDir, f.Name)
		if err := fsutil.WriteFile(path, f.Data, os.FileMode(f.Mode)); err != nil {
			return models.Wrap(models.ErrPersistence, err)
		}
	}
	return nil
}

func (m *Manager) removeFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := fsutil.RemoveIfExists(p); err != nil {
			m.Log.Warnf("remove %s: %v", p, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---- журнал ----

func (m *Manager) record(ctx context.Context, op, iface, peer string, err error) {
	if m.Journal == nil {
		return
	}
	e := &models.Event{Op: op, Interface: iface, PeerKey: peer, Status: models.EventOK}
	if err != nil {
		e.Status = models.EventFailed
		e.Error = err.Error()
	}
	// журнал не должен зависеть от отмены запроса
	if jerr := m.Journal.Record(context.WithoutCancel(ctx), e); jerr != nil {
		m.Log.Warnf("journal %s %s: %v", op, iface, jerr)
	}
}

// ---- блокировки по имени интерфейса ----

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock захватывает мьютекс name и возвращает функцию освобождения.
func (k *keyedMutex) Lock(name string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedEntry{}
	}
	e := k.locks[name]
	if e == nil {
		e = &keyedEntry{}
		k.locks[name] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, name)
		}
		k.mu.Unlock()
	}
}

func hostPrefixes(ps []netip.Prefix) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(ps))
	for _, p := range ps {
		out = append(out, models.HostPrefix(p))
	}
	return out
}

func addrsOf(ps []netip.Prefix) []netip.Addr {
	out := make([]netip.Addr, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Addr())
	}
	return out
}

func invalid(format string, args ...any) error {
	return models.Errorf(models.ErrInvalidRequest, format, args...)
}

func noSuchInterface(name string) error {
	return models.Wrap(models.ErrNoSuchInterface, fmt.Errorf("interface %s", name))
}
