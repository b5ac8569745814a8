package controller

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"regexp"

	"wgmgr/internal/ippool"
	"wgmgr/internal/models"
	"wgmgr/internal/vpn/wireguard"
)

// имена, которые принимает wg-quick
var ifaceNameRe = regexp.MustCompile(`^[a-zA-Z0-9_=+.-]{1,15}$`)

// State — состояние интерфейса: Absent → Configured → Active → Absent.
type State string

const (
	StateAbsent     State = "absent"
	StateConfigured State = "configured"
	StateActive     State = "active"
)

type CreateInterfaceRequest struct {
	Name        string
	Description string
	Addresses   []netip.Prefix
	Subnets     []netip.Prefix // пусто — выводятся из Addresses
	ListenPort  int            // 0 — 51820
	PrivateKey  string         // пусто — генерируется драйвером
}

// Status — живое состояние интерфейса из драйвера.
type Status struct {
	Name       string                     `json:"name"`
	State      State                      `json:"state"`
	ListenPort int                        `json:"listen_port,omitempty"`
	PublicKey  string                     `json:"public_key,omitempty"`
	Peers      []wireguard.PeerAllowedIPs `json:"peers,omitempty"`
}

// CreateInterface: проверка → ключ → файлы драйвера → activate → запись в хранилище.
// Сбой до activate включительно оставляет хранилище без изменений.
func (m *Manager) CreateInterface(ctx context.Context, req CreateInterfaceRequest) (iface models.Interface, err error) {
	defer func() { m.record(ctx, "create_interface", req.Name, "", err) }()

	if !ifaceNameRe.MatchString(req.Name) {
		return iface, invalid("bad interface name %q", req.Name)
	}
	unlock := m.locks.Lock(req.Name)
	defer unlock()

	// 1) дубликат
	if _, ok := m.Store.FindInterface(req.Name); ok {
		return iface, models.Errorf(models.ErrAlreadyExists, "interface %s", req.Name)
	}
	// 2) входные данные
	if len(req.Addresses) == 0 {
		return iface, invalid("interface %s: no addresses", req.Name)
	}
	iface, err = m.buildInterface(req)
	if err != nil {
		return models.Interface{}, err
	}

	// 3) ключ
	if req.PrivateKey != "" {
		if err := wireguard.ValidateKey(req.PrivateKey); err != nil {
			return models.Interface{}, err
		}
		iface.PrivateKey = req.PrivateKey
	} else if iface.PrivateKey, err = m.Gateway.GeneratePrivateKey(ctx); err != nil {
		return models.Interface{}, err
	}

	// 4) файлы драйвера (второй, независимый от хранилища, барьер от дублей)
	if err := m.writeNewFiles(&iface); err != nil {
		return models.Interface{}, err
	}

	// 5) activate
	if err := m.Gateway.Activate(ctx, iface.Name); err != nil {
		m.removeFiles(m.confPath(iface.Name), m.keyPath(iface.Name))
		return models.Interface{}, err
	}

	// 6-7) только после activate: запись в хранилище
	if err := m.Store.InsertInterface(ctx, iface); err != nil {
		m.rollbackCreate(ctx, iface.Name)
		return models.Interface{}, err
	}
	m.Log.Infof("interface %s created: addresses=%v port=%d", iface.Name, iface.Addresses, iface.ListenPort)
	return iface, nil
}

func (m *Manager) buildInterface(req CreateInterfaceRequest) (models.Interface, error) {
	iface := models.Interface{
		Name:        req.Name,
		Description: req.Description,
		Addresses:   append([]netip.Prefix(nil), req.Addresses...),
		ListenPort:  req.ListenPort,
	}
	for _, a := range req.Addresses {
		if !a.IsValid() {
			return iface, invalid("interface %s: bad address", req.Name)
		}
	}
	if iface.ListenPort == 0 {
		iface.ListenPort = models.DefaultListenPort
	}
	if iface.ListenPort < 1 || iface.ListenPort > 65535 {
		return iface, invalid("interface %s: listen port %d out of range", req.Name, iface.ListenPort)
	}

	subnets := req.Subnets
	if len(subnets) == 0 {
		for _, a := range req.Addresses {
			subnets = append(subnets, a.Masked())
		}
	}
	for _, s := range subnets {
		if !s.IsValid() {
			return iface, invalid("interface %s: bad subnet", req.Name)
		}
		iface.Subnets = append(iface.Subnets, s.Masked())
	}
	if a, b, found := ippool.Overlaps(iface.Subnets); found {
		return iface, invalid("interface %s: subnets %s and %s overlap", req.Name, a, b)
	}
	return iface, nil
}

// rollbackCreate откатывает activate и файлы, если хранилище не приняло интерфейс.
func (m *Manager) rollbackCreate(ctx context.Context, name string) {
	if err := m.Gateway.Deactivate(ctx, name); err != nil {
		m.Log.Warnf("rollback %s: deactivate: %v", name, err)
	}
	m.removeFiles(m.confPath(name), m.keyPath(name))
}

// DeleteInterface: deactivate (best-effort) → удаление файлов → удаление из хранилища.
func (m *Manager) DeleteInterface(ctx context.Context, name string) (err error) {
	defer func() { m.record(ctx, "delete_interface", name, "", err) }()

	unlock := m.locks.Lock(name)
	defer unlock()

	if _, ok := m.Store.FindInterface(name); !ok {
		return noSuchInterface(name)
	}
	if err := m.Gateway.Deactivate(ctx, name); err != nil {
		m.Log.Warnf("interface %s: deactivate: %v", name, err)
	}
	if err := m.removeFiles(m.confPath(name), m.keyPath(name)); err != nil {
		return models.Wrap(models.ErrPersistence, err)
	}
	if err := m.Store.RemoveInterface(ctx, name); err != nil {
		return err
	}
	m.Log.Infof("interface %s deleted", name)
	return nil
}

// SaveInterface перерисовывает файлы драйвера из хранилища.
func (m *Manager) SaveInterface(ctx context.Context, name string) (err error) {
	defer func() { m.record(ctx, "save_interface", name, "", err) }()

	unlock := m.locks.Lock(name)
	defer unlock()

	iface, ok := m.Store.FindInterface(name)
	if !ok {
		return noSuchInterface(name)
	}
	return m.writeFiles(&iface)
}

func (m *Manager) ListInterfaces() []models.Interface {
	return m.Store.Snapshot().Interfaces
}

func (m *Manager) GetInterface(name string) (models.Interface, error) {
	iface, ok := m.Store.FindInterface(name)
	if !ok {
		return iface, noSuchInterface(name)
	}
	return iface, nil
}

// State: нет в хранилище — Absent; драйвер знает порт — Active; иначе Configured.
func (m *Manager) State(ctx context.Context, name string) (State, error) {
	if _, ok := m.Store.FindInterface(name); !ok {
		return StateAbsent, nil
	}
	if _, err := m.Gateway.ListenPort(ctx, name); err != nil {
		if errors.Is(err, models.ErrInterfaceNotActive) {
			return StateConfigured, nil
		}
		return "", err
	}
	return StateActive, nil
}

// Status собирает живое состояние; для неактивного интерфейса — только State.
func (m *Manager) Status(ctx context.Context, name string) (Status, error) {
	st := Status{Name: name}
	state, err := m.State(ctx, name)
	if err != nil {
		return st, err
	}
	st.State = state
	switch state {
	case StateAbsent:
		return st, noSuchInterface(name)
	case StateConfigured:
		return st, nil
	}

	if st.ListenPort, err = m.Gateway.ListenPort(ctx, name); err != nil {
		return st, err
	}
	if st.PublicKey, err = m.Gateway.PublicKey(ctx, name); err != nil {
		return st, err
	}
	if st.Peers, err = m.Gateway.AllowedIPs(ctx, name); err != nil {
		return st, fmt.Errorf("allowed ips: %w", err)
	}
	return st, nil
}
