// Package wgtest — драйвер WireGuard в памяти для тестов.
package wgtest

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
	"wgmgr/internal/vpn/wireguard"
)

// Peer — живое состояние пира в фейковом драйвере.
type Peer struct {
	AllowedIPs   []string
	Keepalive    int
	Endpoint     string
	PresharedKey string
}

type device struct {
	port  int
	pub   string
	peers map[string]*Peer
	order []string
}

// Gateway реализует wireguard.Gateway в памяти.
// Если задан ConfigDir, Activate читает <name>.conf оттуда, как настоящий драйвер.
type Gateway struct {
	ConfigDir string

	mu    sync.Mutex
	devs  map[string]*device
	fail  map[string]error
	calls map[string]int
}

var _ wireguard.Gateway = (*Gateway)(nil)

func New(configDir string) *Gateway {
	return &Gateway{
		ConfigDir: configDir,
		devs:      map[string]*device{},
		fail:      map[string]error{},
		calls:     map[string]int{},
	}
}

// Fail заставляет метод op ("Activate", "ApplyPeer", ...) возвращать err; nil снимает сбой.
func (g *Gateway) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.fail, op)
		return
	}
	g.fail[op] = err
}

// Calls — сколько раз вызывался метод op.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Up поднимает интерфейс в обход Activate (пиры, добавленные «руками»).
func (g *Gateway) Up(name string, port int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.devs[name] = &device{port: port, peers: map[string]*Peer{}}
}

// Peer возвращает копию живого пира или nil.
func (g *Gateway) Peer(iface, pub string) *Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.devs[iface]
	if d == nil || d.peers[pub] == nil {
		return nil
	}
	cp := *d.peers[pub]
	cp.AllowedIPs = slices.Clone(cp.AllowedIPs)
	return &cp
}

// Active — поднят ли интерфейс.
func (g *Gateway) Active(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.devs[name] != nil
}

func (g *Gateway) enter(op string) error {
	g.calls[op]++
	return g.fail[op]
}

func (g *Gateway) GeneratePrivateKey(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GeneratePrivateKey"); err != nil {
		return "", err
	}
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", models.Wrap(models.ErrToolUnavailable, err)
	}
	return k.String(), nil
}

func (g *Gateway) DerivePublicKey(_ context.Context, private string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("DerivePublicKey"); err != nil {
		return "", err
	}
	return wireguard.PublicFromPrivate(private)
}

func (g *Gateway) ListenPort(_ context.Context, iface string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, err := g.dev("ListenPort", iface)
	if err != nil {
		return 0, err
	}
	return d.port, nil
}

func (g *Gateway) PublicKey(_ context.Context, iface string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, err := g.dev("PublicKey", iface)
	if err != nil {
		return "", err
	}
	return d.pub, nil
}

func (g *Gateway) AllowedIPs(_ context.Context, iface string) ([]wireguard.PeerAllowedIPs, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, err := g.dev("AllowedIPs", iface)
	if err != nil {
		return nil, err
	}
	out := make([]wireguard.PeerAllowedIPs, 0, len(d.order))
	for _, pub := range d.order {
		item := wireguard.PeerAllowedIPs{PublicKey: pub}
		for _, s := range d.peers[pub].AllowedIPs {
			p, err := wgconf.ParsePrefix(s)
			if err != nil {
				return nil, models.Wrap(models.ErrDriverError, err)
			}
			item.AllowedIPs = append(item.AllowedIPs, p)
		}
		out = append(out, item)
	}
	return out, nil
}

func (g *Gateway) ApplyPeer(_ context.Context, iface string, u wireguard.PeerUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, err := g.dev("ApplyPeer", iface)
	if err != nil {
		return err
	}
	if u.Remove {
		delete(d.peers, u.PublicKey)
		d.order = slices.DeleteFunc(d.order, func(s string) bool { return s == u.PublicKey })
		return nil
	}
	p := d.peers[u.PublicKey]
	if p == nil {
		p = &Peer{}
		d.peers[u.PublicKey] = p
		d.order = append(d.order, u.PublicKey)
	}
	if u.Keepalive != nil {
		p.Keepalive = *u.Keepalive
	}
	if u.AllowedIPs != nil {
		p.AllowedIPs = p.AllowedIPs[:0]
		for _, a := range u.AllowedIPs {
			p.AllowedIPs = append(p.AllowedIPs, a.String())
		}
	}
	if u.Endpoint != "" {
		p.Endpoint = u.Endpoint
	}
	if u.PresharedKey != nil {
		p.PresharedKey = *u.PresharedKey
	}
	return nil
}

func (g *Gateway) Activate(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("Activate"); err != nil {
		return err
	}
	d := &device{port: models.DefaultListenPort, peers: map[string]*Peer{}}
	if g.ConfigDir != "" {
		data, err := os.ReadFile(filepath.Join(g.ConfigDir, wgconf.ConfName(name)))
		if err != nil {
			return models.Wrap(models.ErrDriverError, err)
		}
		conf, err := wgconf.Parse(data)
		if err != nil {
			return models.Wrap(models.ErrDriverError, err)
		}
		d.port = conf.ListenPort
		if d.pub, err = wireguard.PublicFromPrivate(conf.PrivateKey); err != nil {
			return models.Wrap(models.ErrDriverError, err)
		}
		for _, p := range conf.Peers {
			lp := &Peer{Keepalive: p.Keepalive, Endpoint: p.Endpoint, PresharedKey: p.PresharedKey}
			for _, a := range p.AllowedIPs {
				lp.AllowedIPs = append(lp.AllowedIPs, a.String())
			}
			d.peers[p.PublicKey] = lp
			d.order = append(d.order, p.PublicKey)
		}
	}
	g.devs[name] = d
	return nil
}

func (g *Gateway) Deactivate(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("Deactivate"); err != nil {
		return err
	}
	delete(g.devs, name)
	return nil
}

func (g *Gateway) dev(op, name string) (*device, error) {
	if err := g.enter(op); err != nil {
		return nil, err
	}
	d := g.devs[name]
	if d == nil {
		return nil, models.Errorf(models.ErrInterfaceNotActive, "device %s not found", name)
	}
	return d, nil
}
