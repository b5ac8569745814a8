package wireguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
)

// wgClient — часть *wgctrl.Client, которой пользуется Native.
type wgClient interface {
	Device(name string) (*wgtypes.Device, error)
	ConfigureDevice(name string, cfg wgtypes.Config) error
	Close() error
}

// Native — драйвер через netlink ядра (wgctrl + vishvananda/netlink), без wg и systemd.
// Activate поднимает интерфейс из отрендеренного <dir>/<name>.conf так же, как wg-quick up.
type Native struct {
	dir  string
	log  logrus.FieldLogger
	open func() (wgClient, error)
}

func NewNative(configDir string, log logrus.FieldLogger) *Native {
	return &Native{
		dir: configDir,
		log: log,
		open: func() (wgClient, error) {
			c, err := wgctrl.New()
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

func (n *Native) GeneratePrivateKey(context.Context) (string, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", models.Wrap(models.ErrToolUnavailable, err)
	}
	return k.String(), nil
}

func (n *Native) DerivePublicKey(_ context.Context, private string) (string, error) {
	return PublicFromPrivate(private)
}

func (n *Native) ListenPort(_ context.Context, iface string) (int, error) {
	dev, err := n.device(iface)
	if err != nil {
		return 0, err
	}
	return dev.ListenPort, nil
}

func (n *Native) PublicKey(_ context.Context, iface string) (string, error) {
	dev, err := n.device(iface)
	if err != nil {
		return "", err
	}
	return dev.PublicKey.String(), nil
}

func (n *Native) AllowedIPs(_ context.Context, iface string) ([]PeerAllowedIPs, error) {
	dev, err := n.device(iface)
	if err != nil {
		return nil, err
	}
	out := make([]PeerAllowedIPs, 0, len(dev.Peers))
	for _, p := range dev.Peers {
		item := PeerAllowedIPs{PublicKey: p.PublicKey.String()}
		for _, ipn := range p.AllowedIPs {
			if pfx, ok := prefixFromIPNet(ipn); ok {
				item.AllowedIPs = append(item.AllowedIPs, pfx)
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (n *Native) ApplyPeer(_ context.Context, iface string, p PeerUpdate) error {
	pc, err := PeerConfig(p)
	if err != nil {
		return err
	}
	return n.configure(iface, wgtypes.Config{Peers: []wgtypes.PeerConfig{pc}})
}

func (n *Native) Activate(ctx context.Context, name string) error {
	data, err := os.ReadFile(filepath.Join(n.dir, wgconf.ConfName(name)))
	if err != nil {
		return models.Wrap(models.ErrDriverError, err)
	}
	conf, err := wgconf.Parse(data)
	if err != nil {
		return models.Wrap(models.ErrDriverError, fmt.Errorf("%s: %w", wgconf.ConfName(name), err))
	}
	cfg, err := DeviceConfig(conf)
	if err != nil {
		return err
	}

	if err := netlink.LinkAdd(&netlink.Wireguard{LinkAttrs: netlink.LinkAttrs{Name: name}}); err != nil && !os.IsExist(err) {
		return models.Wrap(models.ErrDriverError, fmt.Errorf("create link %s: %w", name, err))
	}
	link, err := netlink.LinkByName(name)
	if err != nil {
		return models.Wrap(models.ErrDriverError, fmt.Errorf("get link %s: %w", name, err))
	}
	for _, a := range conf.Addresses {
		addr, err := netlink.ParseAddr(a.String())
		if err != nil {
			return models.Wrap(models.ErrDriverError, err)
		}
		if err := netlink.AddrReplace(link, addr); err != nil {
			return models.Wrap(models.ErrDriverError, fmt.Errorf("assign %s to %s: %w", a, name, err))
		}
	}
	if err := n.configure(name, cfg); err != nil {
		return err
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return models.Wrap(models.ErrDriverError, fmt.Errorf("set %s up: %w", name, err))
	}

	// маршруты в туннель для allowed-ips пиров
	for _, p := range conf.Peers {
		for _, a := range p.AllowedIPs {
			dst := ipNetFromPrefix(a.Masked())
			route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: &dst}
			if err := netlink.RouteAdd(route); err != nil && !os.IsExist(err) {
				n.log.Warnf("route %s via %s: %v", a, name, err)
			}
		}
	}
	n.log.Infof("interface %s up: port=%d peers=%d", name, conf.ListenPort, len(conf.Peers))
	return ctx.Err()
}

func (n *Native) Deactivate(_ context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var nf netlink.LinkNotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return models.Wrap(models.ErrDriverError, fmt.Errorf("get link %s: %w", name, err))
	}
	if err := netlink.LinkDel(link); err != nil {
		return models.Wrap(models.ErrDriverError, fmt.Errorf("delete link %s: %w", name, err))
	}
	return nil
}

func (n *Native) device(name string) (*wgtypes.Device, error) {
	c, err := n.open()
	if err != nil {
		return nil, models.Wrap(models.ErrToolUnavailable, fmt.Errorf("wgctrl: %w", err))
	}
	defer c.Close()

	dev, err := c.Device(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.Wrap(models.ErrInterfaceNotActive, fmt.Errorf("device %s: %w", name, err))
		}
		return nil, models.Wrap(models.ErrDriverError, fmt.Errorf("device %s: %w", name, err))
	}
	return dev, nil
}

func (n *Native) configure(name string, cfg wgtypes.Config) error {
	c, err := n.open()
	if err != nil {
		return models.Wrap(models.ErrToolUnavailable, fmt.Errorf("wgctrl: %w", err))
	}
	defer c.Close()

	if err := c.ConfigureDevice(name, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Wrap(models.ErrInterfaceNotActive, fmt.Errorf("device %s: %w", name, err))
		}
		return models.Wrap(models.ErrDriverError, fmt.Errorf("configure %s: %w", name, err))
	}
	return nil
}

// PeerConfig переводит PeerUpdate в wgtypes.PeerConfig.
func PeerConfig(p PeerUpdate) (wgtypes.PeerConfig, error) {
	pub, err := wgtypes.ParseKey(p.PublicKey)
	if err != nil {
		return wgtypes.PeerConfig{}, models.Errorf(models.ErrInvalidRequest, "bad public key: %v", err)
	}
	pc := wgtypes.PeerConfig{PublicKey: pub}
	if p.Remove {
		pc.Remove = true
		return pc, nil
	}
	if p.Keepalive != nil {
		ka := time.Duration(*p.Keepalive) * time.Second
		pc.PersistentKeepaliveInterval = &ka
	}
	if p.AllowedIPs != nil {
		pc.ReplaceAllowedIPs = true
		for _, a := range p.AllowedIPs {
			pc.AllowedIPs = append(pc.AllowedIPs, ipNetFromPrefix(a.Masked()))
		}
	}
	if p.Endpoint != "" {
		ep, err := net.ResolveUDPAddr("udp", p.Endpoint)
		if err != nil {
			return wgtypes.PeerConfig{}, models.Errorf(models.ErrInvalidRequest, "bad endpoint %q: %v", p.Endpoint, err)
		}
		pc.Endpoint = ep
	}
	switch {
	case p.PresharedKey == nil:
	case *p.PresharedKey == "":
		// нулевой ключ снимает PSK
		pc.PresharedKey = &wgtypes.Key{}
	default:
		psk, err := wgtypes.ParseKey(*p.PresharedKey)
		if err != nil {
			return wgtypes.PeerConfig{}, models.Errorf(models.ErrInvalidRequest, "bad preshared key: %v", err)
		}
		pc.PresharedKey = &psk
	}
	return pc, nil
}

// DeviceConfig собирает полную конфигурацию устройства из разобранного conf.
func DeviceConfig(conf *wgconf.Parsed) (wgtypes.Config, error) {
	priv, err := wgtypes.ParseKey(conf.PrivateKey)
	if err != nil {
		return wgtypes.Config{}, models.Errorf(models.ErrDriverError, "bad private key in config: %v", err)
	}
	port := conf.ListenPort
	cfg := wgtypes.Config{PrivateKey: &priv, ListenPort: &port, ReplacePeers: true}
	for _, p := range conf.Peers {
		ka := p.Keepalive
		pc, err := PeerConfig(PeerUpdate{
			PublicKey:    p.PublicKey,
			Keepalive:    &ka,
			AllowedIPs:   p.AllowedIPs,
			Endpoint:     p.Endpoint,
			PresharedKey: PSK(p.PresharedKey),
		})
		if err != nil {
			return wgtypes.Config{}, err
		}
		cfg.Peers = append(cfg.Peers, pc)
	}
	return cfg, nil
}

func ipNetFromPrefix(p netip.Prefix) net.IPNet {
	return net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

func prefixFromIPNet(n net.IPNet) (netip.Prefix, bool) {
	a, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := n.Mask.Size()
	if a.Is4In6() && bits == 128 {
		ones -= 96
	}
	a = a.Unmap()
	if ones < 0 || ones > a.BitLen() {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(a, ones), true
}
