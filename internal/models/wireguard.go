package models

import (
	"net/netip"
	"slices"
)

// Значения по умолчанию (совпадают с wg-quick / исходной утилитой).
const (
	DefaultListenPort = 51820
	DefaultKeepalive  = 25
)

// DefaultPeerAllowedIPs — маршруты клиента через туннель, если не заданы явно.
var DefaultPeerAllowedIPs = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/0"),
	netip.MustParsePrefix("::/0"),
}

// Peer — удалённая сторона интерфейса, идентифицируется публичным ключом.
type Peer struct {
	PublicKey    string
	PrivateKey   string // только если ключ сгенерирован сервером и политика хранения разрешает
	PresharedKey string

	Addresses []netip.Prefix // адреса пира, по одному на подсеть (или явный список)
	Networks  []netip.Prefix // сети за пиром, которые сервер маршрутизирует в туннель

	ServerKeepalive int // keepalive, который сервер применяет к пиру
	PeerKeepalive   int // keepalive в клиентском конфиге

	ServerAllowedIPs []netip.Prefix // allowed-ips на стороне сервера
	PeerAllowedIPs   []netip.Prefix // AllowedIps в клиентском конфиге

	Description    string
	ServerEndpoint string // host:port, куда подключается клиент
	PeerEndpoint   string // host:port пира, если известен
	PeerListenPort int
}

// Interface — один туннельный интерфейс со своими ключами, портом и пирами.
type Interface struct {
	Name        string
	Description string
	Addresses   []netip.Prefix // адреса сервера, например 10.1.0.1/24
	Subnets     []netip.Prefix // пул для адресов пиров
	PrivateKey  string
	ListenPort  int
	Peers       []Peer
}

// Config — корневой агрегат, единица сохранения.
type Config struct {
	Interfaces []Interface
}

// FindPeer возвращает индекс пира по публичному ключу или -1.
func (i *Interface) FindPeer(publicKey string) int {
	return slices.IndexFunc(i.Peers, func(p Peer) bool { return p.PublicKey == publicKey })
}

// Find возвращает индекс интерфейса по имени или -1.
func (c *Config) Find(name string) int {
	return slices.IndexFunc(c.Interfaces, func(i Interface) bool { return i.Name == name })
}

// Clone — глубокая копия: хранилище отдаёт наружу только копии.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := &Config{}
	if c.Interfaces != nil {
		out.Interfaces = make([]Interface, len(c.Interfaces))
		for i := range c.Interfaces {
			out.Interfaces[i] = c.Interfaces[i].Clone()
		}
	}
	return out
}

func (i Interface) Clone() Interface {
	out := i
	out.Addresses = slices.Clone(i.Addresses)
	out.Subnets = slices.Clone(i.Subnets)
	if i.Peers != nil {
		out.Peers = make([]Peer, len(i.Peers))
		for n := range i.Peers {
			out.Peers[n] = i.Peers[n].Clone()
		}
	}
	return out
}

func (p Peer) Clone() Peer {
	out := p
	out.Addresses = slices.Clone(p.Addresses)
	out.Networks = slices.Clone(p.Networks)
	out.ServerAllowedIPs = slices.Clone(p.ServerAllowedIPs)
	out.PeerAllowedIPs = slices.Clone(p.PeerAllowedIPs)
	return out
}

// HostPrefix сводит адрес к /32 (IPv4) или /128 (IPv6).
func HostPrefix(p netip.Prefix) netip.Prefix {
	a := p.Addr()
	return netip.PrefixFrom(a, a.BitLen())
}
