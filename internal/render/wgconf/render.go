// Package wgconf рендерит конфиги WireGuard в формате wg-quick:
// серверный <name>.conf с ключом, клиентский конфиг пира и обратный разбор.
package wgconf

import (
	"fmt"
	"net/netip"
	"strings"

	"wgmgr/internal/models"
)

// File — один файл для записи в каталог драйвера.
type File struct {
	Name string // "wg0.conf", "wg0.key"
	Data []byte
	Mode int
}

// Client — данные для клиентского конфига пира.
type Client struct {
	PrivateKey      string // пусто, если ключ прислал сам клиент
	ListenPort      int
	Addresses       []netip.Prefix
	ServerPublicKey string
	PresharedKey    string
	Endpoint        string
	Keepalive       int
	AllowedIPs      []netip.Prefix
}

// ConfName и KeyName — имена файлов интерфейса в каталоге драйвера.
func ConfName(iface string) string { return iface + ".conf" }
func KeyName(iface string) string  { return iface + ".key" }

// Files — всё, что пишется на диск для интерфейса.
func Files(iface *models.Interface) []File {
	return []File{
		{Name: ConfName(iface.Name), Data: Driver(iface), Mode: 0o600},
		{Name: KeyName(iface.Name), Data: []byte(iface.PrivateKey + "\n"), Mode: 0o600},
	}
}

// Driver рендерит конфиг интерфейса вместе с пирами.
func Driver(iface *models.Interface) []byte {
	var b strings.Builder
	addLine(&b, "[Interface]\n")
	opt(&b, "PrivateKey", iface.PrivateKey)
	addLine(&b, "ListenPort = %d\n", iface.ListenPort)
	opt(&b, "Address", join(iface.Addresses))

	for i := range iface.Peers {
		p := &iface.Peers[i]
		addLine(&b, "\n[Peer]\n")
		opt(&b, "PublicKey", p.PublicKey)
		opt(&b, "PresharedKey", p.PresharedKey)
		opt(&b, "Endpoint", p.PeerEndpoint)
		if p.ServerKeepalive > 0 {
			addLine(&b, "PersistentKeepalive = %d\n", p.ServerKeepalive)
		}
		opt(&b, "AllowedIps", join(p.ServerAllowedIPs))
	}
	return []byte(b.String())
}

// ClientConfig — текст, который пир импортирует у себя. На сервере не хранится.
func ClientConfig(c Client) string {
	var b strings.Builder
	addLine(&b, "[Interface]\n")
	opt(&b, "PrivateKey", c.PrivateKey)
	if c.ListenPort > 0 {
		addLine(&b, "ListenPort = %d\n", c.ListenPort)
	}
	opt(&b, "Address", join(c.Addresses))

	addLine(&b, "\n[Peer]\n")
	opt(&b, "PublicKey", c.ServerPublicKey)
	opt(&b, "PresharedKey", c.PresharedKey)
	opt(&b, "Endpoint", c.Endpoint)
	if c.Keepalive > 0 {
		addLine(&b, "PersistentKeepalive = %d\n", c.Keepalive)
	}
	opt(&b, "AllowedIps", join(c.AllowedIPs))
	return b.String()
}

// ===== helpers =====
func addLine(b *strings.Builder, format string, args ...any) { fmt.Fprintf(b, format, args...) }

func opt(b *strings.Builder, k, v string) {
	if v == "" {
		return
	}
	addLine(b, "%s = %s\n", k, v)
}

func join(ps []netip.Prefix) string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return strings.Join(out, ", ")
}
