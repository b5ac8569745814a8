// Package wireguard — доступ к драйверу WireGuard: ключи, живое состояние
// интерфейса, пиры и запуск/остановка интерфейса.
package wireguard

import (
	"context"
	"net/netip"
)

// Gateway — возможности драйвера, которые нужны менеджеру жизненного цикла.
// Каждый вызов может завершиться ошибкой класса models.ErrToolUnavailable,
// models.ErrDriverError или models.ErrInterfaceNotActive.
type Gateway interface {
	GeneratePrivateKey(ctx context.Context) (string, error)
	DerivePublicKey(ctx context.Context, private string) (string, error)

	// ListenPort и PublicKey читают живое состояние; интерфейса нет — ErrInterfaceNotActive.
	ListenPort(ctx context.Context, iface string) (int, error)
	PublicKey(ctx context.Context, iface string) (string, error)
	AllowedIPs(ctx context.Context, iface string) ([]PeerAllowedIPs, error)

	// ApplyPeer добавляет/меняет пира. Удаление отсутствующего пира ошибкой не считается.
	ApplyPeer(ctx context.Context, iface string, p PeerUpdate) error

	Activate(ctx context.Context, name string) error
	// Deactivate безопасен для уже остановленного интерфейса.
	Deactivate(ctx context.Context, name string) error
}

// PeerAllowedIPs — живые allowed-ips одного пира.
type PeerAllowedIPs struct {
	PublicKey  string
	AllowedIPs []netip.Prefix
}

// PeerUpdate — изменение пира. Пустые поля не трогаются,
// Remove перекрывает всё остальное.
type PeerUpdate struct {
	PublicKey    string
	Keepalive    *int
	AllowedIPs   []netip.Prefix // nil — не менять
	Endpoint     string
	PresharedKey *string // nil — не менять, "" — снять ключ
	Remove       bool
}

// PSK — ключ для PeerUpdate при добавлении пира: пустой не передаётся.
func PSK(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

// Flatten сводит живые allowed-ips всех пиров в один список.
func Flatten(peers []PeerAllowedIPs) []netip.Prefix {
	var out []netip.Prefix
	for _, p := range peers {
		out = append(out, p.AllowedIPs...)
	}
	return out
}
