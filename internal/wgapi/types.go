package wgapi

import (
	"net/netip"
	"time"

	"wgmgr/internal/controller"
	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
)

type CreateInterfaceRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses"`
	Subnets     []string `json:"subnets,omitempty"`
	ListenPort  int      `json:"listen_port,omitempty"`
	PrivateKey  string   `json:"private_key,omitempty"`
}

type AddPeerRequest struct {
	Addresses            []string `json:"addresses,omitempty"`
	Networks             []string `json:"networks,omitempty"`
	AllowedIPs           []string `json:"allowed_ips,omitempty"`
	Keepalive            *int     `json:"keepalive,omitempty"`
	Endpoint             string   `json:"endpoint,omitempty"`
	PeerEndpoint         string   `json:"peer_endpoint,omitempty"`
	PeerListenPort       int      `json:"peer_listen_port,omitempty"`
	PrivateKey           string   `json:"private_key,omitempty"`
	PublicKey            string   `json:"public_key,omitempty"`
	PresharedKey         string   `json:"preshared_key,omitempty"`
	GeneratePresharedKey bool     `json:"generate_preshared_key,omitempty"`
	Description          string   `json:"description,omitempty"`
}

// SetPeerRequest: отсутствующее поле не меняется; allowed_ips: [] очищает список.
type SetPeerRequest struct {
	PublicKey    string   `json:"public_key"`
	Endpoint     *string  `json:"endpoint,omitempty"`
	AllowedIPs   []string `json:"allowed_ips,omitempty"`
	Keepalive    *int     `json:"keepalive,omitempty"`
	PresharedKey *string  `json:"preshared_key,omitempty"`
	Remove       bool     `json:"remove,omitempty"`
}

type PublicKeyRequest struct {
	PrivateKey string `json:"private_key"`
}

type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type PresharedKeyResponse struct {
	PresharedKey string `json:"preshared_key"`
}

// InterfaceView — интерфейс в ответах API. Приватные ключи наружу не отдаются.
type InterfaceView struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Addresses   []string   `json:"addresses"`
	Subnets     []string   `json:"subnets"`
	ListenPort  int        `json:"listen_port"`
	Peers       []PeerView `json:"peers"`
}

type PeerView struct {
	PublicKey        string   `json:"public_key"`
	HasPresharedKey  bool     `json:"has_preshared_key,omitempty"`
	Addresses        []string `json:"addresses"`
	Networks         []string `json:"networks,omitempty"`
	ServerKeepalive  int      `json:"server_keepalive"`
	PeerKeepalive    int      `json:"peer_keepalive"`
	ServerAllowedIPs []string `json:"server_allowed_ips"`
	PeerAllowedIPs   []string `json:"peer_allowed_ips"`
	Description      string   `json:"description,omitempty"`
	ServerEndpoint   string   `json:"server_endpoint,omitempty"`
	PeerEndpoint     string   `json:"peer_endpoint,omitempty"`
	PeerListenPort   int      `json:"peer_listen_port,omitempty"`
}

type AddPeerResponse struct {
	Peer         PeerView `json:"peer"`
	ClientConfig string   `json:"client_config"`
}

type EventView struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Op        string    `json:"op"`
	Interface string    `json:"interface,omitempty"`
	Peer      string    `json:"peer,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

type ReconcileView struct {
	Interface string   `json:"interface"`
	Added     []string `json:"added"`
	Updated   []string `json:"updated"`
	Unmanaged []string `json:"unmanaged"`
	Removed   []string `json:"removed"`
}

func reconcileView(r controller.ReconcileReport) ReconcileView {
	return ReconcileView{
		Interface: r.Interface,
		Added:     nonNil(r.Added),
		Updated:   nonNil(r.Updated),
		Unmanaged: nonNil(r.Unmanaged),
		Removed:   nonNil(r.Removed),
	}
}

// nonNil: в JSON пустой список, а не null.
func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func interfaceView(i models.Interface) InterfaceView {
	v := InterfaceView{
		Name:        i.Name,
		Description: i.Description,
		Addresses:   strs(i.Addresses),
		Subnets:     strs(i.Subnets),
		ListenPort:  i.ListenPort,
		Peers:       make([]PeerView, 0, len(i.Peers)),
	}
	for _, p := range i.Peers {
		v.Peers = append(v.Peers, peerView(p))
	}
	return v
}

func peerView(p models.Peer) PeerView {
	return PeerView{
		PublicKey:        p.PublicKey,
		HasPresharedKey:  p.PresharedKey != "",
		Addresses:        strs(p.Addresses),
		Networks:         strs(p.Networks),
		ServerKeepalive:  p.ServerKeepalive,
		PeerKeepalive:    p.PeerKeepalive,
		ServerAllowedIPs: strs(p.ServerAllowedIPs),
		PeerAllowedIPs:   strs(p.PeerAllowedIPs),
		Description:      p.Description,
		ServerEndpoint:   p.ServerEndpoint,
		PeerEndpoint:     p.PeerEndpoint,
		PeerListenPort:   p.PeerListenPort,
	}
}

func eventView(e models.Event) EventView {
	return EventView{
		ID:        e.UUID,
		At:        e.CreatedAt,
		Op:        e.Op,
		Interface: e.Interface,
		Peer:      e.PeerKey,
		Status:    e.Status,
		Error:     e.Error,
	}
}

func strs(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

// prefixes разбирает список адресов; nil на входе даёт nil.
func prefixes(field string, ss []string) ([]netip.Prefix, error) {
	if ss == nil {
		return nil, nil
	}
	out := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		p, err := wgconf.ParsePrefix(s)
		if err != nil {
			return nil, models.Errorf(models.ErrInvalidRequest, "%s: %v", field, err)
		}
		out = append(out, p)
	}
	return out, nil
}
