package repo

import (
	"fmt"
	"net/netip"

	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
)

// Сохраняемый документ. Единственная граница преобразования
// models.Config <-> документ: encodeConfig / decodeConfig.

type document struct {
	Interfaces []interfaceDoc `yaml:"interfaces" json:"interfaces"`
}

type interfaceDoc struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Addresses   []string  `yaml:"addresses" json:"addresses"`
	Subnets     *[]string `yaml:"subnets" json:"subnets"` // нет ключа — документ старого формата
	PrivateKey  string    `yaml:"private_key" json:"private_key"`
	ListenPort  int       `yaml:"listen_port" json:"listen_port"`
	Peers       []peerDoc `yaml:"peers" json:"peers"`
}

type peerDoc struct {
	PublicKey        string   `yaml:"public_key" json:"public_key"`
	PrivateKey       string   `yaml:"private_key" json:"private_key"`
	PresharedKey     string   `yaml:"preshared_key,omitempty" json:"preshared_key,omitempty"`
	PeerAddresses    []string `yaml:"peer_addresses" json:"peer_addresses"`
	PeerNetworks     []string `yaml:"peer_networks" json:"peer_networks"`
	ServerKeepalive  int      `yaml:"server_keepalive" json:"server_keepalive"`
	PeerKeepalive    int      `yaml:"peer_keepalive" json:"peer_keepalive"`
	ServerAllowedIPs []string `yaml:"server_allowed_ips" json:"server_allowed_ips"`
	PeerAllowedIPs   []string `yaml:"peer_allowed_ips" json:"peer_allowed_ips"`
	PeerDescription  string   `yaml:"peer_description" json:"peer_description"`
	ServerEndpoint   string   `yaml:"server_endpoint" json:"server_endpoint"`
	PeerEndpoint     string   `yaml:"peer_endpoint" json:"peer_endpoint"`
	PeerListenPort   int      `yaml:"peer_listen_port" json:"peer_listen_port"`
}

func encodeConfig(c *models.Config) document {
	d := document{Interfaces: make([]interfaceDoc, 0, len(c.Interfaces))}
	for _, i := range c.Interfaces {
		id := interfaceDoc{
			Name:        i.Name,
			Description: i.Description,
			Addresses:   toStrings(i.Addresses),
			Subnets:     ptrTo(toStrings(i.Subnets)),
			PrivateKey:  i.PrivateKey,
			ListenPort:  i.ListenPort,
			Peers:       make([]peerDoc, 0, len(i.Peers)),
		}
		for _, p := range i.Peers {
			id.Peers = append(id.Peers, peerDoc{
				PublicKey:        p.PublicKey,
				PrivateKey:       p.PrivateKey,
				PresharedKey:     p.PresharedKey,
				PeerAddresses:    toStrings(p.Addresses),
				PeerNetworks:     toStrings(p.Networks),
				ServerKeepalive:  p.ServerKeepalive,
				PeerKeepalive:    p.PeerKeepalive,
				ServerAllowedIPs: toStrings(p.ServerAllowedIPs),
				PeerAllowedIPs:   toStrings(p.PeerAllowedIPs),
				PeerDescription:  p.Description,
				ServerEndpoint:   p.ServerEndpoint,
				PeerEndpoint:     p.PeerEndpoint,
				PeerListenPort:   p.PeerListenPort,
			})
		}
		d.Interfaces = append(d.Interfaces, id)
	}
	return d
}

func decodeConfig(d document) (*models.Config, error) {
	c := &models.Config{}
	for n, id := range d.Interfaces {
		if id.Name == "" {
			return nil, fmt.Errorf("interfaces[%d]: empty name", n)
		}
		i := models.Interface{
			Name:        id.Name,
			Description: id.Description,
			PrivateKey:  id.PrivateKey,
			ListenPort:  id.ListenPort,
		}
		var err error
		if i.Addresses, err = toPrefixes(id.Addresses); err != nil {
			return nil, fmt.Errorf("interface %s addresses: %w", id.Name, err)
		}
		if id.Subnets == nil {
			// старые документы подсети не хранят, они выводятся из адресов
			for _, a := range i.Addresses {
				i.Subnets = append(i.Subnets, a.Masked())
			}
		} else if i.Subnets, err = toPrefixes(*id.Subnets); err != nil {
			return nil, fmt.Errorf("interface %s subnets: %w", id.Name, err)
		}
		for _, pd := range id.Peers {
			p := models.Peer{
				PublicKey:       pd.PublicKey,
				PrivateKey:      pd.PrivateKey,
				PresharedKey:    pd.PresharedKey,
				ServerKeepalive: pd.ServerKeepalive,
				PeerKeepalive:   pd.PeerKeepalive,
				Description:     pd.PeerDescription,
				ServerEndpoint:  pd.ServerEndpoint,
				PeerEndpoint:    pd.PeerEndpoint,
				PeerListenPort:  pd.PeerListenPort,
			}
			fields := []struct {
				name string
				in   []string
				out  *[]netip.Prefix
			}{
				{"peer_addresses", pd.PeerAddresses, &p.Addresses},
				{"peer_networks", pd.PeerNetworks, &p.Networks},
				{"server_allowed_ips", pd.ServerAllowedIPs, &p.ServerAllowedIPs},
				{"peer_allowed_ips", pd.PeerAllowedIPs, &p.PeerAllowedIPs},
			}
			for _, f := range fields {
				if *f.out, err = toPrefixes(f.in); err != nil {
					return nil, fmt.Errorf("interface %s peer %s %s: %w", id.Name, pd.PublicKey, f.name, err)
				}
			}
			i.Peers = append(i.Peers, p)
		}
		c.Interfaces = append(c.Interfaces, i)
	}
	return c, nil
}

func toStrings(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func ptrTo[T any](v T) *T { return &v }

func toPrefixes(ss []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range ss {
		p, err := wgconf.ParsePrefix(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
