package wireguard

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
)

func mustKey(t *testing.T) wgtypes.Key {
	t.Helper()
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestPeerConfig(t *testing.T) {
	pub := mustKey(t).PublicKey()
	psk := mustKey(t)
	ka := 15

	pc, err := PeerConfig(PeerUpdate{
		PublicKey:    pub.String(),
		Keepalive:    &ka,
		AllowedIPs:   []netip.Prefix{netip.MustParsePrefix("10.0.0.2/32")},
		Endpoint:     "127.0.0.1:51820",
		PresharedKey: PSK(psk.String()),
	})
	if err != nil {
		t.Fatalf("PeerConfig() error = %v", err)
	}
	if pc.PublicKey != pub || pc.Remove {
		t.Errorf("PublicKey/Remove = %v/%v", pc.PublicKey, pc.Remove)
	}
	if pc.PersistentKeepaliveInterval == nil || *pc.PersistentKeepaliveInterval != 15*time.Second {
		t.Errorf("keepalive = %v", pc.PersistentKeepaliveInterval)
	}
	if !pc.ReplaceAllowedIPs || len(pc.AllowedIPs) != 1 || pc.AllowedIPs[0].String() != "10.0.0.2/32" {
		t.Errorf("allowed ips = %v replace=%v", pc.AllowedIPs, pc.ReplaceAllowedIPs)
	}
	if pc.Endpoint == nil || pc.Endpoint.Port != 51820 {
		t.Errorf("endpoint = %v", pc.Endpoint)
	}
	if pc.PresharedKey == nil || *pc.PresharedKey != psk {
		t.Error("preshared key not set")
	}

	cleared, err := PeerConfig(PeerUpdate{PublicKey: pub.String(), PresharedKey: new(string)})
	if err != nil || cleared.PresharedKey == nil || *cleared.PresharedKey != (wgtypes.Key{}) {
		t.Errorf("PeerConfig(clear psk) = %+v, %v", cleared.PresharedKey, err)
	}

	// частичное обновление не трогает allowed-ips
	pc, err = PeerConfig(PeerUpdate{PublicKey: pub.String()})
	if err != nil {
		t.Fatal(err)
	}
	if pc.ReplaceAllowedIPs || pc.PersistentKeepaliveInterval != nil {
		t.Errorf("partial update touched fields: %+v", pc)
	}

	rm, err := PeerConfig(PeerUpdate{PublicKey: pub.String(), Remove: true, Endpoint: "bad"})
	if err != nil || !rm.Remove {
		t.Errorf("PeerConfig(remove) = %+v, %v", rm, err)
	}

	if _, err := PeerConfig(PeerUpdate{PublicKey: "nope"}); !errors.Is(err, models.ErrInvalidRequest) {
		t.Errorf("PeerConfig(bad key) error = %v", err)
	}
}

func TestDeviceConfig(t *testing.T) {
	priv := mustKey(t)
	peer := mustKey(t).PublicKey()
	iface := &models.Interface{
		Name:       "wg0",
		PrivateKey: priv.String(),
		ListenPort: 51820,
		Addresses:  []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")},
		Peers: []models.Peer{{
			PublicKey:        peer.String(),
			ServerKeepalive:  25,
			ServerAllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.2/32")},
		}},
	}
	parsed, err := wgconf.Parse(wgconf.Driver(iface))
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := DeviceConfig(parsed)
	if err != nil {
		t.Fatalf("DeviceConfig() error = %v", err)
	}
	if *cfg.PrivateKey != priv || *cfg.ListenPort != 51820 || !cfg.ReplacePeers {
		t.Errorf("DeviceConfig() header = %+v", cfg)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].PublicKey != peer {
		t.Fatalf("DeviceConfig() peers = %+v", cfg.Peers)
	}
}

func TestPrefixFromIPNet(t *testing.T) {
	tests := []struct {
		in   net.IPNet
		want string
	}{
		{net.IPNet{IP: net.ParseIP("10.0.0.2").To4(), Mask: net.CIDRMask(32, 32)}, "10.0.0.2/32"},
		{net.IPNet{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(120, 128)}, "10.0.0.0/24"},
		{net.IPNet{IP: net.ParseIP("fd00::2"), Mask: net.CIDRMask(128, 128)}, "fd00::2/128"},
	}
	for _, tt := range tests {
		got, ok := prefixFromIPNet(tt.in)
		if !ok || got.String() != tt.want {
			t.Errorf("prefixFromIPNet(%v) = %v, %v; want %v", tt.in, got, ok, tt.want)
		}
	}
}

func TestParseAllowedIPsBadLine(t *testing.T) {
	if _, err := ParseAllowedIPs("k=\t10.0.0.999/32\n"); err == nil {
		t.Error("ParseAllowedIPs() error = nil")
	}
}
