package wgconf

import (
	"bufio"
	"bytes"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Parsed — разобранный конфиг интерфейса (только ключи, которые нужны драйверу).
type Parsed struct {
	PrivateKey string
	ListenPort int
	Addresses  []netip.Prefix
	Peers      []ParsedPeer
}

type ParsedPeer struct {
	PublicKey    string
	PresharedKey string
	Endpoint     string
	Keepalive    int
	AllowedIPs   []netip.Prefix
}

// Parse читает конфиг в формате wg-quick. Имена ключей без учёта регистра,
// неизвестные ключи (DNS, PostUp, ...) пропускаются.
func Parse(data []byte) (*Parsed, error) {
	out := &Parsed{}
	var peer *ParsedPeer
	section := ""

	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			switch section {
			case "interface":
			case "peer":
				out.Peers = append(out.Peers, ParsedPeer{})
				peer = &out.Peers[len(out.Peers)-1]
			default:
				return nil, fmt.Errorf("line %d: unknown section %q", n, section)
			}
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value", n)
		}
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)

		var err error
		switch section {
		case "interface":
			err = out.set(k, v)
		case "peer":
			err = peer.set(k, v)
		default:
			err = fmt.Errorf("key %q outside of a section", k)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parsed) set(k, v string) (err error) {
	switch k {
	case "privatekey":
		p.PrivateKey = v
	case "listenport":
		p.ListenPort, err = strconv.Atoi(v)
	case "address":
		var list []netip.Prefix
		list, err = prefixes(v)
		p.Addresses = append(p.Addresses, list...)
	}
	return err
}

func (p *ParsedPeer) set(k, v string) (err error) {
	switch k {
	case "publickey":
		p.PublicKey = v
	case "presharedkey":
		p.PresharedKey = v
	case "endpoint":
		p.Endpoint = v
	case "persistentkeepalive":
		if v == "off" {
			return nil
		}
		p.Keepalive, err = strconv.Atoi(v)
	case "allowedips":
		var list []netip.Prefix
		list, err = prefixes(v)
		p.AllowedIPs = append(p.AllowedIPs, list...)
	}
	return err
}

// prefixes разбирает "10.0.0.1/24, fd00::1/64". Адрес без маски — хостовой префикс.
func prefixes(v string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := ParsePrefix(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParsePrefix принимает и "10.0.0.2/32", и голый "10.0.0.2".
func ParsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}
