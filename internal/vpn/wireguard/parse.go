package wireguard

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseAllowedIPs разбирает вывод `wg show <iface> allowed-ips`:
//
//	<public-key>\t10.0.0.2/32 fd00::2/128
//	<public-key>\t(none)
func ParseAllowedIPs(out string) ([]PeerAllowedIPs, error) {
	var peers []PeerAllowedIPs
	for n, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		p := PeerAllowedIPs{PublicKey: fields[0]}
		for _, f := range fields[1:] {
			if f == "(none)" {
				continue
			}
			pfx, err := netip.ParsePrefix(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
			p.AllowedIPs = append(p.AllowedIPs, pfx)
		}
		peers = append(peers, p)
	}
	return peers, nil
}
