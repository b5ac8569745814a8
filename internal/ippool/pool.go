// Package ippool выбирает свободные адреса пиров в подсетях интерфейса.
//
// Выбор детерминирован: для одинакового входа всегда один и тот же адрес,
// подсеть сканируется по возрастанию, первый незанятый хост побеждает.
package ippool

import (
	"net/netip"
	"slices"
)

// MaxScan ограничивает разворачивание одного живого префикса в адреса (expand).
const MaxScan = 1 << 16

// NextAvailable возвращает для каждой подсети первый свободный хост.
// Подсети без свободных хостов (или без хостов вообще, как /32) в ответ не попадают.
func NextAvailable(subnets []netip.Prefix, assigned map[netip.Prefix][]netip.Addr) map[netip.Prefix]netip.Addr {
	taken := normalize(assigned)
	out := make(map[netip.Prefix]netip.Addr, len(subnets))
	for _, s := range subnets {
		s = s.Masked()
		if a, ok := firstFree(s, taken[s]); ok {
			out[s] = a
		}
	}
	return out
}

// Assigned собирает занятые адреса по подсетям из двух источников:
// собственные адреса сервера и живые allowed-ips пиров из драйвера.
// Учитывается только то, что лежит внутри подсети.
func Assigned(subnets []netip.Prefix, server []netip.Addr, live []netip.Prefix) map[netip.Prefix][]netip.Addr {
	out := make(map[netip.Prefix][]netip.Addr, len(subnets))
	for _, s := range subnets {
		s = s.Masked()
		list := out[s]
		for _, a := range server {
			if s.Contains(a) {
				list = append(list, a)
			}
		}
		for _, p := range live {
			if !p.IsValid() || p.Bits() < s.Bits() || !s.Contains(p.Addr()) {
				continue
			}
			list = append(list, expand(p)...)
		}
		out[s] = list
	}
	return out
}

// Hosts возвращает первый и последний пригодный хост подсети.
// IPv4: без адреса сети и broadcast, кроме /31 (RFC 3021). IPv6: без anycast-адреса
// маршрутизатора подсети. /32 и /128 хостов не имеют.
func Hosts(s netip.Prefix) (first, last netip.Addr, ok bool) {
	s = s.Masked()
	if !s.IsValid() {
		return first, last, false
	}
	hostBits := s.Addr().BitLen() - s.Bits()
	if hostBits == 0 {
		return first, last, false
	}
	first, last = s.Addr(), lastAddr(s)
	if s.Addr().Is4() && hostBits == 1 {
		return first, last, true
	}
	first = first.Next()
	if s.Addr().Is4() {
		last = last.Prev()
	}
	return first, last, first.Compare(last) <= 0
}

// firstFree идёт по отсортированным занятым адресам и возвращает первый разрыв,
// поэтому длина прохода зависит от числа занятых, а не от размера подсети.
func firstFree(s netip.Prefix, taken []netip.Addr) (netip.Addr, bool) {
	first, last, ok := Hosts(s)
	if !ok {
		return netip.Addr{}, false
	}
	busy := make([]netip.Addr, 0, len(taken))
	for _, a := range taken {
		busy = append(busy, a.Unmap())
	}
	slices.SortFunc(busy, netip.Addr.Compare)

	a := first
	for _, b := range busy {
		switch c := b.Compare(a); {
		case c < 0:
			continue
		case c > 0:
			return a, true
		}
		if a == last {
			return netip.Addr{}, false
		}
		a = a.Next()
	}
	return a, true
}

func normalize(assigned map[netip.Prefix][]netip.Addr) map[netip.Prefix][]netip.Addr {
	out := make(map[netip.Prefix][]netip.Addr, len(assigned))
	for k, v := range assigned {
		m := k.Masked()
		out[m] = append(out[m], v...)
	}
	return out
}

// expand разворачивает префикс в адреса (не больше MaxScan).
func expand(p netip.Prefix) []netip.Addr {
	p = p.Masked()
	if p.Bits() == p.Addr().BitLen() {
		return []netip.Addr{p.Addr()}
	}
	var out []netip.Addr
	end := lastAddr(p)
	for a, n := p.Addr(), 0; n < MaxScan; n++ {
		out = append(out, a)
		if a == end {
			break
		}
		a = a.Next()
	}
	return out
}

func lastAddr(p netip.Prefix) netip.Addr {
	p = p.Masked()
	if p.Addr().Is4() {
		b := p.Addr().As4()
		setHostBits(b[:], p.Bits())
		return netip.AddrFrom4(b)
	}
	b := p.Addr().As16()
	setHostBits(b[:], p.Bits())
	return netip.AddrFrom16(b)
}

func setHostBits(b []byte, bits int) {
	for i := range b {
		switch {
		case bits >= 8:
			bits -= 8
		case bits > 0:
			b[i] |= 0xff >> bits
			bits = 0
		default:
			b[i] = 0xff
		}
	}
}

// Overlaps сообщает о первой паре пересекающихся подсетей.
func Overlaps(subnets []netip.Prefix) (a, b netip.Prefix, found bool) {
	for i := range subnets {
		for j := i + 1; j < len(subnets); j++ {
			if subnets[i].Overlaps(subnets[j]) {
				return subnets[i], subnets[j], true
			}
		}
	}
	return a, b, false
}
