package controller

import (
	"context"
	"errors"
	"net/netip"
	"slices"

	"wgmgr/internal/models"
	"wgmgr/internal/vpn/wireguard"
)

// ReconcileReport — итог сверки хранилища с живым драйвером (ключи пиров).
type ReconcileReport struct {
	Interface string
	Added     []string // были в хранилище, но не в драйвере
	Updated   []string // разошлись allowed-ips
	Unmanaged []string // живые пиры без записи в хранилище
	Removed   []string // unmanaged, снятые при prune
}

func (r ReconcileReport) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}

// Reconcile возвращает живой интерфейс к состоянию хранилища: недостающие пиры
// добавляются, allowed-ips выравниваются, файл драйвера перерисовывается.
// Чужие пиры только перечисляются; prune снимает их. Хранилище не меняется.
func (m *Manager) Reconcile(ctx context.Context, name string, prune bool) (rep ReconcileReport, err error) {
	defer func() {
		if err != nil || rep.Changed() {
			m.record(ctx, "reconcile", name, "", err)
		}
	}()
	rep.Interface = name

	unlock := m.locks.Lock(name)
	defer unlock()

	iface, ok := m.Store.FindInterface(name)
	if !ok {
		return rep, noSuchInterface(name)
	}
	if _, err := m.Gateway.ListenPort(ctx, name); err != nil {
		return rep, err
	}
	live, err := m.Gateway.AllowedIPs(ctx, name)
	if err != nil {
		return rep, err
	}
	liveByKey := make(map[string][]string, len(live))
	for _, p := range live {
		liveByKey[p.PublicKey] = sortedStrings(p.AllowedIPs)
	}

	// 1) пиры хранилища
	for _, p := range iface.Peers {
		got, present := liveByKey[p.PublicKey]
		switch {
		case !present:
			ka := p.ServerKeepalive
			if err := m.Gateway.ApplyPeer(ctx, name, wireguard.PeerUpdate{
				PublicKey:    p.PublicKey,
				Keepalive:    &ka,
				AllowedIPs:   p.ServerAllowedIPs,
				Endpoint:     p.PeerEndpoint,
				PresharedKey: wireguard.PSK(p.PresharedKey),
			}); err != nil {
				return rep, err
			}
			rep.Added = append(rep.Added, p.PublicKey)
		case !slices.Equal(got, sortedStrings(p.ServerAllowedIPs)):
			allowed := p.ServerAllowedIPs
			if allowed == nil {
				allowed = []netip.Prefix{}
			}
			if err := m.Gateway.ApplyPeer(ctx, name, wireguard.PeerUpdate{
				PublicKey:  p.PublicKey,
				AllowedIPs: allowed,
			}); err != nil {
				return rep, err
			}
			rep.Updated = append(rep.Updated, p.PublicKey)
		}
	}

	// 2) чужие пиры
	for _, p := range live {
		if iface.FindPeer(p.PublicKey) >= 0 {
			continue
		}
		rep.Unmanaged = append(rep.Unmanaged, p.PublicKey)
		if !prune {
			continue
		}
		if err := m.Gateway.ApplyPeer(ctx, name, wireguard.PeerUpdate{PublicKey: p.PublicKey, Remove: true}); err != nil {
			return rep, err
		}
		rep.Removed = append(rep.Removed, p.PublicKey)
	}

	// 3) файл драйвера
	if err := m.writeFiles(&iface); err != nil {
		return rep, err
	}
	if rep.Changed() {
		m.Log.Infof("interface %s reconciled: added=%d updated=%d removed=%d unmanaged=%d",
			name, len(rep.Added), len(rep.Updated), len(rep.Removed), len(rep.Unmanaged))
	}
	return rep, nil
}

// ReconcileAll сверяет все активные интерфейсы; неактивные пропускаются.
func (m *Manager) ReconcileAll(ctx context.Context, prune bool) []ReconcileReport {
	var out []ReconcileReport
	for _, iface := range m.ListInterfaces() {
		rep, err := m.Reconcile(ctx, iface.Name, prune)
		if err != nil {
			if !isNotActive(err) {
				m.Log.Warnf("interface %s: reconcile: %v", iface.Name, err)
			}
			continue
		}
		out = append(out, rep)
	}
	return out
}

func isNotActive(err error) bool {
	return errors.Is(err, models.ErrInterfaceNotActive)
}

func sortedStrings(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	slices.Sort(out)
	return out
}
