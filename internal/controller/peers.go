package controller

import (
	"context"
	"errors"
	"net/netip"
	"slices"

	"wgmgr/internal/ippool"
	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
	"wgmgr/internal/vpn/wireguard"
)

type AddPeerRequest struct {
	Interface string

	Addresses  []netip.Prefix // явные адреса; пусто — из пула
	Networks   []netip.Prefix // сети за пиром, маршрутизируются сервером
	AllowedIPs []netip.Prefix // AllowedIps в клиентском конфиге
	Keepalive  *int

	Endpoint       string // куда подключается клиент; пусто — public_host/STUN
	PeerEndpoint   string // адрес самого пира, если известен
	PeerListenPort int

	PrivateKey           string // ключи клиента; оба пусты — генерируются
	PublicKey            string
	PresharedKey         string
	GeneratePresharedKey bool

	Description string
}

type AddPeerResult struct {
	Peer         models.Peer
	ClientConfig string // только в ответе, на сервере не хранится
}

// PeerPatch — частичное изменение; nil-поля не трогаются.
type PeerPatch struct {
	Endpoint     *string
	AllowedIPs   []netip.Prefix // серверные allowed-ips; nil — без изменений
	Keepalive    *int
	PresharedKey *string
	Remove       bool
}

// AddPeer: интерфейс активен → адреса → ключи → apply_peer → файлы → хранилище.
// Если после apply_peer что-то сломалось, живой пир удаляется обратно.
func (m *Manager) AddPeer(ctx context.Context, req AddPeerRequest) (res AddPeerResult, err error) {
	defer func() { m.record(ctx, "add_peer", req.Interface, res.Peer.PublicKey, err) }()

	if err := validatePeerRequest(req); err != nil {
		return res, err
	}
	unlock := m.locks.Lock(req.Interface)
	defer unlock()

	// 1) интерфейс есть и поднят
	iface, ok := m.Store.FindInterface(req.Interface)
	if !ok {
		return res, noSuchInterface(req.Interface)
	}
	port, err := m.Gateway.ListenPort(ctx, iface.Name)
	if err != nil {
		return res, err
	}

	// 2) адреса
	addrs := req.Addresses
	if len(addrs) == 0 {
		if addrs, err = m.allocate(ctx, &iface); err != nil {
			return res, err
		}
	}

	// 3) ключи
	peer := models.Peer{
		Addresses:       slices.Clone(addrs),
		Networks:        slices.Clone(req.Networks),
		ServerKeepalive: m.Opts.DefaultKeepalive,
		PeerKeepalive:   m.Opts.DefaultKeepalive,
		PeerAllowedIPs:  slices.Clone(req.AllowedIPs),
		Description:     req.Description,
		PeerEndpoint:    req.PeerEndpoint,
		PeerListenPort:  req.PeerListenPort,
		PresharedKey:    req.PresharedKey,
	}
	if req.Keepalive != nil {
		peer.ServerKeepalive, peer.PeerKeepalive = *req.Keepalive, *req.Keepalive
	}
	if len(peer.PeerAllowedIPs) == 0 {
		peer.PeerAllowedIPs = slices.Clone(m.Opts.PeerAllowedIPs)
	}
	peer.ServerAllowedIPs = append(hostPrefixes(addrs), req.Networks...)

	private, generated, err := m.resolvePeerKeys(ctx, req, &peer)
	if err != nil {
		return res, err
	}
	if iface.FindPeer(peer.PublicKey) >= 0 {
		return res, models.Errorf(models.ErrAlreadyExists, "peer %s on %s", peer.PublicKey, iface.Name)
	}
	if generated && m.Opts.RetainPeerPrivateKeys {
		peer.PrivateKey = private
	}
	if req.GeneratePresharedKey && peer.PresharedKey == "" {
		if peer.PresharedKey, err = m.Gateway.GeneratePrivateKey(ctx); err != nil {
			return res, err
		}
	}

	// данные для клиентского конфига — до побочных эффектов
	serverPub, err := m.Gateway.PublicKey(ctx, iface.Name)
	if err != nil {
		return res, err
	}
	if peer.ServerEndpoint, err = m.serverEndpoint(ctx, req.Endpoint, port); err != nil {
		return res, err
	}

	// 4) живой драйвер
	ka := peer.ServerKeepalive
	if err := m.Gateway.ApplyPeer(ctx, iface.Name, wireguard.PeerUpdate{
		PublicKey:    peer.PublicKey,
		Keepalive:    &ka,
		AllowedIPs:   peer.ServerAllowedIPs,
		Endpoint:     peer.PeerEndpoint,
		PresharedKey: wireguard.PSK(peer.PresharedKey),
	}); err != nil {
		return res, err
	}

	next := iface.Clone()
	next.Peers = append(next.Peers, peer)
	if err := m.commitPeers(ctx, &iface, &next); err != nil {
		m.undoApply(ctx, iface.Name, wireguard.PeerUpdate{PublicKey: peer.PublicKey, Remove: true})
		return res, err
	}

	// 5) клиентский конфиг — только в ответ
	res.Peer = peer
	res.ClientConfig = wgconf.ClientConfig(wgconf.Client{
		PrivateKey:      private,
		ListenPort:      peer.PeerListenPort,
		Addresses:       peer.Addresses,
		ServerPublicKey: serverPub,
		PresharedKey:    peer.PresharedKey,
		Endpoint:        peer.ServerEndpoint,
		Keepalive:       peer.PeerKeepalive,
		AllowedIPs:      peer.PeerAllowedIPs,
	})
	m.Log.Infof("peer %s added to %s: addresses=%v", peer.PublicKey, iface.Name, peer.Addresses)
	return res, nil
}

// SetPeer — частичное изменение. Remove равносилен DeletePeer.
func (m *Manager) SetPeer(ctx context.Context, ifaceName, publicKey string, patch PeerPatch) (peer models.Peer, err error) {
	if patch.Remove {
		return peer, m.DeletePeer(ctx, ifaceName, publicKey)
	}
	defer func() { m.record(ctx, "set_peer", ifaceName, publicKey, err) }()

	if publicKey == "" {
		return peer, invalid("public key is required")
	}
	if patch.PresharedKey != nil && *patch.PresharedKey != "" {
		if err := wireguard.ValidateKey(*patch.PresharedKey); err != nil {
			return peer, err
		}
	}
	// wg не умеет снимать endpoint: пустое значение разошлось бы с драйвером
	if patch.Endpoint != nil && *patch.Endpoint == "" {
		return peer, invalid("endpoint cannot be cleared")
	}
	if patch.Keepalive != nil && (*patch.Keepalive < 0 || *patch.Keepalive > 65535) {
		return peer, invalid("keepalive %d out of range", *patch.Keepalive)
	}

	unlock := m.locks.Lock(ifaceName)
	defer unlock()

	iface, ok := m.Store.FindInterface(ifaceName)
	if !ok {
		return peer, noSuchInterface(ifaceName)
	}
	idx := iface.FindPeer(publicKey)
	if idx < 0 {
		return peer, models.Errorf(models.ErrNoSuchPeer, "peer %s on %s", publicKey, ifaceName)
	}
	old := iface.Peers[idx]

	next := iface.Clone()
	p := &next.Peers[idx]
	upd := wireguard.PeerUpdate{PublicKey: publicKey}
	undo := wireguard.PeerUpdate{PublicKey: publicKey}
	changed := false
	if patch.Endpoint != nil {
		p.PeerEndpoint, upd.Endpoint, undo.Endpoint = *patch.Endpoint, *patch.Endpoint, old.PeerEndpoint
		changed = true
	}
	if patch.AllowedIPs != nil {
		p.ServerAllowedIPs = slices.Clone(patch.AllowedIPs)
		upd.AllowedIPs, undo.AllowedIPs = p.ServerAllowedIPs, slices.Clone(old.ServerAllowedIPs)
		if undo.AllowedIPs == nil {
			undo.AllowedIPs = []netip.Prefix{}
		}
		changed = true
	}
	if patch.Keepalive != nil {
		ka, oldKa := *patch.Keepalive, old.ServerKeepalive
		p.ServerKeepalive, upd.Keepalive, undo.Keepalive = ka, &ka, &oldKa
		changed = true
	}
	if patch.PresharedKey != nil {
		psk, oldPsk := *patch.PresharedKey, old.PresharedKey
		p.PresharedKey, upd.PresharedKey, undo.PresharedKey = psk, &psk, &oldPsk
		changed = true
	}
	if !changed {
		return old, nil
	}

	if err := m.Gateway.ApplyPeer(ctx, ifaceName, upd); err != nil {
		return peer, err
	}
	if err := m.commitPeers(ctx, &iface, &next); err != nil {
		m.undoApply(ctx, ifaceName, undo)
		return peer, err
	}
	return *p, nil
}

// DeletePeer удаляет пира из драйвера и хранилища. Отсутствующий ключ
// и неактивный интерфейс — не ошибка.
func (m *Manager) DeletePeer(ctx context.Context, ifaceName, publicKey string) (err error) {
	defer func() { m.record(ctx, "delete_peer", ifaceName, publicKey, err) }()

	if publicKey == "" {
		return invalid("public key is required")
	}
	unlock := m.locks.Lock(ifaceName)
	defer unlock()

	iface, ok := m.Store.FindInterface(ifaceName)
	if !ok {
		return noSuchInterface(ifaceName)
	}
	// у неактивного интерфейса живых пиров нет, удаляется только запись
	if err := m.Gateway.ApplyPeer(ctx, ifaceName, wireguard.PeerUpdate{PublicKey: publicKey, Remove: true}); err != nil && !isNotActive(err) {
		return err
	}
	idx := iface.FindPeer(publicKey)
	if idx < 0 {
		return nil
	}

	removed := iface.Peers[idx]
	next := iface.Clone()
	next.Peers = slices.Delete(next.Peers, idx, idx+1)
	if err := m.commitPeers(ctx, &iface, &next); err != nil {
		ka := removed.ServerKeepalive
		m.undoApply(ctx, ifaceName, wireguard.PeerUpdate{
			PublicKey:    removed.PublicKey,
			Keepalive:    &ka,
			AllowedIPs:   removed.ServerAllowedIPs,
			Endpoint:     removed.PeerEndpoint,
			PresharedKey: wireguard.PSK(removed.PresharedKey),
		})
		return err
	}
	m.Log.Infof("peer %s removed from %s", publicKey, ifaceName)
	return nil
}

// commitPeers пишет conf драйвера и сохраняет список пиров.
// Если хранилище не приняло изменение, conf возвращается к прежнему виду.
func (m *Manager) commitPeers(ctx context.Context, prev, next *models.Interface) error {
	if err := m.writeFiles(next); err != nil {
		return err
	}
	err := m.Store.UpdateInterface(ctx, next.Name, func(i *models.Interface) error {
		i.Peers = next.Peers
		return nil
	})
	if err != nil {
		if werr := m.writeFiles(prev); werr != nil {
			m.Log.Errorf("interface %s: restore conf: %v", prev.Name, werr)
		}
		return err
	}
	return nil
}

func (m *Manager) undoApply(ctx context.Context, iface string, u wireguard.PeerUpdate) {
	if err := m.Gateway.ApplyPeer(context.WithoutCancel(ctx), iface, u); err != nil {
		m.Log.Errorf("interface %s: undo peer %s: %v", iface, u.PublicKey, err)
	}
}

// allocate выбирает по адресу из каждой подсети интерфейса.
// Занятыми считаются адреса сервера, живые allowed-ips и сохранённые адреса пиров.
func (m *Manager) allocate(ctx context.Context, iface *models.Interface) ([]netip.Prefix, error) {
	live, err := m.Gateway.AllowedIPs(ctx, iface.Name)
	if err != nil {
		return nil, err
	}
	taken := wireguard.Flatten(live)
	for _, p := range iface.Peers {
		taken = append(taken, hostPrefixes(p.Addresses)...)
	}
	assigned := ippool.Assigned(iface.Subnets, addrsOf(iface.Addresses), taken)
	free := ippool.NextAvailable(iface.Subnets, assigned)

	var out []netip.Prefix
	for _, s := range iface.Subnets {
		if a, ok := free[s.Masked()]; ok {
			out = append(out, netip.PrefixFrom(a, s.Bits()))
		}
	}
	if len(out) == 0 {
		return nil, invalid("interface %s: address pool exhausted", iface.Name)
	}
	return out, nil
}

// resolvePeerKeys заполняет PublicKey и возвращает приватный ключ клиента (если известен).
func (m *Manager) resolvePeerKeys(ctx context.Context, req AddPeerRequest, peer *models.Peer) (private string, generated bool, err error) {
	switch {
	case req.PrivateKey != "":
		pub, err := m.Gateway.DerivePublicKey(ctx, req.PrivateKey)
		if err != nil {
			return "", false, err
		}
		if req.PublicKey != "" && req.PublicKey != pub {
			return "", false, invalid("public key does not match private key")
		}
		peer.PublicKey = pub
		return req.PrivateKey, false, nil
	case req.PublicKey != "":
		peer.PublicKey = req.PublicKey
		return "", false, nil
	default:
		kp, err := wireguard.NewKeyPair(ctx, m.Gateway)
		if err != nil {
			return "", false, err
		}
		peer.PublicKey = kp.PublicKey
		return kp.PrivateKey, true, nil
	}
}

func (m *Manager) serverEndpoint(ctx context.Context, explicit string, port int) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if m.Endpoint == nil {
		return "", invalid("server endpoint is required")
	}
	ep, err := m.Endpoint.PublicEndpoint(ctx, port)
	if err != nil {
		return "", models.Wrap(models.ErrInvalidRequest, errors.Join(errors.New("server endpoint is not set and could not be discovered"), err))
	}
	return ep, nil
}

func validatePeerRequest(req AddPeerRequest) error {
	if req.Interface == "" {
		return invalid("interface is required")
	}
	for _, k := range []string{req.PrivateKey, req.PublicKey, req.PresharedKey} {
		if k == "" {
			continue
		}
		if err := wireguard.ValidateKey(k); err != nil {
			return err
		}
	}
	if req.Keepalive != nil && (*req.Keepalive < 0 || *req.Keepalive > 65535) {
		return invalid("keepalive %d out of range", *req.Keepalive)
	}
	for _, p := range slices.Concat(req.Addresses, req.Networks, req.AllowedIPs) {
		if !p.IsValid() {
			return invalid("bad prefix in request")
		}
	}
	return nil
}
