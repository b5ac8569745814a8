// Package endpoint определяет публичный адрес сервера для Endpoint в клиентских конфигах.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/stun"
)

// Discoverer возвращает "host:port", по которому клиенты достучатся до сервера.
type Discoverer interface {
	PublicEndpoint(ctx context.Context, port int) (string, error)
}

// Static — заранее известный хост (wireguard.public_host).
type Static string

func (s Static) PublicEndpoint(_ context.Context, port int) (string, error) {
	if s == "" {
		return "", errors.New("public host is not configured")
	}
	return net.JoinHostPort(string(s), strconv.Itoa(port)), nil
}

// STUN опрашивает серверы по очереди, первый ответ побеждает.
type STUN struct {
	Servers []string
	Timeout time.Duration
}

func (s STUN) PublicEndpoint(ctx context.Context, port int) (string, error) {
	if len(s.Servers) == 0 {
		return "", errors.New("no STUN servers configured")
	}
	var lastErr error
	for _, server := range s.Servers {
		ip, err := s.query(ctx, server)
		if err == nil {
			return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("all STUN servers failed: %w", lastErr)
}

func (s STUN) query(ctx context.Context, server string) (net.IP, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return nil, fmt.Errorf("dial STUN server %s: %w", server, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	client, err := stun.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("STUN client: %w", err)
	}
	defer client.Close()

	var (
		xorAddr stun.XORMappedAddress
		resErr  error
	)
	if err := client.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(res stun.Event) {
		if res.Error != nil {
			resErr = res.Error
			return
		}
		if err := xorAddr.GetFrom(res.Message); err != nil {
			resErr = fmt.Errorf("XOR-MAPPED-ADDRESS: %w", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("STUN request to %s: %w", server, err)
	}
	if resErr != nil {
		return nil, fmt.Errorf("STUN request to %s: %w", server, resErr)
	}
	return xorAddr.IP, nil
}

// Chain пробует источники по порядку.
type Chain []Discoverer

func (c Chain) PublicEndpoint(ctx context.Context, port int) (string, error) {
	errs := make([]error, 0, len(c))
	for _, d := range c {
		ep, err := d.PublicEndpoint(ctx, port)
		if err == nil {
			return ep, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errors.New("no endpoint sources configured")
	}
	return "", errors.Join(errs...)
}
