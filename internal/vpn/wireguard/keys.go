package wireguard

import (
	"context"
	"fmt"

	"wgmgr/internal/models"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ValidateKey проверяет, что s — ключ WireGuard в base64 (32 байта).
func ValidateKey(s string) error {
	if _, err := wgtypes.ParseKey(s); err != nil {
		return models.Errorf(models.ErrInvalidRequest, "bad key: %v", err)
	}
	return nil
}

// PublicFromPrivate выводит публичный ключ без обращения к драйверу.
func PublicFromPrivate(private string) (string, error) {
	k, err := wgtypes.ParseKey(private)
	if err != nil {
		return "", models.Errorf(models.ErrInvalidRequest, "bad private key: %v", err)
	}
	return k.PublicKey().String(), nil
}

// KeyPair — ключи, выданные через POST /keys или при создании пира.
type KeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// NewKeyPair генерирует пару через драйвер.
func NewKeyPair(ctx context.Context, gw Gateway) (KeyPair, error) {
	priv, err := gw.GeneratePrivateKey(ctx)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate private key: %w", err)
	}
	pub, err := gw.DerivePublicKey(ctx, priv)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	return KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}
