package controller

import (
	"context"
	"path"

	"wgmgr/internal/models"
	"wgmgr/internal/render/wgconf"
	"wgmgr/internal/repo"
	"wgmgr/internal/tarball"
	"wgmgr/internal/vpn/wireguard"
)

// Имя документа и каталог файлов драйвера внутри архива.
const (
	BackupDocument = "wgmgr.yaml"
	BackupConfDir  = "wireguard"
)

// Backup — снимок хранилища и отрисованных файлов драйвера одним tar.gz.
// Секреты внутри: архив отдаётся только тому, кто может управлять сервером.
func (m *Manager) Backup(ctx context.Context) (archive []byte, checksum string, err error) {
	defer func() { m.record(ctx, "backup", "", "", err) }()

	snap := m.Store.Snapshot()
	doc, err := repo.Marshal(snap)
	if err != nil {
		return nil, "", models.Wrap(models.ErrPersistence, err)
	}
	entries := []tarball.Entry{{Name: BackupDocument, Data: doc, Mode: 0o600}}
	for i := range snap.Interfaces {
		for _, f := range wgconf.Files(&snap.Interfaces[i]) {
			entries = append(entries, tarball.Entry{
				Name: path.Join(BackupConfDir, f.Name),
				Data: f.Data,
				Mode: int64(f.Mode),
			})
		}
	}
	return tarball.Build(entries)
}

// GenerateKeyPair — пара ключей через драйвер, без сохранения.
func (m *Manager) GenerateKeyPair(ctx context.Context) (wireguard.KeyPair, error) {
	return wireguard.NewKeyPair(ctx, m.Gateway)
}

// PublicKeyOf выводит публичный ключ из приватного.
func (m *Manager) PublicKeyOf(ctx context.Context, private string) (string, error) {
	if err := wireguard.ValidateKey(private); err != nil {
		return "", err
	}
	return m.Gateway.DerivePublicKey(ctx, private)
}

// GeneratePresharedKey — симметричный ключ; формат тот же, что у приватного.
func (m *Manager) GeneratePresharedKey(ctx context.Context) (string, error) {
	return m.Gateway.GeneratePrivateKey(ctx)
}
