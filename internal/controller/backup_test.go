package controller

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBackup(t *testing.T) {
	ctx := context.Background()
	f := newPeerFixture(t, Options{})
	if _, err := f.m.AddPeer(ctx, AddPeerRequest{Interface: "wg9", Description: "laptop"}); err != nil {
		t.Fatal(err)
	}

	archive, sum, err := f.m.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if len(sum) != 64 {
		t.Errorf("checksum = %q", sum)
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	files := map[string]string{}
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(tr)
		files[hdr.Name] = string(data)
		names = append(names, hdr.Name)
		if hdr.Mode != 0o600 {
			t.Errorf("%s mode = %o, want 600", hdr.Name, hdr.Mode)
		}
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"wgmgr.yaml", "wireguard/wg9.conf", "wireguard/wg9.key"}, names); diff != "" {
		t.Errorf("archive entries mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(files["wgmgr.yaml"], "peer_description: laptop") {
		t.Errorf("document:\n%s", files["wgmgr.yaml"])
	}
	if !strings.Contains(files["wireguard/wg9.conf"], "[Peer]") {
		t.Errorf("conf:\n%s", files["wireguard/wg9.conf"])
	}

	// без изменений — тот же архив
	_, again, _ := f.m.Backup(ctx)
	if again != sum {
		t.Error("Backup() checksum changed without changes")
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	kp, err := f.m.GenerateKeyPair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := f.m.PublicKeyOf(ctx, kp.PrivateKey)
	if err != nil || pub != kp.PublicKey {
		t.Errorf("PublicKeyOf() = %q, %v; want %q", pub, err, kp.PublicKey)
	}
	if _, err := f.m.PublicKeyOf(ctx, "garbage"); err == nil {
		t.Error("PublicKeyOf(garbage) succeeded")
	}
	psk, err := f.m.GeneratePresharedKey(ctx)
	if err != nil || psk == "" || psk == kp.PrivateKey {
		t.Errorf("GeneratePresharedKey() = %q, %v", psk, err)
	}
}
