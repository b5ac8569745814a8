package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func readAll(t *testing.T, archive []byte) map[string]string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	out := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(tr)
		out[hdr.Name] = string(data)
	}
	return out
}

func TestBuild(t *testing.T) {
	entries := []Entry{
		{Name: "wireguard/wg0.key", Data: []byte("key\n"), Mode: 0o600},
		{Name: "/wgmgr.yaml", Data: []byte("interfaces: []\n")},
		{Name: "../../etc/passwd", Data: []byte("x")},
		{Name: "", Data: []byte("skipped")},
	}
	a, sumA, err := Build(entries)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// порядок входа не влияет на результат
	reversed := []Entry{entries[3], entries[2], entries[1], entries[0]}
	b, sumB, err := Build(reversed)
	if err != nil {
		t.Fatal(err)
	}
	if sumA != sumB || !bytes.Equal(a, b) {
		t.Error("Build() is not deterministic")
	}

	want := map[string]string{
		"wireguard/wg0.key": "key\n",
		"wgmgr.yaml":        "interfaces: []\n",
		"etc/passwd":        "x",
	}
	if diff := cmp.Diff(want, readAll(t, a)); diff != "" {
		t.Errorf("archive mismatch (-want +got):\n%s", diff)
	}
}
