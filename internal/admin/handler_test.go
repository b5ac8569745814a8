package admin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"wgmgr/internal/controller"
	"wgmgr/internal/endpoint"
	"wgmgr/internal/repo"
	"wgmgr/internal/vpn/wireguard"
	"wgmgr/internal/vpn/wireguard/wgtest"
)

func setup(t *testing.T) (*mux.Router, *controller.Manager, *wgtest.Gateway) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "wireguard")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := repo.NewConfigStore(repo.NewFileStore(filepath.Join(root, "wgmgr.yaml")))
	if err := store.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	gw := wgtest.New(dir)
	m := controller.NewManager(store, gw, endpoint.Static("vpn.example.com"), log, controller.Options{ConfigDir: dir})

	r := mux.NewRouter()
	if err := Attach(r, Dependencies{LC: m, Log: log}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return r, m, gw
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestPages(t *testing.T) {
	ctx := context.Background()
	r, m, gw := setup(t)

	if rec := get(r, "/admin/interfaces"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No interfaces yet") {
		t.Errorf("empty list = %d:\n%s", rec.Code, rec.Body)
	}

	if _, err := m.CreateInterface(ctx, controller.CreateInterfaceRequest{
		Name:        "wg0",
		Description: "office <vpn>",
		Addresses:   []netip.Prefix{netip.MustParsePrefix("10.1.0.1/24")},
	}); err != nil {
		t.Fatal(err)
	}
	res, err := m.AddPeer(ctx, controller.AddPeerRequest{Interface: "wg0", Description: "laptop"})
	if err != nil {
		t.Fatal(err)
	}
	// пир в обход менеджера
	stray, _ := m.GenerateKeyPair(ctx)
	_ = gw.ApplyPeer(ctx, "wg0", wireguard.PeerUpdate{
		PublicKey:  stray.PublicKey,
		AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.1.0.99/32")},
	})

	rec := get(r, "/admin/interfaces")
	body := rec.Body.String()
	for _, want := range []string{`href="/admin/interfaces/wg0"`, "state-active", "10.1.0.1/24", "office &lt;vpn&gt;"} {
		if !strings.Contains(body, want) {
			t.Errorf("list has no %q:\n%s", want, body)
		}
	}

	rec = get(r, "/admin/interfaces/wg0")
	body = rec.Body.String()
	for _, want := range []string{"laptop", res.Peer.PublicKey[:8], "10.1.0.2/32", "(not managed)", "10.1.0.99/32"} {
		if !strings.Contains(body, want) {
			t.Errorf("detail has no %q:\n%s", want, body)
		}
	}

	if rec := get(r, "/admin/interfaces/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown interface = %d", rec.Code)
	}
	if rec := get(r, "/admin/events"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "journal is off") {
		t.Errorf("events = %d:\n%s", rec.Code, rec.Body)
	}
	if rec := get(r, "/admin/"); rec.Code != http.StatusFound {
		t.Errorf("root = %d", rec.Code)
	}
	if rec := get(r, "/admin/static/style.css"); !strings.Contains(rec.Body.String(), ".state-active") {
		t.Errorf("style.css = %d:\n%s", rec.Code, rec.Body)
	}
}

func TestSaveAction(t *testing.T) {
	ctx := context.Background()
	r, m, _ := setup(t)
	if _, err := m.CreateInterface(ctx, controller.CreateInterfaceRequest{
		Name:      "wg0",
		Addresses: []netip.Prefix{netip.MustParsePrefix("10.1.0.1/24")},
	}); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/interfaces/wg0/save", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin/interfaces/wg0" {
		t.Errorf("save = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/interfaces/nope/save", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("save unknown = %d", rec.Code)
	}
}
