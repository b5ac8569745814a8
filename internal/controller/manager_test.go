package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgmgr/internal/endpoint"
	"wgmgr/internal/models"
	"wgmgr/internal/repo"
	"wgmgr/internal/vpn/wireguard/wgtest"
)

var cmpPrefixes = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
}

type fixture struct {
	m     *Manager
	gw    *wgtest.Gateway
	store *repo.ConfigStore
	doc   *flakyDoc
	dir   string
}

// flakyDoc ломает Save по запросу.
type flakyDoc struct {
	repo.DocumentStore
	mu   sync.Mutex
	fail bool
}

func (f *flakyDoc) Save(ctx context.Context, c *models.Config) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return models.Wrap(models.ErrPersistence, errors.New("read-only file system"))
	}
	return f.DocumentStore.Save(ctx, c)
}

func (f *flakyDoc) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type memJournal struct {
	mu     sync.Mutex
	events []models.Event
}

func (j *memJournal) Record(_ context.Context, e *models.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, *e)
	return nil
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "wireguard")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	doc := &flakyDoc{DocumentStore: repo.NewFileStore(filepath.Join(root, "wgmgr.yaml"))}
	store := repo.NewConfigStore(doc)
	if err := store.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	gw := wgtest.New(dir)
	opts.ConfigDir = dir
	m := NewManager(store, gw, endpoint.Static("vpn.example.com"), quietLog(), opts)
	return &fixture{m: m, gw: gw, store: store, doc: doc, dir: dir}
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func wg9Request() CreateInterfaceRequest {
	return CreateInterfaceRequest{
		Name:       "wg9",
		Addresses:  []netip.Prefix{netip.MustParsePrefix("10.1.0.1/24")},
		Subnets:    []netip.Prefix{netip.MustParsePrefix("10.1.0.0/24")},
		ListenPort: 51900,
	}
}

func TestCreateDeleteInterface(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	j := &memJournal{}
	f.m.Journal = j

	iface, err := f.m.CreateInterface(ctx, wg9Request())
	if err != nil {
		t.Fatalf("CreateInterface() error = %v", err)
	}
	if iface.PrivateKey == "" || iface.ListenPort != 51900 {
		t.Errorf("CreateInterface() = %+v", iface)
	}
	if diff := cmp.Diff([]string{"wg9.conf", "wg9.key"}, f.files(t)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	info, _ := os.Stat(filepath.Join(f.dir, "wg9.key"))
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key perm = %o, want 600", perm)
	}

	st, err := f.m.Status(ctx, "wg9")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	pub, _ := wgtypes.ParseKey(iface.PrivateKey)
	if st.State != StateActive || st.ListenPort != 51900 || st.PublicKey != pub.PublicKey().String() {
		t.Errorf("Status() = %+v", st)
	}

	if err := f.m.DeleteInterface(ctx, "wg9"); err != nil {
		t.Fatalf("DeleteInterface() error = %v", err)
	}
	if got := f.files(t); len(got) != 0 {
		t.Errorf("files left after delete: %v", got)
	}
	if f.gw.Active("wg9") {
		t.Error("wg9 still active")
	}
	if state, _ := f.m.State(ctx, "wg9"); state != StateAbsent {
		t.Errorf("State() = %s, want absent", state)
	}
	if err := f.m.DeleteInterface(ctx, "wg9"); !errors.Is(err, models.ErrNoSuchInterface) {
		t.Errorf("second DeleteInterface() error = %v", err)
	}

	var ops []string
	for _, e := range j.events {
		ops = append(ops, e.Op+":"+e.Status)
	}
	want := []string{"create_interface:ok", "delete_interface:ok", "delete_interface:failed"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("journal mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateInterfaceDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	if _, err := f.m.CreateInterface(ctx, wg9Request()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.CreateInterface(ctx, wg9Request()); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("second CreateInterface() error = %v, want ErrAlreadyExists", err)
	}
	if n := f.gw.Calls("Activate"); n != 1 {
		t.Errorf("Activate called %d times, want 1", n)
	}
	if n := len(f.store.Snapshot().Interfaces); n != 1 {
		t.Errorf("store has %d interfaces, want 1", n)
	}
}

func TestCreateInterfaceStaleFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	stale := filepath.Join(f.dir, "wg9.conf")
	if err := os.WriteFile(stale, []byte("[Interface]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.CreateInterface(ctx, wg9Request()); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("CreateInterface() error = %v, want ErrAlreadyExists", err)
	}
	if f.gw.Calls("Activate") != 0 {
		t.Error("Activate called over stale files")
	}
	data, _ := os.ReadFile(stale)
	if string(data) != "[Interface]\n" {
		t.Error("stale conf overwritten")
	}
}

func TestCreateInterfaceActivateFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.gw.Fail("Activate", models.Errorf(models.ErrDriverError, "RTNETLINK answers: Operation not permitted"))

	if _, err := f.m.CreateInterface(ctx, wg9Request()); !errors.Is(err, models.ErrDriverError) {
		t.Fatalf("CreateInterface() error = %v, want ErrDriverError", err)
	}
	if n := len(f.store.Snapshot().Interfaces); n != 0 {
		t.Errorf("store has %d interfaces after failed activate", n)
	}
	if got := f.files(t); len(got) != 0 {
		t.Errorf("files left after failed activate: %v", got)
	}

	// после устранения сбоя создание проходит
	f.gw.Fail("Activate", nil)
	if _, err := f.m.CreateInterface(ctx, wg9Request()); err != nil {
		t.Errorf("CreateInterface() retry error = %v", err)
	}
}

func TestCreateInterfaceStoreFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.doc.setFail(true)

	if _, err := f.m.CreateInterface(ctx, wg9Request()); !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("CreateInterface() error = %v, want ErrPersistence", err)
	}
	if f.gw.Active("wg9") {
		t.Error("wg9 left active")
	}
	if got := f.files(t); len(got) != 0 {
		t.Errorf("files left: %v", got)
	}
}

func TestCreateInterfaceValidation(t *testing.T) {
	key, _ := wgtypes.GeneratePrivateKey()
	tests := []struct {
		name string
		req  CreateInterfaceRequest
		want error
	}{
		{"bad name", CreateInterfaceRequest{Name: "wg 0", Addresses: wg9Request().Addresses}, models.ErrInvalidRequest},
		{"long name", CreateInterfaceRequest{Name: "wg0123456789abcd", Addresses: wg9Request().Addresses}, models.ErrInvalidRequest},
		{"no addresses", CreateInterfaceRequest{Name: "wg0"}, models.ErrInvalidRequest},
		{"port", CreateInterfaceRequest{Name: "wg0", Addresses: wg9Request().Addresses, ListenPort: 70000}, models.ErrInvalidRequest},
		{"bad key", CreateInterfaceRequest{Name: "wg0", Addresses: wg9Request().Addresses, PrivateKey: "nope"}, models.ErrInvalidRequest},
		{"overlap", CreateInterfaceRequest{
			Name:      "wg0",
			Addresses: wg9Request().Addresses,
			Subnets:   []netip.Prefix{netip.MustParsePrefix("10.1.0.0/16"), netip.MustParsePrefix("10.1.2.0/24")},
		}, models.ErrInvalidRequest},
		{"ok with key", CreateInterfaceRequest{Name: "wg0", Addresses: wg9Request().Addresses, PrivateKey: key.String()}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			_, err := f.m.CreateInterface(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateInterface() error = %v, want %v", err, tt.want)
			}
			if tt.want != nil && f.gw.Calls("Activate") != 0 {
				t.Error("Activate called for invalid request")
			}
		})
	}
}

func TestCreateInterfaceDefaults(t *testing.T) {
	f := newFixture(t, Options{})
	iface, err := f.m.CreateInterface(context.Background(), CreateInterfaceRequest{
		Name:      "wg0",
		Addresses: []netip.Prefix{netip.MustParsePrefix("10.7.3.1/24"), netip.MustParsePrefix("fd07::1/64")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if iface.ListenPort != models.DefaultListenPort {
		t.Errorf("ListenPort = %d", iface.ListenPort)
	}
	want := []netip.Prefix{netip.MustParsePrefix("10.7.3.0/24"), netip.MustParsePrefix("fd07::/64")}
	if diff := cmp.Diff(want, iface.Subnets, cmpPrefixes...); diff != "" {
		t.Errorf("Subnets mismatch (-want +got):\n%s", diff)
	}
}

func TestStateConfigured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	if _, err := f.m.CreateInterface(ctx, wg9Request()); err != nil {
		t.Fatal(err)
	}
	_ = f.gw.Deactivate(ctx, "wg9")

	st, err := f.m.Status(ctx, "wg9")
	if err != nil || st.State != StateConfigured {
		t.Errorf("Status() = %+v, %v; want configured", st, err)
	}
	if _, err := f.m.Status(ctx, "nope"); !errors.Is(err, models.ErrNoSuchInterface) {
		t.Errorf("Status(nope) error = %v", err)
	}
}

func TestSaveInterface(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	if _, err := f.m.CreateInterface(ctx, wg9Request()); err != nil {
		t.Fatal(err)
	}
	conf := filepath.Join(f.dir, "wg9.conf")
	if err := os.Remove(conf); err != nil {
		t.Fatal(err)
	}
	if err := f.m.SaveInterface(ctx, "wg9"); err != nil {
		t.Fatalf("SaveInterface() error = %v", err)
	}
	data, err := os.ReadFile(conf)
	if err != nil || !strings.Contains(string(data), "ListenPort = 51900") {
		t.Errorf("conf after save = %q, %v", data, err)
	}
	if err := f.m.SaveInterface(ctx, "nope"); !errors.Is(err, models.ErrNoSuchInterface) {
		t.Errorf("SaveInterface(nope) error = %v", err)
	}
}

func TestKeyedMutexParallel(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	counts := map[string]int{}
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("wg%d", i%3)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(name)
			defer unlock()
			mu.Lock()
			counts[name]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(k.locks) != 0 {
		t.Errorf("locks not released: %d left", len(k.locks))
	}
	if counts["wg0"]+counts["wg1"]+counts["wg2"] != 50 {
		t.Errorf("counts = %v", counts)
	}
}
