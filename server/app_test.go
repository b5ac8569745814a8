package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"wgmgr/config"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("CONFIG_FILE", "")

	wgDir := filepath.Join(dir, "wireguard")
	if err := os.Mkdir(wgDir, 0o700); err != nil {
		t.Fatal(err)
	}
	body := "logs:\n  level: error\n" +
		"store:\n  backend: " + backend + "\n  path: " + filepath.Join(dir, "state", "wgmgr.yaml") + "\n" +
		"wireguard:\n  wg_bin: \"true\"\n  systemctl_bin: \"true\"\n  config_dir: " + wgDir + "\n  public_host: vpn.example.com\n"
	if backend == "db" {
		body += "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "wgmgr.db") + "\n"
	}
	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load([]string{"--config", file})
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		backend    string
		eventsCode int
	}{
		{"file", http.StatusNotImplemented},
		{"db", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			app := &App{}
			if err := app.Initialize(context.Background(), testConfig(t, tt.backend)); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}

			for path, want := range map[string]int{
				"/healthz":           http.StatusOK,
				"/readyz":            http.StatusOK,
				"/api/v1/interfaces": http.StatusOK,
				"/api/v1/events":     tt.eventsCode,
				"/api/v1/backup":     http.StatusOK,
				"/admin/interfaces":  http.StatusOK,
				"/admin/events":      http.StatusOK,
			} {
				rec := httptest.NewRecorder()
				app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
				if rec.Code != want {
					t.Errorf("GET %s = %d, want %d: %s", path, rec.Code, want, rec.Body)
				}
				if rec.Header().Get("X-Request-Id") == "" {
					t.Errorf("GET %s: no X-Request-Id", path)
				}
			}
		})
	}
}

func TestRunNotInitialized(t *testing.T) {
	if err := (&App{}).Run(); err == nil {
		t.Error("Run() on empty App succeeded")
	}
}
