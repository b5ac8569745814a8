package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wgmgr/config"
	"wgmgr/internal/admin"
	"wgmgr/internal/controller"
	"wgmgr/internal/db"
	"wgmgr/internal/endpoint"
	"wgmgr/internal/health"
	"wgmgr/internal/logs"
	"wgmgr/internal/middleware"
	"wgmgr/internal/repo"
	"wgmgr/internal/vpn/wireguard"
	"wgmgr/internal/wgapi"
)

type App struct {
	cfg        *config.Config
	log        *logrus.Logger
	db         *gorm.DB
	store      *repo.ConfigStore
	gw         wireguard.Gateway
	manager    *controller.Manager
	Router     *mux.Router
	httpServer *http.Server
}

func (a *App) Initialize(ctx context.Context, cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	log, err := logs.New(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	a.log = log
	if cfg.File != "" {
		log.Infof("config: %s", cfg.File)
	}

	/* 2) DB (опционально): документ конфигурации и журнал событий */
	if drv := cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("db open failed: %w", err)
		}
		if err := db.Migrate(d); err != nil {
			return fmt.Errorf("db migrate failed: %w", err)
		}
		a.db = d
	}

	/* 3) Хранилище конфигурации */
	var doc repo.DocumentStore
	switch cfg.Store.Backend {
	case "db":
		doc = repo.NewDBStore(a.db, cfg.Store.Name)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
			return fmt.Errorf("store dir: %w", err)
		}
		doc = repo.NewFileStore(cfg.Store.Path)
	}
	a.store = repo.NewConfigStore(doc)
	if err := a.store.Load(ctx); err != nil {
		return fmt.Errorf("load config document: %w", err)
	}

	/* 4) Драйвер WireGuard */
	wg := cfg.WireGuard
	switch wg.Driver {
	case "native":
		a.gw = wireguard.NewNative(wg.ConfigDir, log.WithField("driver", "native"))
	default:
		a.gw = wireguard.NewExec(wireguard.CommandRunner{}, wireguard.ExecOptions{
			Wg:        wg.WgBin,
			Systemctl: wg.SystemctlBin,
			Timeout:   wg.CommandTimeout,
		}, log.WithField("driver", "exec"))
	}

	/* 5) Менеджер */
	peerAllowed, err := cfg.PeerAllowedIPs()
	if err != nil {
		return err
	}
	a.manager = controller.NewManager(a.store, a.gw, discoverer(cfg), log.WithField("component", "manager"), controller.Options{
		ConfigDir:             wg.ConfigDir,
		RetainPeerPrivateKeys: wg.RetainPeerPrivateKeys,
		DefaultKeepalive:      wg.DefaultKeepalive,
		PeerAllowedIPs:        peerAllowed,
	})
	var events *repo.EventStore
	if a.db != nil {
		events = repo.NewEventStore(a.db)
		a.manager.Journal = events
	}
	a.logInterfaces(ctx)
	if wg.ReconcileOnStart {
		a.manager.ReconcileAll(ctx, false)
	}

	/* 6) Router + middleware */
	a.Router = mux.NewRouter()
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer(log),
		middleware.AccessLog(log),
	)

	/* 7) Health */
	health.RegisterRoutes(a.Router, map[string]health.Check{
		"store": a.store.Check,
		"driver": func(ctx context.Context) error {
			_, err := a.gw.GeneratePrivateKey(ctx)
			return err
		},
	})

	/* 8) API */
	// типизированный nil в интерфейсе выглядел бы включённым журналом
	var apiEvents wgapi.Events
	adm := admin.Dependencies{LC: a.manager, Log: log.WithField("component", "admin")}
	if events != nil {
		apiEvents = events
		adm.Events = events
	}
	wgapi.RegisterRoutes(a.Router, wgapi.NewHandler(a.manager, apiEvents, log.WithField("component", "api")))

	/* 9) Админка (только чтение) */
	if err := admin.Attach(a.Router, adm); err != nil {
		return fmt.Errorf("admin: %w", err)
	}

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

// discoverer: public_host, затем STUN; ничего не задано — Endpoint обязателен в запросе.
func discoverer(cfg *config.Config) endpoint.Discoverer {
	var chain endpoint.Chain
	if h := cfg.WireGuard.PublicHost; h != "" {
		chain = append(chain, endpoint.Static(h))
	}
	if s := cfg.WireGuard.STUNServers; len(s) > 0 {
		chain = append(chain, endpoint.STUN{Servers: s, Timeout: cfg.WireGuard.STUNTimeout})
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// logInterfaces — состояние сохранённых интерфейсов при старте. Ничего не поднимает.
func (a *App) logInterfaces(ctx context.Context) {
	for _, iface := range a.manager.ListInterfaces() {
		state, err := a.manager.State(ctx, iface.Name)
		if err != nil {
			a.log.Warnf("interface %s: state: %v", iface.Name, err)
			continue
		}
		a.log.Infof("interface %s: %s, %d peers", iface.Name, state, len(iface.Peers))
	}
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // STUN и wg-quick up укладываются
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.log.Infof("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("http shutdown: %v", err)
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return nil
}
