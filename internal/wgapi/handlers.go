package wgapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"wgmgr/internal/controller"
	"wgmgr/internal/middleware"
	"wgmgr/internal/models"
	"wgmgr/internal/repo"
	"wgmgr/internal/vpn/wireguard"
)

// Lifecycle — операции контроллера, доступные через API (controller.Manager).
type Lifecycle interface {
	ListInterfaces() []models.Interface
	GetInterface(name string) (models.Interface, error)
	CreateInterface(ctx context.Context, req controller.CreateInterfaceRequest) (models.Interface, error)
	DeleteInterface(ctx context.Context, name string) error
	SaveInterface(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (controller.Status, error)
	Reconcile(ctx context.Context, name string, prune bool) (controller.ReconcileReport, error)

	AddPeer(ctx context.Context, req controller.AddPeerRequest) (controller.AddPeerResult, error)
	SetPeer(ctx context.Context, iface, publicKey string, patch controller.PeerPatch) (models.Peer, error)
	DeletePeer(ctx context.Context, iface, publicKey string) error

	GenerateKeyPair(ctx context.Context) (wireguard.KeyPair, error)
	PublicKeyOf(ctx context.Context, private string) (string, error)
	GeneratePresharedKey(ctx context.Context) (string, error)
	Backup(ctx context.Context) ([]byte, string, error)
}

// Events — журнал переходов (repo.EventStore); без БД отсутствует.
type Events interface {
	List(ctx context.Context, f repo.EventFilter) ([]models.Event, error)
}

type Handler struct {
	lc     Lifecycle
	events Events
	log    logrus.FieldLogger
}

func NewHandler(lc Lifecycle, events Events, log logrus.FieldLogger) *Handler {
	return &Handler{lc: lc, events: events, log: log}
}

// fail пишет problem+json; 5xx дополнительно логируются с reqid.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if models.StatusOf(err) >= http.StatusInternalServerError {
		middleware.Log(h.log, r).Errorf("request failed: %v", err)
	}
	models.WriteError(w, err)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.Errorf(models.ErrInvalidRequest, "bad json: %v", err)
	}
	return nil
}

// ---- interfaces ----

// GET /api/v1/interfaces
func (h *Handler) ListInterfaces(w http.ResponseWriter, _ *http.Request) {
	list := h.lc.ListInterfaces()
	out := make([]InterfaceView, 0, len(list))
	for _, i := range list {
		out = append(out, interfaceView(i))
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// POST /api/v1/interfaces
func (h *Handler) CreateInterface(w http.ResponseWriter, r *http.Request) {
	var req CreateInterfaceRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	addrs, err := prefixes("addresses", req.Addresses)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subnets, err := prefixes("subnets", req.Subnets)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	iface, err := h.lc.CreateInterface(r.Context(), controller.CreateInterfaceRequest{
		Name:        req.Name,
		Description: req.Description,
		Addresses:   addrs,
		Subnets:     subnets,
		ListenPort:  req.ListenPort,
		PrivateKey:  req.PrivateKey,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/interfaces/"+iface.Name)
	models.WriteJSON(w, http.StatusCreated, interfaceView(iface))
}

// GET /api/v1/interfaces/{name}
func (h *Handler) GetInterface(w http.ResponseWriter, r *http.Request) {
	iface, err := h.lc.GetInterface(mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, interfaceView(iface))
}

// DELETE /api/v1/interfaces/{name}
func (h *Handler) DeleteInterface(w http.ResponseWriter, r *http.Request) {
	if err := h.lc.DeleteInterface(r.Context(), mux.Vars(r)["name"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/interfaces/{name}/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.lc.Status(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, st)
}

// POST /api/v1/interfaces/{name}/save
func (h *Handler) SaveInterface(w http.ResponseWriter, r *http.Request) {
	if err := h.lc.SaveInterface(r.Context(), mux.Vars(r)["name"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/interfaces/{name}/reconcile[?prune=true]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	prune := false
	if s := r.URL.Query().Get("prune"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			h.fail(w, r, models.Errorf(models.ErrInvalidRequest, "bad prune %q", s))
			return
		}
		prune = v
	}
	rep, err := h.lc.Reconcile(r.Context(), mux.Vars(r)["name"], prune)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, reconcileView(rep))
}

// ---- peers ----

// GET /api/v1/interfaces/{name}/peers
func (h *Handler) ListPeers(w http.ResponseWriter, r *http.Request) {
	iface, err := h.lc.GetInterface(mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, interfaceView(iface).Peers)
}

// POST /api/v1/interfaces/{name}/peers
func (h *Handler) AddPeer(w http.ResponseWriter, r *http.Request) {
	var req AddPeerRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := controller.AddPeerRequest{
		Interface:            mux.Vars(r)["name"],
		Keepalive:            req.Keepalive,
		Endpoint:             req.Endpoint,
		PeerEndpoint:         req.PeerEndpoint,
		PeerListenPort:       req.PeerListenPort,
		PrivateKey:           req.PrivateKey,
		PublicKey:            req.PublicKey,
		PresharedKey:         req.PresharedKey,
		GeneratePresharedKey: req.GeneratePresharedKey,
		Description:          req.Description,
	}
	var err error
	if in.Addresses, err = prefixes("addresses", req.Addresses); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.Networks, err = prefixes("networks", req.Networks); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.AllowedIPs, err = prefixes("allowed_ips", req.AllowedIPs); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.lc.AddPeer(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, AddPeerResponse{
		Peer:         peerView(res.Peer),
		ClientConfig: res.ClientConfig,
	})
}

// PATCH /api/v1/interfaces/{name}/peers
func (h *Handler) SetPeer(w http.ResponseWriter, r *http.Request) {
	var req SetPeerRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	allowed, err := prefixes("allowed_ips", req.AllowedIPs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	peer, err := h.lc.SetPeer(r.Context(), mux.Vars(r)["name"], req.PublicKey, controller.PeerPatch{
		Endpoint:     req.Endpoint,
		AllowedIPs:   allowed,
		Keepalive:    req.Keepalive,
		PresharedKey: req.PresharedKey,
		Remove:       req.Remove,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Remove {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	models.WriteJSON(w, http.StatusOK, peerView(peer))
}

// DELETE /api/v1/interfaces/{name}/peers?public_key=...
func (h *Handler) DeletePeer(w http.ResponseWriter, r *http.Request) {
	if err := h.lc.DeletePeer(r.Context(), mux.Vars(r)["name"], queryKey(r, "public_key")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryKey: base64 с неэкранированным '+' приходит как пробел.
func queryKey(r *http.Request, name string) string {
	return strings.ReplaceAll(r.URL.Query().Get(name), " ", "+")
}

// ---- keys ----

// POST /api/v1/keys
func (h *Handler) GenerateKeyPair(w http.ResponseWriter, r *http.Request) {
	kp, err := h.lc.GenerateKeyPair(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, kp)
}

// POST /api/v1/keys/public
func (h *Handler) PublicKey(w http.ResponseWriter, r *http.Request) {
	var req PublicKeyRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pub, err := h.lc.PublicKeyOf(r.Context(), req.PrivateKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, PublicKeyResponse{PublicKey: pub})
}

// POST /api/v1/keys/preshared
func (h *Handler) PresharedKey(w http.ResponseWriter, r *http.Request) {
	psk, err := h.lc.GeneratePresharedKey(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, PresharedKeyResponse{PresharedKey: psk})
}

// ---- journal, backup ----

// GET /api/v1/events?interface=wg0&limit=50
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		models.WriteProblem(w, http.StatusNotImplemented, http.StatusText(http.StatusNotImplemented),
			"event journal requires database.driver", nil)
		return
	}
	f := repo.EventFilter{Interface: r.URL.Query().Get("interface")}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.fail(w, r, models.Errorf(models.ErrInvalidRequest, "bad limit %q", s))
			return
		}
		f.Limit = n
	}
	list, err := h.events.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]EventView, 0, len(list))
	for _, e := range list {
		out = append(out, eventView(e))
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// GET /api/v1/backup[?checksum=...]
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	data, sum, err := h.lc.Backup(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// ETag-like 304 поведение
	if prev := r.URL.Query().Get("checksum"); prev != "" && prev == sum {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="wgmgr-backup.tar.gz"`)
	w.Header().Set("X-Checksum", sum)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
