package wgapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes вешает API на /api/v1. Аутентификации нет: слушать только доверенный адрес.
func RegisterRoutes(r *mux.Router, h *Handler) {
	sub := r.PathPrefix("/api/v1").Subrouter()

	sub.HandleFunc("/interfaces", h.ListInterfaces).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces", h.CreateInterface).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/{name}", h.GetInterface).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces/{name}", h.DeleteInterface).Methods(http.MethodDelete)
	sub.HandleFunc("/interfaces/{name}/status", h.Status).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces/{name}/save", h.SaveInterface).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/{name}/reconcile", h.Reconcile).Methods(http.MethodPost)

	sub.HandleFunc("/interfaces/{name}/peers", h.ListPeers).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces/{name}/peers", h.AddPeer).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/{name}/peers", h.SetPeer).Methods(http.MethodPatch)
	sub.HandleFunc("/interfaces/{name}/peers", h.DeletePeer).Methods(http.MethodDelete)

	sub.HandleFunc("/keys", h.GenerateKeyPair).Methods(http.MethodPost)
	sub.HandleFunc("/keys/public", h.PublicKey).Methods(http.MethodPost)
	sub.HandleFunc("/keys/preshared", h.PresharedKey).Methods(http.MethodPost)

	sub.HandleFunc("/events", h.Events).Methods(http.MethodGet)
	sub.HandleFunc("/backup", h.Backup).Methods(http.MethodGet)
}
