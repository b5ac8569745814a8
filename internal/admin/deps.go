package admin

import (
	"context"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"wgmgr/internal/controller"
	"wgmgr/internal/models"
	"wgmgr/internal/repo"
)

// Lifecycle — то, что страницам нужно от controller.Manager.
type Lifecycle interface {
	ListInterfaces() []models.Interface
	GetInterface(name string) (models.Interface, error)
	Status(ctx context.Context, name string) (controller.Status, error)
	SaveInterface(ctx context.Context, name string) error
}

// Events — журнал (repo.EventStore); nil, если БД не настроена.
type Events interface {
	List(ctx context.Context, f repo.EventFilter) ([]models.Event, error)
}

type Dependencies struct {
	LC     Lifecycle
	Events Events
	Log    logrus.FieldLogger
}

// Attach вешает страницы на /admin. Страницы только показывают состояние;
// единственное действие — перерисовка файлов драйвера (save).
func Attach(r *mux.Router, d Dependencies) error {
	t, err := parseTemplates()
	if err != nil {
		return err
	}
	h := &Handler{d: d, t: t}
	sub := r.PathPrefix("/admin").Subrouter()

	// pages
	sub.HandleFunc("", h.redirect("/admin/interfaces")).Methods("GET")
	sub.HandleFunc("/", h.redirect("/admin/interfaces")).Methods("GET")
	sub.HandleFunc("/interfaces", h.InterfacesList).Methods("GET")
	sub.HandleFunc("/interfaces/{name}", h.InterfaceDetail).Methods("GET")
	sub.HandleFunc("/events", h.EventsList).Methods("GET")

	// actions (form → redirect back)
	sub.HandleFunc("/interfaces/{name}/save", h.SaveInterface).Methods("POST")

	// static (very small)
	sub.HandleFunc("/static/style.css", serveCSS).Methods("GET")
	return nil
}
