package admin

import (
	"bytes"
	"net/http"
	"net/netip"

	"github.com/gorilla/mux"

	"wgmgr/internal/controller"
	"wgmgr/internal/models"
	"wgmgr/internal/repo"
)

type Handler struct {
	d Dependencies
	t pageTemplates
}

func (h *Handler) redirect(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, http.StatusFound)
	}
}

// render исполняет шаблон в буфер: ошибка шаблона не оставляет полстраницы.
func (h *Handler) render(w http.ResponseWriter, page string, data any) {
	t, ok := h.t[page]
	if !ok {
		http.Error(w, "template not found: "+page, http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.d.Log.Errorf("admin: render %s: %v", page, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// ---------- Pages ----------

type interfaceRow struct {
	Name        string
	Description string
	State       controller.State
	Addresses   []string
	ListenPort  int
	Peers       int
}

func (h *Handler) InterfacesList(w http.ResponseWriter, r *http.Request) {
	list := h.d.LC.ListInterfaces()
	rows := make([]interfaceRow, 0, len(list))
	for _, i := range list {
		row := interfaceRow{
			Name:        i.Name,
			Description: i.Description,
			Addresses:   strs(i.Addresses),
			ListenPort:  i.ListenPort,
			Peers:       len(i.Peers),
		}
		// сбой драйвера не должен ронять страницу
		if st, err := h.d.LC.Status(r.Context(), i.Name); err == nil {
			row.State = st.State
		} else {
			row.State = "unknown"
		}
		rows = append(rows, row)
	}
	h.render(w, "interfaces_list.tmpl", map[string]any{
		"Title": "Interfaces",
		"Rows":  rows,
	})
}

type peerRow struct {
	PublicKey   string
	Description string
	Addresses   []string
	AllowedIPs  []string
	Live        bool
}

func (h *Handler) InterfaceDetail(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	iface, err := h.d.LC.GetInterface(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	st, err := h.d.LC.Status(r.Context(), name)
	if err != nil {
		h.d.Log.Warnf("admin: status %s: %v", name, err)
		st = controller.Status{Name: name, State: "unknown"}
	}

	live := map[string]bool{}
	for _, p := range st.Peers {
		live[p.PublicKey] = true
	}
	peers := make([]peerRow, 0, len(iface.Peers))
	for _, p := range iface.Peers {
		peers = append(peers, peerRow{
			PublicKey:   p.PublicKey,
			Description: p.Description,
			Addresses:   strs(p.Addresses),
			AllowedIPs:  strs(p.ServerAllowedIPs),
			Live:        live[p.PublicKey],
		})
	}
	// живые пиры, которых нет в хранилище (добавлены в обход менеджера)
	for _, p := range st.Peers {
		if iface.FindPeer(p.PublicKey) >= 0 {
			continue
		}
		peers = append(peers, peerRow{
			PublicKey:   p.PublicKey,
			Description: "(not managed)",
			AllowedIPs:  strs(p.AllowedIPs),
			Live:        true,
		})
	}

	h.render(w, "interface_detail.tmpl", map[string]any{
		"Title":     "Interface " + iface.Name,
		"Iface":     iface,
		"Addresses": strs(iface.Addresses),
		"Subnets":   strs(iface.Subnets),
		"Status":    st,
		"Peers":     peers,
	})
}

func (h *Handler) EventsList(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "Events", "Enabled": h.d.Events != nil}
	if h.d.Events != nil {
		rows, err := h.d.Events.List(r.Context(), repo.EventFilter{
			Interface: r.URL.Query().Get("interface"),
			Limit:     200,
		})
		if err != nil {
			h.d.Log.Errorf("admin: events: %v", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		data["Rows"] = rows
	}
	h.render(w, "events_list.tmpl", data)
}

// ---------- Actions ----------

func (h *Handler) SaveInterface(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.d.LC.SaveInterface(r.Context(), name); err != nil {
		http.Error(w, err.Error(), models.StatusOf(err))
		return
	}
	http.Redirect(w, r, "/admin/interfaces/"+name, http.StatusSeeOther)
}

// ---------- utils ----------

func strs(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}
