package admin

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
)

//go:embed templates/*.tmpl
var tplFS embed.FS

// набор готовых шаблонов по страницам (ключ = имя файла страницы, напр. "interfaces_list.tmpl")
type pageTemplates map[string]*template.Template

var funcs = template.FuncMap{
	"join": strings.Join,
	// короткий вид ключа: первые 8 символов
	"short": func(k string) string {
		if len(k) <= 8 {
			return k
		}
		return k[:8] + "…"
	},
}

func parseTemplates() (pageTemplates, error) {
	// найдём все .tmpl
	all, err := fs.Glob(tplFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("admin: glob templates: %w", err)
	}

	// соберём по одной паре: layout + конкретная страница
	out := make(pageTemplates)
	for _, f := range all {
		if path.Base(f) == "layout.tmpl" {
			continue
		}
		t, err := template.New("layout").Funcs(funcs).ParseFS(tplFS, "templates/layout.tmpl", f)
		if err != nil {
			return nil, fmt.Errorf("admin: parse %s: %w", f, err)
		}
		out[path.Base(f)] = t
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("admin: no templates found in embed FS")
	}
	return out, nil
}
