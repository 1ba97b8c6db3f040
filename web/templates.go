package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

type Templates struct {
	pages map[string]*template.Template
}

func NewTemplates() *Templates {
	base := template.Must(template.New("").Funcs(TemplateFuncs()).ParseFS(templateFS, "templates/layout.html"))

	pages := make(map[string]*template.Template)
	for _, page := range []string{"dashboard"} {
		clone := template.Must(base.Clone())
		pages[page] = template.Must(clone.ParseFS(templateFS, fmt.Sprintf("templates/%s.html", page)))
	}
	return &Templates{pages: pages}
}

func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"clock": func(t *time.Time) string {
			if t == nil {
				return "-"
			}
			return t.Format("15:04:05.000")
		},
		"jsonPretty": func(v any) string {
			if v == nil {
				return ""
			}
			pretty, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err.Error()
			}
			return string(pretty)
		},
		"join": strings.Join,
	}
}

// RenderPage renders an entire page
func (t *Templates) RenderPage(w http.ResponseWriter, page string, data any) {
	pt, ok := t.pages[page]
	if !ok {
		http.Error(w, "Unknown page "+page, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pt.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, "Template rendering error: "+err.Error(), http.StatusInternalServerError)
	}
}
