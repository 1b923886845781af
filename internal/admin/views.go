package admin

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
)

//go:embed views/*.html
var viewFS embed.FS

func parseViews() (*template.Template, error) {
	return template.ParseFS(viewFS, "views/*.html")
}

// viewData is the context handed to every admin view.
type viewData struct {
	SiteName string
	BasePath string
	CSRF     string
	Flash    string
	Notice   string

	Node       Node
	URL        string
	ParentURL  string
	Breadcrumb []crumb
	Children   []childVM

	Content string        // editor
	Kind    string        // "file" or "folder" for create forms
	Result  *UploadResult // upload outcome table
	Status  int           // error views
	Message string
}

type crumb struct {
	Name string
	URL  string
}

type childVM struct {
	Node      Node
	URL       string
	PublicURL string
}

func render(w http.ResponseWriter, log zerolog.Logger, tpl *template.Template, status int, view string, data viewData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tpl.ExecuteTemplate(w, view+".html", data); err != nil {
		// Rendering must never crash the request; fall back to plain text.
		log.Error().Err(err).Str("view", view).Msg("render failed")
		_, _ = w.Write([]byte("internal rendering error"))
	}
}
