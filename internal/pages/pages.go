// Package pages renders the site's flat-file pages: markdown (or raw HTML
// fragments) from the pages scope, wrapped in a layout template from the
// templates scope, minified, and cached until the source files change.
package pages

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/tdewolff/minify/v2"
	minhtml "github.com/tdewolff/minify/v2/html"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"simplesite/internal/scope"
	"simplesite/internal/vpath"
)

// ErrNotFound reports a request with no matching page file.
var ErrNotFound = errors.New("page not found")

// layoutName is looked up in the templates scope.
const layoutName = "layout.html"

// fallbackLayout keeps the site serving when no layout template is
// configured.
const fallbackLayout = `<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}} - {{.SiteName}}</title></head>
<body><main>{{.Content}}</main><footer><small>{{.Visits}} visits</small></footer></body></html>`

// pageData is what layout templates receive.
type pageData struct {
	SiteName string
	Title    string
	Content  template.HTML
	Visits   int64
}

// Renderer turns request paths into rendered HTML.
type Renderer struct {
	reg      *scope.Registry
	siteName string
	md       goldmark.Markdown
	min      *minify.M
	log      zerolog.Logger

	mu     sync.RWMutex
	layout *template.Template
	cache  map[string]string // urlPath -> rendered page body (pre-layout)

	watcher *fsnotify.Watcher
}

// New builds the renderer and starts the change watcher over the pages and
// templates scopes.
func New(reg *scope.Registry, siteName string, log zerolog.Logger) (*Renderer, error) {
	m := minify.New()
	m.AddFunc("text/html", minhtml.Minify)
	r := &Renderer{
		reg:      reg,
		siteName: siteName,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Typographer)),
		min:      m,
		log:      log,
		cache:    map[string]string{},
	}
	if err := r.loadLayout(); err != nil {
		return nil, err
	}
	if err := r.watch(); err != nil {
		// The watcher is best-effort; without it the cache just never
		// invalidates, so log and keep the cache off instead.
		log.Warn().Err(err).Msg("page watcher unavailable, caching disabled")
		r.cache = nil
	}
	return r, nil
}

func (r *Renderer) loadLayout() error {
	src := fallbackLayout
	if dir, ok, _ := r.reg.Base(scope.Templates, false); ok {
		if b, err := os.ReadFile(filepath.Join(dir, layoutName)); err == nil {
			src = string(b)
		}
	}
	tpl, err := template.New("layout").Parse(src)
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}
	r.mu.Lock()
	r.layout = tpl
	r.mu.Unlock()
	return nil
}

func (r *Renderer) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, s := range []scope.Scope{scope.Pages, scope.Templates} {
		if dir, ok, _ := r.reg.Base(s, false); ok {
			if err := w.Add(dir); err != nil {
				_ = w.Close()
				return err
			}
		}
	}
	r.watcher = w
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				r.invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Warn().Err(err).Msg("page watcher error")
			}
		}
	}()
	return nil
}

func (r *Renderer) invalidate() {
	r.mu.Lock()
	if r.cache != nil {
		r.cache = map[string]string{}
	}
	r.mu.Unlock()
	if err := r.loadLayout(); err != nil {
		r.log.Error().Err(err).Msg("layout reload failed")
	}
}

// Close stops the watcher.
func (r *Renderer) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Render resolves a request path to a page and returns the final minified
// HTML. The visit count is injected into the layout.
func (r *Renderer) Render(urlPath string, visits int64) ([]byte, error) {
	name := strings.Trim(path.Clean("/"+urlPath), "/")
	if name == "" {
		name = "index"
	}
	body, title, err := r.pageBody(urlPath, name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	layout := r.layout
	r.mu.RUnlock()
	var buf bytes.Buffer
	err = layout.Execute(&buf, pageData{
		SiteName: r.siteName,
		Title:    title,
		Content:  template.HTML(body),
		Visits:   visits,
	})
	if err != nil {
		return nil, fmt.Errorf("render layout: %w", err)
	}
	out, err := r.min.Bytes("text/html", buf.Bytes())
	if err != nil {
		// Serve unminified rather than failing the request.
		return buf.Bytes(), nil
	}
	return out, nil
}

func (r *Renderer) pageBody(urlPath, name string) (string, string, error) {
	title := path.Base(name)
	r.mu.RLock()
	if r.cache != nil {
		if body, ok := r.cache[urlPath]; ok {
			r.mu.RUnlock()
			return body, title, nil
		}
	}
	r.mu.RUnlock()

	body, err := r.loadBody(name)
	if err != nil {
		return "", "", err
	}
	r.mu.Lock()
	if r.cache != nil {
		r.cache[urlPath] = body
	}
	r.mu.Unlock()
	return body, title, nil
}

// loadBody finds the page file, markdown first. All lookups go through
// vpath so a request path can never escape the pages scope.
func (r *Renderer) loadBody(name string) (string, error) {
	for _, ext := range []string{".md", ".html"} {
		p, err := vpath.New(r.reg, scope.Pages, "@pages/"+name+ext)
		if err != nil {
			if errors.Is(err, vpath.ErrOutsideRoot) || errors.Is(err, vpath.ErrTraversal) {
				return "", ErrNotFound
			}
			return "", err
		}
		if !p.Exists() || !p.IsFile() {
			continue
		}
		raw, err := os.ReadFile(p.Abs())
		if err != nil {
			return "", err
		}
		if ext == ".html" {
			return string(raw), nil
		}
		var buf bytes.Buffer
		if err := r.md.Convert(raw, &buf); err != nil {
			return "", fmt.Errorf("markdown %s: %w", p, err)
		}
		return buf.String(), nil
	}
	return "", ErrNotFound
}
