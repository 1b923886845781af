// Package httpserver assembles the public site and mounts the admin UI:
// flat-file pages, static public files, thumbnails, the visit counter,
// redirects, and a read-only WebDAV view of the scopes.
package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/webdav"

	"simplesite/internal/admin"
	"simplesite/internal/config"
	"simplesite/internal/counter"
	"simplesite/internal/pages"
	"simplesite/internal/redirect"
	"simplesite/internal/scope"
	"simplesite/internal/session"
	"simplesite/internal/vpath"
)

type Server struct {
	cfg       config.Config
	reg       *scope.Registry
	store     *session.Store
	admin     *admin.Controller
	pages     *pages.Renderer
	visits    *counter.Store
	redirects *redirect.Table
	dav       map[scope.Scope]*webdav.Handler
	log       zerolog.Logger

	stop chan struct{}
}

// New wires the whole site together from config.
func New(cfg config.Config, log zerolog.Logger) (*Server, error) {
	reg := scope.NewRegistry(cfg.Scopes)
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state: %w", err)
	}
	store, err := session.NewStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	adm, err := admin.NewController(cfg, reg, store, log.With().Str("component", "admin").Logger())
	if err != nil {
		return nil, err
	}
	renderer, err := pages.New(reg, cfg.SiteName, log.With().Str("component", "pages").Logger())
	if err != nil {
		return nil, err
	}
	visits, err := counter.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	dataDir, _, _ := reg.Base(scope.Data, false)
	redirects, err := redirect.Load(dataDir)
	if err != nil {
		return nil, err
	}

	dav := map[scope.Scope]*webdav.Handler{}
	for _, s := range scope.All() {
		base, ok, _ := reg.Base(s, false)
		if !ok {
			continue
		}
		dav[s] = &webdav.Handler{
			Prefix:     "/dav/" + string(s),
			FileSystem: webdav.Dir(base),
			LockSystem: webdav.NewMemLS(),
		}
	}

	return &Server{
		cfg:       cfg,
		reg:       reg,
		store:     store,
		admin:     adm,
		pages:     renderer,
		visits:    visits,
		redirects: redirects,
		dav:       dav,
		log:       log,
		stop:      make(chan struct{}),
	}, nil
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	s.admin.Register(mux)

	mux.HandleFunc("/dav/{scope}/", s.handleDAV)
	mux.HandleFunc("/dav/{scope}", s.handleDAV)
	mux.HandleFunc("GET /thumb", s.handleThumb)
	mux.HandleFunc("GET /{path...}", s.handleSite)

	return withHeaders(mux)
}

// Run starts the counter flush loop.
func (s *Server) Run() {
	go s.visits.FlushEvery(counterFlushInterval, s.stop)
}

// Close flushes state and stops background work.
func (s *Server) Close() error {
	close(s.stop)
	_ = s.visits.Flush()
	return s.pages.Close()
}

const counterFlushInterval = 30 * time.Second

// handleSite is the catch-all: redirect table, then public static files,
// then rendered pages, then 404.
func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	urlPath := "/" + r.PathValue("path")

	if rule, ok := s.redirects.Lookup(urlPath); ok {
		http.Redirect(w, r, rule.Target, rule.Code)
		return
	}

	if hiddenSegment(urlPath) {
		http.NotFound(w, r)
		return
	}

	if s.servePublicFile(w, r, urlPath) {
		return
	}

	count := s.visits.Hit(urlPath)
	body, err := s.pages.Render(urlPath, count)
	if err != nil {
		if errors.Is(err, pages.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Error().Err(err).Str("path", urlPath).Msg("page render failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

// servePublicFile serves an existing file from the public scope; reports
// whether it handled the request.
func (s *Server) servePublicFile(w http.ResponseWriter, r *http.Request, urlPath string) bool {
	if urlPath == "/" {
		return false
	}
	p, err := vpath.New(s.reg, scope.Public, "@public"+urlPath)
	if err != nil || !p.Exists() || !p.IsFile() {
		return false
	}
	f, err := os.Open(p.Abs())
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return false
	}
	if ct := contentTypeForName(p.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, p.Name(), st.ModTime(), f)
	return true
}

// handleThumb serves cached jpeg thumbnails for images in the public scope.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	p, err := vpath.New(s.reg, scope.Public, "@public/"+strings.TrimPrefix(rel, "/"))
	if err != nil || !p.Exists() || !p.IsFile() {
		http.NotFound(w, r)
		return
	}
	if !isImageExt(strings.ToLower(filepath.Ext(p.Abs()))) {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(p.Abs())
	if err != nil {
		http.NotFound(w, r)
		return
	}

	thumbDir := filepath.Join(s.cfg.StateDir, "thumbs")
	_ = os.MkdirAll(thumbDir, 0o755)
	key := fmt.Sprintf("%s-%d.jpg", cacheKey(p.Rel()), st.ModTime().Unix())
	thumbPath := filepath.Join(thumbDir, key)
	if b, err := os.ReadFile(thumbPath); err == nil {
		serveThumb(w, b)
		return
	}
	b, err := renderThumb(p.Abs())
	if err != nil {
		http.NotFound(w, r)
		return
	}
	_ = os.WriteFile(thumbPath, b, 0o644)
	serveThumb(w, b)
}

func serveThumb(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(b)
}

// handleDAV exposes each configured scope read-only to authenticated
// admins.
func (s *Server) handleDAV(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Open(w, r)
	if err != nil || !sess.Authenticated {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	switch r.Method {
	case "GET", "HEAD", "OPTIONS", "PROPFIND":
	default:
		http.Error(w, "read-only", http.StatusMethodNotAllowed)
		return
	}
	sc, err := scope.Parse(r.PathValue("scope"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	h, ok := s.dav[sc]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

// --- helpers ---

func hiddenSegment(urlPath string) bool {
	for _, seg := range strings.Split(urlPath, "/") {
		if strings.HasPrefix(seg, ".") && seg != "" {
			return true
		}
	}
	return false
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func cacheKey(rel string) string {
	rel = strings.Trim(rel, "/")
	rel = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(rel)
	if rel == "" {
		return "root"
	}
	return url.PathEscape(rel)
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".txt", ".md", ".log", ".yaml", ".yml", ".ini", ".cfg", ".conf":
		return "text/plain; charset=utf-8"
	default:
		return ""
	}
}

// withHeaders applies the blanket hardening headers.
func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
