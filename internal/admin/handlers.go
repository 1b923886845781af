package admin

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"simplesite/internal/config"
	"simplesite/internal/scope"
	"simplesite/internal/session"
	"simplesite/internal/vpath"
)

// tokenRe is the allowed character class of the {dir} URL segment.
var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Controller handles every admin route: authentication, CSRF, and the
// file-manager operations. All filesystem access goes through Node/vpath.
type Controller struct {
	cfg     config.Config
	reg     *scope.Registry
	def     scope.Scope
	store   *session.Store
	uploads *Uploader
	views   *template.Template
	log     zerolog.Logger

	// editMu serializes content writes; mutations besides edit rely on
	// filesystem atomicity (single-admin deployment model).
	editMu sync.Mutex
}

// NewController wires the admin UI together.
func NewController(cfg config.Config, reg *scope.Registry, store *session.Store, log zerolog.Logger) (*Controller, error) {
	views, err := parseViews()
	if err != nil {
		return nil, fmt.Errorf("parse admin views: %w", err)
	}
	def, err := scope.Parse(cfg.DefaultScope)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:     cfg,
		reg:     reg,
		def:     def,
		store:   store,
		uploads: NewUploader(cfg.StateDir),
		views:   views,
		log:     log,
	}, nil
}

func (c *Controller) base() string {
	return strings.TrimSuffix(c.cfg.BasePathAdmin, "/")
}

// Register mounts the admin routes on the mux.
func (c *Controller) Register(mux *http.ServeMux) {
	b := c.base()
	mux.HandleFunc("GET "+b, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, b+"/", http.StatusFound)
	})
	mux.HandleFunc("GET "+b+"/{$}", c.handleIndex)
	mux.HandleFunc("GET "+b+"/login", c.handleLoginForm)
	mux.HandleFunc("POST "+b+"/login", c.handleLogin)
	mux.HandleFunc("GET "+b+"/logout", c.handleLogout)

	mux.HandleFunc("GET "+b+"/{dir}/{$}", c.withNode(c.handleNodeGet))
	mux.HandleFunc("POST "+b+"/{dir}/{$}", c.withNode(c.handleEditSave))
	mux.HandleFunc("GET "+b+"/{dir}/delete", c.withNode(c.handleDeleteForm))
	mux.HandleFunc("POST "+b+"/{dir}/delete", c.withNode(c.handleDelete))
	mux.HandleFunc("GET "+b+"/{dir}/download", c.withNode(c.handleDownload))
	mux.HandleFunc("POST "+b+"/{dir}/download", c.withNode(c.handleDownload))
	mux.HandleFunc("GET "+b+"/{dir}/upload", c.withNode(c.handleUploadForm))
	mux.HandleFunc("POST "+b+"/{dir}/upload", c.withNode(c.handleUpload))
	mux.HandleFunc("GET "+b+"/{dir}/rename", c.withNode(c.handleRenameForm))
	mux.HandleFunc("POST "+b+"/{dir}/rename", c.withNode(c.handleRename))
	mux.HandleFunc("GET "+b+"/{dir}/createFile", c.withNode(c.handleCreateForm("file")))
	mux.HandleFunc("POST "+b+"/{dir}/createFile", c.withNode(c.handleCreateFile))
	mux.HandleFunc("GET "+b+"/{dir}/createFolder", c.withNode(c.handleCreateForm("folder")))
	mux.HandleFunc("POST "+b+"/{dir}/createFolder", c.withNode(c.handleCreateFolder))
}

// --- gates ---

type nodeHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node)

// withNode is the shared gate: session, auth redirect, token resolution.
// Malformed or out-of-root locations render an error page, never a raw
// exception.
func (c *Controller) withNode(h nodeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := c.store.Open(w, r)
		if err != nil {
			c.problem(w, sess, err)
			return
		}
		if !sess.Authenticated {
			http.Redirect(w, r, c.base()+"/login", http.StatusFound)
			return
		}
		token := r.PathValue("dir")
		if !tokenRe.MatchString(token) {
			c.renderError(w, sess, http.StatusBadRequest, "Malformed location.")
			return
		}
		n, err := ResolveToken(c.reg, c.def, token)
		if err != nil {
			c.pathError(w, sess, err)
			return
		}
		h(w, r, sess, n)
	}
}

func (c *Controller) pathError(w http.ResponseWriter, sess *session.Session, err error) {
	switch {
	case errors.Is(err, vpath.ErrUnresolvableBase):
		c.problem(w, sess, err)
	case errors.Is(err, scope.ErrInvalidScope),
		errors.Is(err, vpath.ErrTraversal),
		errors.Is(err, vpath.ErrOutsideRoot),
		errors.Is(err, vpath.ErrSpecialFile),
		errors.Is(err, ErrBadRequest):
		c.renderError(w, sess, http.StatusBadRequest, capitalize(err.Error()))
	default:
		c.problem(w, sess, err)
	}
}

// problem is the generic operation-failure path: logged, never swallowed,
// rendered as an opaque 500.
func (c *Controller) problem(w http.ResponseWriter, sess *session.Session, err error) {
	c.log.Error().Err(err).Msg("admin operation failed")
	c.renderError(w, sess, http.StatusInternalServerError, "Something went wrong.")
}

func (c *Controller) forbidden(w http.ResponseWriter, sess *session.Session) {
	c.renderError(w, sess, http.StatusForbidden, "Forbidden.")
}

func (c *Controller) renderError(w http.ResponseWriter, sess *session.Session, status int, msg string) {
	data := viewData{
		SiteName: c.cfg.SiteName,
		BasePath: c.base(),
		Status:   status,
		Message:  msg,
	}
	render(w, c.log, c.views, status, "error", data)
}

// --- view assembly ---

func (c *Controller) nodeURL(n Node) string {
	if n.IsVirtualRoot() {
		return c.base() + "/"
	}
	return c.base() + "/" + n.Token() + "/"
}

func (c *Controller) buildData(sess *session.Session, n Node, takeFlash bool) (viewData, error) {
	data := viewData{
		SiteName: c.cfg.SiteName,
		BasePath: c.base(),
		CSRF:     sess.CSRF(),
		Node:     n,
		URL:      c.nodeURL(n),
	}
	if takeFlash {
		data.Flash = sess.TakeFlash()
	}
	if parent, err := n.Parent(); err == nil {
		data.ParentURL = c.nodeURL(parent)
	}
	bc, err := n.Breadcrumb()
	if err != nil {
		return data, err
	}
	for _, b := range bc {
		data.Breadcrumb = append(data.Breadcrumb, crumb{Name: b.Name(), URL: c.nodeURL(b)})
	}
	if err := c.store.Save(sess); err != nil {
		return data, err
	}
	return data, nil
}

// checkCSRF validates the submitted token and slides its expiry on
// success. A stale token (past its TTL) never matches because the
// comparison rotates it first; the user sees the invalid-CSRF notice.
func (c *Controller) checkCSRF(r *http.Request, sess *session.Session) bool {
	ok := sess.CheckCSRF(r.FormValue("csrf"))
	if ok {
		sess.RefreshCSRF()
	}
	_ = c.store.Save(sess)
	return ok
}

const invalidCSRF = "Invalid CSRF token, please retry."

// --- auth ---

func (c *Controller) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, err := c.store.Open(w, r)
	if err != nil {
		c.problem(w, sess, err)
		return
	}
	if !sess.Authenticated {
		http.Redirect(w, r, c.base()+"/login", http.StatusFound)
		return
	}
	c.renderListing(w, sess, VirtualRoot(c.reg, c.def))
}

func (c *Controller) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	sess, err := c.store.Open(w, r)
	if err != nil {
		c.problem(w, sess, err)
		return
	}
	if sess.Authenticated {
		http.Redirect(w, r, c.base()+"/", http.StatusFound)
		return
	}
	c.renderLogin(w, sess, "")
}

func (c *Controller) renderLogin(w http.ResponseWriter, sess *session.Session, notice string) {
	data := viewData{
		SiteName: c.cfg.SiteName,
		BasePath: c.base(),
		CSRF:     sess.CSRF(),
		Flash:    sess.TakeFlash(),
		Notice:   notice,
	}
	_ = c.store.Save(sess)
	render(w, c.log, c.views, http.StatusOK, "login", data)
}

func (c *Controller) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, err := c.store.Open(w, r)
	if err != nil {
		c.problem(w, sess, err)
		return
	}
	if !c.checkCSRF(r, sess) {
		c.renderLogin(w, sess, invalidCSRF)
		return
	}
	if !session.PasswordOK(c.cfg.AdminPasswordBcrypt, r.FormValue("password")) {
		c.log.Warn().Str("remote", r.RemoteAddr).Msg("failed admin login")
		c.renderLogin(w, sess, "Invalid password.")
		return
	}
	sess.Authenticated = true
	sess.SetFlash("Welcome back.")
	if err := c.store.Save(sess); err != nil {
		c.problem(w, sess, err)
		return
	}
	http.Redirect(w, r, c.base()+"/", http.StatusFound)
}

func (c *Controller) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, err := c.store.Open(w, r)
	if err == nil {
		_ = c.store.Destroy(w, sess)
	}
	http.Redirect(w, r, c.base()+"/login", http.StatusFound)
}

// --- listing and editor ---

func (c *Controller) renderListing(w http.ResponseWriter, sess *session.Session, n Node) {
	data, err := c.buildData(sess, n, true)
	if err != nil {
		c.pathError(w, sess, err)
		return
	}
	children, err := n.List()
	if err != nil {
		c.problem(w, sess, err)
		return
	}
	for _, child := range children {
		data.Children = append(data.Children, childVM{
			Node:      child,
			URL:       c.nodeURL(child),
			PublicURL: child.PublicURL(),
		})
	}
	render(w, c.log, c.views, http.StatusOK, "listing", data)
}

// handleNodeGet serves the listing for directories and the editor for
// text files.
func (c *Controller) handleNodeGet(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	p, _ := n.Path()
	switch {
	case p.IsDir() && p.Exists():
		c.renderListing(w, sess, n)
	case !p.Exists():
		c.renderError(w, sess, http.StatusNotFound, "Not found.")
	case n.CanEdit():
		c.renderEditor(w, sess, n, "")
	default:
		c.forbidden(w, sess)
	}
}

func (c *Controller) renderEditor(w http.ResponseWriter, sess *session.Session, n Node, notice string) {
	p, _ := n.Path()
	content := ""
	if p.Exists() {
		b, err := os.ReadFile(p.Abs())
		if err != nil {
			c.problem(w, sess, err)
			return
		}
		content = string(b)
	}
	data, err := c.buildData(sess, n, true)
	if err != nil {
		c.pathError(w, sess, err)
		return
	}
	data.Content = content
	data.Notice = notice
	render(w, c.log, c.views, http.StatusOK, "edit", data)
}

func (c *Controller) handleEditSave(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanEdit() {
		c.forbidden(w, sess)
		return
	}
	if !c.checkCSRF(r, sess) {
		c.renderEditor(w, sess, n, invalidCSRF)
		return
	}
	p, _ := n.Path()
	// Normalize Windows line endings before writing.
	content := strings.ReplaceAll(r.FormValue("content"), "\r", "")
	if err := c.writeContent(p.Abs(), []byte(content)); err != nil {
		c.problem(w, sess, err)
		return
	}
	sess.SetFlash("Saved " + n.Name() + ".")
	_ = c.store.Save(sess)
	c.redirectToParent(w, r, sess, n)
}

// writeContent performs the exclusive content write: serialized in-process
// and landed with an atomic rename so readers never observe a torn file.
func (c *Controller) writeContent(abs string, content []byte) error {
	c.editMu.Lock()
	defer c.editMu.Unlock()
	dir := filepath.Dir(abs)
	tmp := filepath.Join(dir, fmt.Sprintf(".edit-%d.tmp", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (c *Controller) redirectToParent(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	parent, err := n.Parent()
	if err != nil {
		c.pathError(w, sess, err)
		return
	}
	http.Redirect(w, r, c.nodeURL(parent), http.StatusFound)
}

// --- delete ---

func (c *Controller) handleDeleteForm(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanDelete() {
		c.forbidden(w, sess)
		return
	}
	data, err := c.buildData(sess, n, true)
	if err != nil {
		c.pathError(w, sess, err)
		return
	}
	render(w, c.log, c.views, http.StatusOK, "confirm", data)
}

func (c *Controller) handleDelete(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanDelete() {
		c.forbidden(w, sess)
		return
	}
	if !c.checkCSRF(r, sess) {
		data, derr := c.buildData(sess, n, false)
		if derr != nil {
			c.pathError(w, sess, derr)
			return
		}
		data.Notice = invalidCSRF
		render(w, c.log, c.views, http.StatusOK, "confirm", data)
		return
	}
	p, _ := n.Path()
	if p.IsDir() {
		count, err := deleteTree(p.Abs())
		if err != nil {
			c.problem(w, sess, err)
			return
		}
		sess.SetFlash(fmt.Sprintf("Deleted %s and %d file(s).", n.Name(), count))
	} else {
		if err := os.Remove(p.Abs()); err != nil {
			c.problem(w, sess, err)
			return
		}
		sess.SetFlash("Deleted " + n.Name() + ".")
	}
	_ = c.store.Save(sess)
	c.redirectToParent(w, r, sess, n)
}

// deleteTree removes a directory bottom-up, files before their parents,
// and reports how many files went away.
func deleteTree(abs string) (int, error) {
	ents, err := os.ReadDir(abs)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range ents {
		child := filepath.Join(abs, e.Name())
		if e.IsDir() {
			sub, err := deleteTree(child)
			count += sub
			if err != nil {
				return count, err
			}
		} else {
			if err := os.Remove(child); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, os.Remove(abs)
}

// --- rename ---

func (c *Controller) handleRenameForm(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanRename() {
		c.forbidden(w, sess)
		return
	}
	c.renderRename(w, sess, n, "")
}

func (c *Controller) renderRename(w http.ResponseWriter, sess *session.Session, n Node, notice string) {
	data, err := c.buildData(sess, n, true)
	if err != nil {
		c.pathError(w, sess, err)
		return
	}
	data.Notice = notice
	render(w, c.log, c.views, http.StatusOK, "rename", data)
}

func (c *Controller) handleRename(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanRename() {
		c.forbidden(w, sess)
		return
	}
	if !c.checkCSRF(r, sess) {
		c.renderRename(w, sess, n, invalidCSRF)
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		c.renderRename(w, sess, n, "Please provide a name.")
		return
	}
	target, err := n.Rename(name)
	if err != nil {
		c.renderRename(w, sess, n, capitalize(err.Error()))
		return
	}
	p, _ := n.Path()
	if p.Equal(target) {
		// Renaming to the current name is fine, just nothing to do.
		sess.SetFlash("Nothing to rename.")
		_ = c.store.Save(sess)
		c.redirectToParent(w, r, sess, n)
		return
	}
	if target.Exists() {
		c.renderRename(w, sess, n, "An entry with that name already exists.")
		return
	}
	if st, err := os.Stat(filepath.Dir(target.Abs())); err != nil || !st.IsDir() {
		c.renderRename(w, sess, n, "The destination folder does not exist.")
		return
	}
	if err := os.Rename(p.Abs(), target.Abs()); err != nil {
		c.problem(w, sess, err)
		return
	}
	sess.SetFlash("Renamed to " + name + ".")
	_ = c.store.Save(sess)
	c.redirectToParent(w, r, sess, n)
}

// --- create ---

func (c *Controller) handleCreateForm(kind string) nodeHandler {
	return func(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
		if !n.CanCreate() {
			c.forbidden(w, sess)
			return
		}
		c.renderCreate(w, sess, n, kind, "")
	}
}

func (c *Controller) renderCreate(w http.ResponseWriter, sess *session.Session, n Node, kind, notice string) {
	data, err := c.buildData(sess, n, true)
	if err != nil {
		c.pathError(w, sess, err)
		return
	}
	data.Kind = kind
	data.Notice = notice
	render(w, c.log, c.views, http.StatusOK, "create", data)
}

func (c *Controller) handleCreateFile(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanCreate() {
		c.forbidden(w, sess)
		return
	}
	if !c.checkCSRF(r, sess) {
		c.renderCreate(w, sess, n, "file", invalidCSRF)
		return
	}
	name := strings.Trim(strings.TrimSpace(r.FormValue("name")), "/")
	if name == "" {
		c.renderCreate(w, sess, n, "file", "Please provide a name.")
		return
	}
	target, err := n.Create(name)
	if err != nil {
		c.renderCreate(w, sess, n, "file", capitalize(err.Error()))
		return
	}
	if target.Exists() {
		c.renderCreate(w, sess, n, "file", "An entry with that name already exists.")
		return
	}
	if err := os.MkdirAll(filepath.Dir(target.Abs()), 0o755); err != nil {
		c.problem(w, sess, err)
		return
	}
	f, err := os.OpenFile(target.Abs(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		c.problem(w, sess, err)
		return
	}
	_ = f.Close()
	sess.SetFlash("Created " + name + ".")
	_ = c.store.Save(sess)
	created := Located(c.reg, c.def, target)
	if created.CanEdit() {
		http.Redirect(w, r, c.nodeURL(created), http.StatusFound)
		return
	}
	http.Redirect(w, r, c.nodeURL(n), http.StatusFound)
}

func (c *Controller) handleCreateFolder(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanCreate() {
		c.forbidden(w, sess)
		return
	}
	if !c.checkCSRF(r, sess) {
		c.renderCreate(w, sess, n, "folder", invalidCSRF)
		return
	}
	name := strings.Trim(strings.TrimSpace(r.FormValue("name")), "/")
	if name == "" {
		c.renderCreate(w, sess, n, "folder", "Please provide a name.")
		return
	}
	target, err := n.Create(name + "/")
	if err != nil {
		c.renderCreate(w, sess, n, "folder", capitalize(err.Error()))
		return
	}
	if target.Exists() {
		c.renderCreate(w, sess, n, "folder", "An entry with that name already exists.")
		return
	}
	if err := os.MkdirAll(target.Abs(), 0o755); err != nil {
		c.problem(w, sess, err)
		return
	}
	if st, err := os.Stat(target.Abs()); err != nil || !st.IsDir() {
		c.problem(w, sess, fmt.Errorf("folder %q missing after creation", target.Abs()))
		return
	}
	sess.SetFlash("Created " + name + ".")
	_ = c.store.Save(sess)
	created := Located(c.reg, c.def, target)
	http.Redirect(w, r, c.nodeURL(created), http.StatusFound)
}

// --- download ---

func (c *Controller) handleDownload(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanDownload() {
		c.forbidden(w, sess)
		return
	}
	// Long downloads must not hold the session.
	if err := c.store.Release(sess); err != nil {
		c.problem(w, sess, err)
		return
	}
	p, _ := n.Path()
	if p.IsFile() {
		f, err := os.Open(p.Abs())
		if err != nil {
			c.problem(w, sess, err)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			c.problem(w, sess, err)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", n.Name()))
		http.ServeContent(w, r, n.Name(), st.ModTime(), f)
		return
	}

	// Archive creation scales with directory size; allow it to run long.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(time.Hour))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", n.Name()+".zip"))
	if err := WriteZip(w, n); err != nil {
		// Headers are gone; log and drop the connection.
		c.log.Error().Err(err).Str("node", n.String()).Msg("zip download failed")
	}
}

// --- upload ---

func (c *Controller) handleUploadForm(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanCreate() {
		c.forbidden(w, sess)
		return
	}
	c.renderUpload(w, sess, n, nil, "")
}

func (c *Controller) renderUpload(w http.ResponseWriter, sess *session.Session, n Node, res *UploadResult, notice string) {
	data, err := c.buildData(sess, n, true)
	if err != nil {
		c.pathError(w, sess, err)
		return
	}
	data.Result = res
	data.Notice = notice
	render(w, c.log, c.views, http.StatusOK, "upload", data)
}

func (c *Controller) handleUpload(w http.ResponseWriter, r *http.Request, sess *session.Session, n Node) {
	if !n.CanCreate() {
		c.forbidden(w, sess)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		c.renderError(w, sess, http.StatusBadRequest, "Malformed upload.")
		return
	}
	if !c.checkCSRF(r, sess) {
		c.renderUpload(w, sess, n, nil, invalidCSRF)
		return
	}
	files := FlattenFiles(r.MultipartForm)
	if len(files) == 0 {
		c.renderUpload(w, sess, n, nil, "Please choose at least one file.")
		return
	}
	isZip := r.FormValue("isZip") != ""
	res := c.uploads.Process(n, files, isZip)
	if res.IsOk() {
		sess.SetFlash(fmt.Sprintf("Uploaded %d file(s).", len(res.Successes)))
		_ = c.store.Save(sess)
		http.Redirect(w, r, c.nodeURL(n), http.StatusFound)
		return
	}
	// Warnings or errors: show the itemized results instead of redirecting.
	c.renderUpload(w, sess, n, res, "")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:] + "."
}
