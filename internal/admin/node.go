// Package admin implements the file-manager: capability-checked nodes over
// scoped paths and the authenticated, CSRF-gated workflow handlers that
// mutate the filesystem through them.
package admin

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"simplesite/internal/scope"
	"simplesite/internal/vpath"
)

// ErrBadRequest reports a capability violation: an operation invoked on a
// node that does not allow it.
var ErrBadRequest = errors.New("bad request")

// forbiddenRel is the public entry point; the admin UI must never edit,
// delete or download it.
const forbiddenRel = "/index.html"

// textExts is the editable-extension allow list.
var textExts = map[string]bool{
	".txt": true, ".md": true, ".html": true, ".htm": true, ".css": true,
	".js": true, ".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".csv": true, ".svg": true, ".ini": true, ".conf": true, ".cfg": true,
	".log": true, ".tpl": true,
}

// Node wraps either the virtual root (listing all scopes) or a located
// scoped path, and answers what the admin UI may do with it.
type Node struct {
	reg  *scope.Registry
	def  scope.Scope
	path *vpath.Path // nil for the virtual root
}

// VirtualRoot is the synthetic top level holding one entry per configured
// scope.
func VirtualRoot(reg *scope.Registry, def scope.Scope) Node {
	return Node{reg: reg, def: def}
}

// Located wraps a resolved path.
func Located(reg *scope.Registry, def scope.Scope, p *vpath.Path) Node {
	return Node{reg: reg, def: def, path: p}
}

// Path returns the underlying path and whether the node is located.
func (n Node) Path() (*vpath.Path, bool) { return n.path, n.path != nil }

// IsVirtualRoot reports whether the node is the synthetic scope listing.
func (n Node) IsVirtualRoot() bool { return n.path == nil }

// IsForbidden reports whether the node is the protected public entry point.
func (n Node) IsForbidden() bool { return forbiddenPath(n.path) }

func forbiddenPath(p *vpath.Path) bool {
	return p != nil && p.Scope() == scope.Public && p.Rel() == forbiddenRel
}

// IsRoot reports whether the node is the virtual root or a scope root.
func (n Node) IsRoot() bool { return n.path == nil || n.path.IsRoot() }

// Exists reports on-disk existence; the virtual root always exists.
func (n Node) Exists() bool { return n.path == nil || n.path.Exists() }

// IsDir reports whether the node can hold children.
func (n Node) IsDir() bool { return n.path == nil || n.path.IsDir() }

// IsText reports whether the node's extension is on the editable allow list.
func (n Node) IsText() bool {
	if n.path == nil {
		return false
	}
	return textExts[strings.ToLower(path.Ext(n.path.Rel()))]
}

func (n Node) CanDelete() bool { return n.Exists() && !n.IsForbidden() && !n.IsRoot() }

func (n Node) CanEdit() bool { return !n.IsForbidden() && !n.IsRoot() && n.IsText() }

func (n Node) CanRename() bool { return n.CanDelete() }

// CanCreate requires a located directory: the virtual root cannot hold new
// entries directly.
func (n Node) CanCreate() bool { return n.path != nil && n.path.IsDir() }

func (n Node) CanDownload() bool { return n.path != nil && n.path.Exists() && !n.IsForbidden() }

// Name is the display label.
func (n Node) Name() string {
	if n.path == nil {
		return "Root"
	}
	return n.path.Name()
}

// String is the full display form, "" for the virtual root.
func (n Node) String() string {
	if n.path == nil {
		return ""
	}
	return n.path.String()
}

// Symbol returns the icon class shown in listings.
func (n Node) Symbol() string {
	switch {
	case n.path == nil:
		return "icon-home"
	case n.path.IsDir():
		return "icon-folder"
	case n.IsText():
		return "icon-file-text"
	default:
		switch strings.ToLower(path.Ext(n.path.Rel())) {
		case ".png", ".jpg", ".jpeg", ".gif", ".webp":
			return "icon-file-image"
		case ".zip", ".tar", ".gz":
			return "icon-file-archive"
		default:
			return "icon-file"
		}
	}
}

// SizeHuman renders the file size, empty for directories and the root.
func (n Node) SizeHuman() string {
	if n.path == nil || !n.path.IsFile() || !n.path.Exists() {
		return ""
	}
	return humanBytes(n.path.Size())
}

// PublicURL maps a public-scope node to its externally reachable URL,
// empty for everything else.
func (n Node) PublicURL() string {
	if n.path == nil || n.path.Scope() != scope.Public {
		return ""
	}
	return n.path.Rel()
}

// Token is the opaque reversible URL form of the node's address; it stays
// within [A-Za-z0-9_-].
func (n Node) Token() string {
	return base64.RawURLEncoding.EncodeToString([]byte(n.String()))
}

// ResolveToken decodes a {dir} URL segment back into a node. Path errors
// propagate so the controller can render them.
func ResolveToken(reg *scope.Registry, def scope.Scope, token string) (Node, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Node{}, fmt.Errorf("%w: malformed location token", ErrBadRequest)
	}
	p, err := vpath.New(reg, def, string(raw))
	if err != nil {
		return Node{}, err
	}
	return Located(reg, def, p), nil
}

// List enumerates children: configured scopes at the virtual root, the
// path's directories-then-files listing everywhere else.
func (n Node) List() ([]Node, error) {
	if n.path == nil {
		var out []Node
		for _, s := range scope.All() {
			if !n.reg.Configured(s) {
				continue
			}
			p, err := vpath.New(n.reg, n.def, "@"+string(s)+"/")
			if err != nil {
				return nil, err
			}
			out = append(out, Located(n.reg, n.def, p))
		}
		return out, nil
	}
	dirs, files, err := n.path.List()
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(dirs)+len(files))
	for _, d := range dirs {
		out = append(out, Located(n.reg, n.def, d))
	}
	for _, f := range files {
		out = append(out, Located(n.reg, n.def, f))
	}
	return out, nil
}

// Breadcrumb walks from the virtual root to the node. Always non-empty.
func (n Node) Breadcrumb() ([]Node, error) {
	out := []Node{VirtualRoot(n.reg, n.def)}
	if n.path == nil {
		return out, nil
	}
	chain, err := n.path.Breadcrumb()
	if err != nil {
		return nil, err
	}
	for _, p := range chain {
		out = append(out, Located(n.reg, n.def, p))
	}
	return out, nil
}

// Create addresses a new child entry. The capability check runs before any
// navigation so an invalid target is never even constructed.
func (n Node) Create(name string) (*vpath.Path, error) {
	if !n.CanCreate() {
		return nil, fmt.Errorf("%w: cannot create under %q", ErrBadRequest, n.Name())
	}
	return n.path.Relative(name)
}

// Rename addresses the node's sibling under the new name, again checking
// capability first.
func (n Node) Rename(name string) (*vpath.Path, error) {
	if !n.CanRename() {
		return nil, fmt.Errorf("%w: cannot rename %q", ErrBadRequest, n.Name())
	}
	if n.path.IsFile() {
		return n.path.Relative(name)
	}
	parent, err := n.path.Dirname(1)
	if err != nil {
		return nil, err
	}
	return parent.Relative(strings.TrimSuffix(name, "/") + "/")
}

// Parent returns the containing node: the virtual root for scope roots.
func (n Node) Parent() (Node, error) {
	if n.path == nil || n.path.IsRoot() {
		return VirtualRoot(n.reg, n.def), nil
	}
	p, err := n.path.Dirname(1)
	if err != nil {
		return Node{}, err
	}
	return Located(n.reg, n.def, p), nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
