// Package vpath implements scoped, containment-checked filesystem paths.
// A Path is the only way the rest of the system addresses a location on
// disk: it is always provably inside its scope's base directory, and every
// navigation operation re-enters the constructor so the containment check
// is never skipped on a derived path.
package vpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"simplesite/internal/scope"
)

var (
	// ErrOutsideRoot reports a path that resolves outside its scope's base.
	ErrOutsideRoot = errors.New("unauthorized access outside root paths")
	// ErrTraversal reports a relative path whose ".." segments could not be
	// resolved within the canonicalization bound.
	ErrTraversal = errors.New("unresolvable path traversal")
	// ErrUnresolvableBase reports a scope whose configured base directory
	// does not exist as a real directory. This is a deployment problem.
	ErrUnresolvableBase = errors.New("scope base path cannot be resolved")
	// ErrSpecialFile reports an existing target that is neither a regular
	// file nor a directory.
	ErrSpecialFile = errors.New("unsupported special file")
)

// canonicalPasses bounds the textual ".." collapsing loop for paths that do
// not exist on disk yet.
const canonicalPasses = 20

// Path is one filesystem location addressed as scope + relative path.
// Immutable; navigation returns new instances.
type Path struct {
	reg *scope.Registry
	def scope.Scope

	sc     scope.Scope
	rel    string // canonical, leading slash, "/" for the scope root
	abs    string
	base   string // resolved base directory of the scope
	exists bool
	isDir  bool
	isFile bool
}

// New resolves an input of the form "@scope/relative/path" (or a bare
// relative path, which uses the default scope) into a validated Path.
// Inputs ending in a separator denote directories when the target does not
// exist yet.
func New(reg *scope.Registry, def scope.Scope, input string) (*Path, error) {
	sc, rawRel, err := splitScope(strings.TrimSpace(input), def)
	if err != nil {
		return nil, err
	}
	base, _, err := reg.Base(sc, true)
	if err != nil {
		return nil, err
	}
	realBase, err := resolveBase(base)
	if err != nil {
		return nil, err
	}

	rawRel = strings.ReplaceAll(rawRel, "\\", "/")
	wantDir := rawRel == "" || strings.HasSuffix(rawRel, "/")

	p := &Path{reg: reg, def: def, sc: sc, base: realBase}

	joined := realBase
	if trimmed := strings.TrimPrefix(rawRel, "/"); trimmed != "" {
		joined = realBase + string(filepath.Separator) + filepath.FromSlash(trimmed)
	}

	st, statErr := os.Stat(joined)
	if statErr != nil {
		// Non-existent target: validate the path textually so it can be
		// used for create and rename flows.
		rel, err := canonicalRel(rawRel)
		if err != nil {
			return nil, err
		}
		p.rel = rel
		p.abs = realBase
		if rel != "/" {
			p.abs = realBase + filepath.FromSlash(rel)
		}
		if !contained(realBase, p.abs) {
			return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, displayName(sc, rel))
		}
		p.isDir = wantDir
		p.isFile = !wantDir
		return p, nil
	}

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", joined, err)
	}
	switch {
	case st.IsDir():
		p.isDir = true
	case st.Mode().IsRegular():
		p.isFile = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrSpecialFile, joined)
	}
	p.exists = true
	p.abs = real
	switch {
	case real == realBase:
		p.rel = "/"
	case strings.HasPrefix(real, realBase+string(filepath.Separator)):
		p.rel = "/" + filepath.ToSlash(real[len(realBase)+1:])
	default:
		return nil, fmt.Errorf("%w: %q", ErrOutsideRoot, real)
	}
	return p, nil
}

func splitScope(input string, def scope.Scope) (scope.Scope, string, error) {
	if !strings.HasPrefix(input, "@") {
		return def, input, nil
	}
	name, rest := input[1:], ""
	if i := strings.IndexByte(input, '/'); i >= 0 {
		name, rest = input[1:i], input[i:]
	}
	sc, err := scope.Parse(name)
	if err != nil {
		return "", "", err
	}
	return sc, rest, nil
}

func resolveBase(base string) (string, error) {
	real, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnresolvableBase, base, err)
	}
	st, err := os.Stat(real)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", ErrUnresolvableBase, base)
	}
	return filepath.Clean(real), nil
}

// canonicalRel collapses ".", "//" and ".." segments of a path that does not
// exist on disk. A ".." that would climb above the root fails with
// ErrOutsideRoot; a ".." still present after the pass bound fails with
// ErrTraversal.
func canonicalRel(rel string) (string, error) {
	rel = "/" + strings.TrimPrefix(rel, "/")
	for i := 0; i < canonicalPasses; i++ {
		prev := rel
		rel = strings.ReplaceAll(rel, "//", "/")
		rel = strings.ReplaceAll(rel, "/./", "/")
		if strings.HasSuffix(rel, "/.") {
			rel = rel[:len(rel)-1]
		}
		if rel == "/.." || strings.HasPrefix(rel, "/../") {
			return "", ErrOutsideRoot
		}
		if idx := strings.Index(rel, "/../"); idx > 0 {
			j := strings.LastIndex(rel[:idx], "/")
			rel = rel[:j] + rel[idx+3:]
		} else if strings.HasSuffix(rel, "/..") && len(rel) > 3 {
			j := strings.LastIndex(rel[:len(rel)-3], "/")
			rel = rel[:j]
		}
		if rel == prev {
			break
		}
	}
	if rel == ".." || strings.Contains(rel+"/", "/../") {
		return "", ErrTraversal
	}
	for len(rel) > 1 && strings.HasSuffix(rel, "/") {
		rel = rel[:len(rel)-1]
	}
	if rel == "" {
		rel = "/"
	}
	return rel, nil
}

func contained(base, abs string) bool {
	return abs == base || strings.HasPrefix(abs, base+string(filepath.Separator))
}

func displayName(sc scope.Scope, rel string) string {
	if rel == "/" {
		return "@" + string(sc) + "/"
	}
	return "@" + string(sc) + rel
}

// Scope returns the path's scope.
func (p *Path) Scope() scope.Scope { return p.sc }

// Rel returns the canonical relative path, always leading-slash, "/" for the
// scope root.
func (p *Path) Rel() string { return p.rel }

// Abs returns the absolute filesystem path.
func (p *Path) Abs() string { return p.abs }

// Exists reports whether the target exists on disk.
func (p *Path) Exists() bool { return p.exists }

// IsDir reports whether the target is (or, if absent, is addressed as) a
// directory.
func (p *Path) IsDir() bool { return p.isDir }

// IsFile reports whether the target is (or is addressed as) a regular file.
func (p *Path) IsFile() bool { return p.isFile }

// IsRoot reports whether the path is its scope's root.
func (p *Path) IsRoot() bool { return p.rel == "/" }

// Name returns the last path segment, or "@scope" for the scope root.
func (p *Path) Name() string {
	if p.rel == "/" {
		return "@" + string(p.sc)
	}
	return p.rel[strings.LastIndexByte(p.rel, '/')+1:]
}

// String returns the display form "@scope/relative/path". Trailing
// separators are trimmed except for the scope root itself.
func (p *Path) String() string { return displayName(p.sc, p.rel) }

// Equal reports identity by (scope, relative path).
func (p *Path) Equal(o *Path) bool {
	return o != nil && p.sc == o.sc && p.rel == o.rel
}

// Size returns the target's size in bytes, 0 when absent or a directory.
func (p *Path) Size() int64 {
	if !p.exists || !p.isFile {
		return 0
	}
	st, err := os.Stat(p.abs)
	if err != nil {
		return 0
	}
	return st.Size()
}

// Dirname strips the given number of trailing segments, stopping at the
// scope root.
func (p *Path) Dirname(levels int) (*Path, error) {
	rel := p.rel
	for i := 0; i < levels; i++ {
		if rel == "/" {
			break
		}
		rel = rel[:strings.LastIndexByte(rel, '/')]
	}
	if rel == "" {
		rel = "/"
	}
	return New(p.reg, p.def, "@"+string(p.sc)+rel+dirSuffix(rel))
}

func dirSuffix(rel string) string {
	if strings.HasSuffix(rel, "/") {
		return ""
	}
	return "/"
}

// Relative navigates to a named entry. On a directory it addresses a child;
// on a file it addresses a sibling (dirname + name). The asymmetry is load
// bearing: it lets create-sibling and rename share one primitive.
func (p *Path) Relative(name string) (*Path, error) {
	name = strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
	baseRel := p.rel
	if !p.isDir {
		baseRel = baseRel[:strings.LastIndexByte(baseRel, '/')]
	}
	baseRel = strings.TrimSuffix(baseRel, "/")
	return New(p.reg, p.def, "@"+string(p.sc)+baseRel+"/"+name)
}

// Root returns the scope root.
func (p *Path) Root() (*Path, error) {
	return New(p.reg, p.def, "@"+string(p.sc)+"/")
}

// List enumerates immediate children, dotfiles and symlinks skipped,
// split into directories and files, each in case-insensitive natural order.
func (p *Path) List() (dirs, files []*Path, err error) {
	if !p.exists || !p.isDir {
		return nil, nil, fmt.Errorf("not a listable directory: %s", p)
	}
	ents, err := os.ReadDir(p.abs)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", p, err)
	}
	var dnames, fnames []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ".") || e.Type()&os.ModeSymlink != 0 {
			continue
		}
		if e.IsDir() {
			dnames = append(dnames, name)
		} else if e.Type().IsRegular() {
			fnames = append(fnames, name)
		}
	}
	sortNatural(dnames)
	sortNatural(fnames)
	for _, name := range dnames {
		child, err := p.Relative(name + "/")
		if err != nil {
			return nil, nil, err
		}
		dirs = append(dirs, child)
	}
	for _, name := range fnames {
		child, err := p.Relative(name)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, child)
	}
	return dirs, files, nil
}

// Breadcrumb returns the chain from the scope root to the path itself,
// every element re-validated. Always non-empty.
func (p *Path) Breadcrumb() ([]*Path, error) {
	root, err := p.Root()
	if err != nil {
		return nil, err
	}
	out := []*Path{root}
	if p.rel == "/" {
		return out, nil
	}
	segs := strings.Split(strings.TrimPrefix(p.rel, "/"), "/")
	acc := ""
	for i, seg := range segs {
		acc += "/" + seg
		in := "@" + string(p.sc) + acc
		if i < len(segs)-1 || p.isDir {
			in += "/"
		}
		node, err := New(p.reg, p.def, in)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}
