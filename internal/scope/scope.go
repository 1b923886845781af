// Package scope defines the closed set of named filesystem roots the site is
// built from. Everything that touches disk goes through a scope.
package scope

import (
	"errors"
	"fmt"

	"simplesite/internal/config"
)

// Scope names one of the known root directories.
type Scope string

const (
	Pages     Scope = "pages"
	Public    Scope = "public"
	Templates Scope = "templates"
	Data      Scope = "data"
)

// All returns every known scope in display order.
func All() []Scope {
	return []Scope{Pages, Public, Templates, Data}
}

// ErrInvalidScope reports an unknown scope name or a strict lookup of an
// unconfigured scope.
var ErrInvalidScope = errors.New("invalid scope")

// Parse matches a name against the closed scope set.
func Parse(name string) (Scope, error) {
	switch Scope(name) {
	case Pages, Public, Templates, Data:
		return Scope(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, name)
}

// Registry maps scopes to their configured base directories. Built once from
// config, never mutated.
type Registry struct {
	bases map[Scope]string
}

// NewRegistry builds the registry from normalized config. Empty directories
// mean the scope is unconfigured.
func NewRegistry(dirs config.ScopeDirs) *Registry {
	bases := map[Scope]string{}
	if dirs.Pages != "" {
		bases[Pages] = dirs.Pages
	}
	if dirs.Public != "" {
		bases[Public] = dirs.Public
	}
	if dirs.Templates != "" {
		bases[Templates] = dirs.Templates
	}
	if dirs.Data != "" {
		bases[Data] = dirs.Data
	}
	return &Registry{bases: bases}
}

// Base returns the scope's base directory. With strict set, an unconfigured
// scope is an error; otherwise it returns ("", false).
func (r *Registry) Base(s Scope, strict bool) (string, bool, error) {
	base, ok := r.bases[s]
	if !ok || base == "" {
		if strict {
			return "", false, fmt.Errorf("%w: %q is not configured", ErrInvalidScope, s)
		}
		return "", false, nil
	}
	return base, true, nil
}

// Configured reports whether the scope has a base directory.
func (r *Registry) Configured(s Scope) bool {
	_, ok := r.bases[s]
	return ok
}
