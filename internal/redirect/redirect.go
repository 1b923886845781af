// Package redirect applies the site's redirect table, kept as a YAML file
// in the data scope and consulted before a request 404s.
package redirect

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is looked up inside the data scope.
const FileName = "redirects.yaml"

// Rule maps an exact request path to a target.
type Rule struct {
	Target string `yaml:"target"`
	Code   int    `yaml:"code"` // default 302
}

// Table is the loaded redirect set. Reload swaps it atomically.
type Table struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// Load reads the table from the data scope directory. A missing data scope
// or missing file yields an empty table, not an error.
func Load(dataDir string) (*Table, error) {
	t := &Table{rules: map[string]Rule{}}
	if dataDir == "" {
		return t, nil
	}
	if err := t.Reload(dataDir); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the file, keeping the old table on parse failure.
func (t *Table) Reload(dataDir string) error {
	b, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil {
		return err
	}
	rules := map[string]Rule{}
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return fmt.Errorf("parse %s: %w", FileName, err)
	}
	for p, r := range rules {
		if r.Code == 0 {
			r.Code = http.StatusFound
			rules[p] = r
		}
	}
	t.mu.Lock()
	t.rules = rules
	t.mu.Unlock()
	return nil
}

// Lookup returns the rule for an exact path.
func (t *Table) Lookup(path string) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rules[path]
	return r, ok
}

// Len reports the number of rules.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}
