package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is intentionally small and YAML-friendly (plain JSON parses too).
// Scope directories that are left empty are treated as unconfigured: the
// admin UI simply does not offer them.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:8080".
	Addr string `yaml:"addr"`

	// SiteName is used in page titles and the admin header.
	SiteName string `yaml:"siteName"`

	// BasePathAdmin is the URL prefix of the admin UI. Default: "/admin".
	BasePathAdmin string `yaml:"basePathAdmin"`

	// StateDir stores sessions, thumbnails and the visit counter.
	// Default: <public>/.simplesite
	StateDir string `yaml:"stateDir"`

	// Scopes maps each named root to a base directory.
	Scopes ScopeDirs `yaml:"scopes"`

	// AdminPasswordBcrypt is the bcrypt hash of the single admin password.
	// If empty, the admin UI refuses all logins.
	AdminPasswordBcrypt string `yaml:"adminPasswordBcrypt"`

	// DefaultScope is the scope assumed for paths without an @scope prefix.
	// Default: "pages".
	DefaultScope string `yaml:"defaultScope"`
}

// ScopeDirs holds the base directory of every known scope.
// Pages and Public are required; Templates and Data are optional.
type ScopeDirs struct {
	Pages     string `yaml:"pages"`
	Public    string `yaml:"public"`
	Templates string `yaml:"templates"`
	Data      string `yaml:"data"`
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize fills defaults and resolves scope directories to absolute paths.
func (c *Config) Normalize() error {
	if c.Addr == "" {
		c.Addr = "0.0.0.0:8080"
	}
	if c.SiteName == "" {
		c.SiteName = "SimpleSite"
	}
	if c.BasePathAdmin == "" {
		c.BasePathAdmin = "/admin"
	}
	if c.DefaultScope == "" {
		c.DefaultScope = "pages"
	}
	if c.Scopes.Pages == "" {
		return errors.New("config: scopes.pages is required")
	}
	if c.Scopes.Public == "" {
		return errors.New("config: scopes.public is required")
	}
	for _, dir := range []*string{&c.Scopes.Pages, &c.Scopes.Public, &c.Scopes.Templates, &c.Scopes.Data} {
		if *dir == "" {
			continue
		}
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("abs scope dir %q: %w", *dir, err)
		}
		*dir = abs
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.Scopes.Public, ".simplesite")
	}
	return nil
}
