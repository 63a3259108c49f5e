package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is looked up in the workspace root.
const FileName = ".dts-lsp.yaml"

type Config struct {
	// Experimental enables syntax diagnostics.
	Experimental bool `json:"experimental" yaml:"experimental"`
	// FullScan indexes the whole workspace at startup instead of the
	// directory of each opened file.
	FullScan bool `json:"full_scan" yaml:"full_scan"`
	// ProcessNeighbours indexes the siblings of opened files.
	ProcessNeighbours bool `json:"process_neighbours" yaml:"process_neighbours"`
	// Watch re-indexes files changed on disk that are not open in the editor.
	Watch bool `json:"watch" yaml:"watch"`
	// IncludesPrefix is the directory below the root searched for includes.
	IncludesPrefix string `json:"bindings_includes" yaml:"bindings_includes"`
	// IndexDB is a SQLite file the index is periodically exported to. "auto"
	// picks a per-workspace file below the XDG state directory.
	IndexDB string `json:"index_db" yaml:"index_db"`
	// Ignore holds extra gitignore-style patterns for the workspace scan.
	Ignore []string `json:"ignore" yaml:"ignore"`
}

var defaultConfig = Config{
	ProcessNeighbours: true,
	IncludesPrefix:    "include",
}

func Default() Config {
	return defaultConfig
}

// Load overlays v, typically LSP initializationOptions, on top of base.
func Load(base Config, v any) (Config, error) {
	cfg := base
	if v == nil {
		return cfg, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadYAML overlays the YAML document read from r on top of base.
func LoadYAML(base Config, r io.Reader) (Config, error) {
	cfg := base
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadWorkspace overlays <root>/.dts-lsp.yaml when it exists.
func LoadWorkspace(base Config, root string) (Config, error) {
	f, err := os.Open(filepath.Join(root, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return base, nil
	}
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadYAML(base, f)
}

// Normalize fills in defaults for empty fields.
func (c *Config) Normalize() {
	if c.IncludesPrefix == "" {
		c.IncludesPrefix = defaultConfig.IncludesPrefix
	}
}

// Neighbours reports whether siblings of opened files are indexed. A full
// scan already covers them.
func (c Config) Neighbours() bool {
	return c.ProcessNeighbours && !c.FullScan
}
