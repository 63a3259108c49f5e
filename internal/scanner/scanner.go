// scanner is used to find every devicetree file below a workspace root.
package scanner

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/resolver"

	ignore "github.com/sabhiram/go-gitignore"
)

var skipDirs = map[string]struct{}{
	"node_modules": {},
	"build":        {},
	"out":          {},
	"__pycache__":  {},
}

// Scan walks the entire subtree under root and returns the absolute paths
// of all .dts, .dtsi and .h files, sorted. Hidden entries, well-known build
// directories and anything matched by root/.gitignore or extra patterns are
// skipped.
func Scan(root string, extra []string, log logging.Logger) ([]string, error) {
	gi := loadIgnore(root, extra, log)

	var paths []string
	log.Debugf("scanner: starting WalkDir at %q", root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warningf("scanner: walk error: %v", err)
			return nil
		}
		if path == root {
			return nil
		}

		name := d.Name()
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return fs.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if resolver.KindOf(name) == resolver.Unsupported {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

func loadIgnore(root string, extra []string, log logging.Logger) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFileAndLines(path, extra...)
	if err == nil {
		return gi
	}
	if !errors.Is(err, fs.ErrNotExist) {
		log.Warningf("scanner: ignoring unreadable %s: %v", path, err)
	}
	if len(extra) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(extra...)
}
