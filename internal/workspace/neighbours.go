package workspace

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/igor-prusov/dts-lsp/internal/resolver"
	"github.com/igor-prusov/dts-lsp/internal/scanner"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/sync/errgroup"
)

// OpenNeighbours indexes every file in the directory of uri that the
// workspace has not seen yet, concurrently, and returns once all of them are
// done. Files already known, even only as an include target, are left alone.
// Each directory is only listed once.
func (w *Workspace) OpenNeighbours(ctx context.Context, uri protocol.DocumentUri) {
	path, err := resolver.URIToPath(uri)
	if err != nil {
		w.log.Warningf("cannot list neighbours of %s: %v", uri, err)
		return
	}
	dir := filepath.Dir(path)

	w.mu.Lock()
	_, seen := w.scannedDirs[dir]
	w.scannedDirs[dir] = struct{}{}
	w.mu.Unlock()
	if seen {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.log.Warningf("failed to list %s: %v", dir, err)
		return
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	w.log.Debugf("opening %d neighbours of %s", len(paths), uri)
	w.handleAll(ctx, paths, w.Files.Exists)
}

// FullScan indexes every devicetree file below the workspace root.
func (w *Workspace) FullScan(ctx context.Context, ignore []string) error {
	root := w.Files.Root()
	if root == "" {
		w.log.Warningf("full scan requested without a workspace root")
		return nil
	}
	rootPath, err := resolver.URIToPath(root)
	if err != nil {
		return err
	}

	paths, err := scanner.Scan(rootPath, ignore, w.log)
	if err != nil {
		return err
	}
	w.log.Infof("full scan: indexing %d files below %s", len(paths), rootPath)
	w.handleAll(ctx, paths, w.loaded)
	return nil
}

func (w *Workspace) loaded(uri protocol.DocumentUri) bool {
	_, ok := w.Files.Text(uri)
	return ok
}

func (w *Workspace) handleAll(ctx context.Context, paths []string, skip func(protocol.DocumentUri) bool) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, path := range paths {
		uri := resolver.PathToURI(path)
		if resolver.KindOf(uri) == resolver.Unsupported {
			continue
		}
		if skip(uri) {
			continue
		}
		g.Go(func() error {
			w.HandleFile(ctx, uri, nil)
			return nil
		})
	}
	_ = g.Wait()
}
