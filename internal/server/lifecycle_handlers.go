package server

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/igor-prusov/dts-lsp/internal/cache"
	"github.com/igor-prusov/dts-lsp/internal/config"
	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/resolver"
	"github.com/igor-prusov/dts-lsp/internal/scheduler"
	"github.com/igor-prusov/dts-lsp/internal/watcher"
)

const exportInterval = 2 * time.Minute

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	logging.Attach(context.Notify)

	root := s.rootURI(params)
	cfg := s.base
	if root != "" {
		s.ws.Files.SetRoot(root)
		if path, err := resolver.URIToPath(root); err == nil {
			fromFile, err := config.LoadWorkspace(cfg, path)
			if err != nil {
				s.log.Warningf("ignoring %s: %v", config.FileName, err)
			} else {
				cfg = fromFile
			}
		}
	}

	cfg, err := config.Load(cfg, params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	if s.override != nil {
		s.override(&cfg)
		cfg.Normalize()
	}
	s.log.Infof("Config: %+v", cfg)

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.ws.SetExperimental(cfg.Experimental)
	s.ws.Files.SetIncludesPrefix(cfg.IncludesPrefix)
	s.ws.SetPublisher(func(uri protocol.DocumentUri, diagnostics []protocol.Diagnostic) {
		context.Notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: diagnostics,
		})
	})

	if w := params.Capabilities.Workspace; w != nil && w.Configuration != nil && *w.Configuration {
		s.mu.Lock()
		s.pullConfig = true
		s.mu.Unlock()
	}

	syncKind := protocol.TextDocumentSyncKindFull

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.False},
	}
	capabilities.RenameProvider = &protocol.RenameOptions{PrepareProvider: &protocol.True}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{ShowIncludeGraph},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &Version,
		},
	}, nil
}

// rootURI picks the workspace root the way clients report it, newest field
// first.
func (s *Server) rootURI(params *protocol.InitializeParams) protocol.DocumentUri {
	switch {
	case params.RootURI != nil && *params.RootURI != "":
		return s.canonical(*params.RootURI)
	case len(params.WorkspaceFolders) > 0:
		return s.canonical(params.WorkspaceFolders[0].URI)
	case params.RootPath != nil && *params.RootPath != "":
		return resolver.PathToURI(*params.RootPath)
	}
	s.log.Warningf("client did not report a workspace root")
	return ""
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	s.log.Infof("Client initialized.")
	// the client answers workspace/configuration only after this returns
	go func() {
		s.pullIncludesPrefix(context)
		s.startBackground()
	}()
	return nil
}

// pullIncludesPrefix asks the client for the dts-lsp settings section and
// applies its bindings_includes key.
func (s *Server) pullIncludesPrefix(context *glsp.Context) {
	s.mu.Lock()
	pull := s.pullConfig
	s.mu.Unlock()
	if !pull {
		return
	}

	section := Section
	var result []map[string]any
	context.Call("workspace/configuration", protocol.ConfigurationParams{
		Items: []protocol.ConfigurationItem{{Section: &section}},
	}, &result)
	if len(result) == 0 || result[0] == nil {
		return
	}

	prefix, ok := result[0]["bindings_includes"].(string)
	if !ok || prefix == "" {
		return
	}
	s.log.Infof("includes prefix from client settings: %s", prefix)
	s.mu.Lock()
	s.cfg.IncludesPrefix = prefix
	s.mu.Unlock()
	s.ws.Files.SetIncludesPrefix(prefix)
}

// startBackground starts the full scan, the watcher and the index export,
// each only when configured.
func (s *Server) startBackground() {
	cfg := s.settings()

	if cfg.FullScan {
		err := s.sched.Schedule(scheduler.Task{
			Name: "full scan",
			Execute: func() error {
				if err := s.ws.FullScan(s.ctx, cfg.Ignore); err != nil {
					return err
				}
				s.watchIndexed()
				return nil
			},
		})
		if err != nil {
			s.log.Errorf("cannot schedule full scan: %v", err)
		}
	}

	if cfg.Watch {
		if err := s.startWatcher(); err != nil {
			s.log.Errorf("cannot watch files: %v", err)
		}
	}

	if cfg.IndexDB != "" {
		if err := s.openIndex(cfg.IndexDB); err != nil {
			s.log.Errorf("cannot open index database: %v", err)
			return
		}
		s.sched.SchedulePeriodicTask(exportInterval, scheduler.Task{
			Name:    "export index",
			Execute: s.exportIndex,
		})
	}
}

func (s *Server) startWatcher() error {
	w, err := watcher.New(s.reindex, watcher.DefaultDebounce, s.log)
	if err != nil {
		return err
	}
	w.Start(s.ctx)
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	s.watchIndexed()
	return nil
}

// watchIndexed adds the directory of every loaded file to the watcher.
func (s *Server) watchIndexed() {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w == nil {
		return
	}
	for _, f := range s.ws.Files.Snapshot() {
		if !f.HasText {
			continue
		}
		if err := w.AddFile(f.URI); err != nil {
			s.log.Debugf("not watching %s: %v", f.URI, err)
		}
	}
}

// reindex re-reads changed files that the editor does not own.
func (s *Server) reindex(paths []string) {
	for _, path := range paths {
		uri := resolver.PathToURI(path)
		if s.docs.IsOpen(uri) {
			continue
		}
		err := s.sched.Schedule(scheduler.Task{
			Name: "reindex " + uri,
			Execute: func() error {
				s.ws.HandleFile(s.ctx, uri, nil)
				return nil
			},
		})
		if err != nil {
			s.log.Debugf("dropping change of %s: %v", path, err)
			return
		}
	}
}

func (s *Server) openIndex(name string) error {
	path := name
	if name == "auto" {
		var err error
		if path, err = s.autoIndexPath(); err != nil {
			return err
		}
	}
	fc, err := cache.NewFilecache(path)
	if err != nil {
		return err
	}
	s.log.Infof("exporting index to %s", path)
	s.mu.Lock()
	s.index = fc
	s.mu.Unlock()
	return nil
}

// autoIndexPath keys the database by the workspace root.
func (s *Server) autoIndexPath() (string, error) {
	root, err := resolver.URIToPath(s.ws.Files.Root())
	if err != nil {
		return "", fmt.Errorf("no workspace root: %w", err)
	}
	stateBaseDir, err := getXDGStateHome(Name)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(stateBaseDir, url.PathEscape(filepath.Clean(root)))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(dir, "index.db"), nil
}

func (s *Server) exportIndex() error {
	s.mu.Lock()
	index := s.index
	s.mu.Unlock()
	if index == nil {
		return nil
	}
	return index.Export(s.ws.Snapshot())
}

func (s *Server) shutdown(context *glsp.Context) error {
	s.stopOnce.Do(s.stop)
	return nil
}

func (s *Server) stop() {
	s.log.Infof("Shutting down.")
	if err := s.sched.Run(scheduler.Task{Name: "final export", Execute: s.exportIndex}); err != nil {
		s.log.Debugf("skipping final export: %v", err)
	}
	s.cancel()
	s.sched.StopScheduler()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.viewer != nil {
		if err := s.viewer.Close(); err != nil {
			s.log.Warningf("closing graph viewer: %v", err)
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.log.Warningf("closing index database: %v", err)
		}
		s.index = nil
	}
	s.ws.Close()
	logging.Detach()
}
