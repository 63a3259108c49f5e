// Package server adapts the workspace to the Language Server Protocol.
package server

import (
	"context"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/igor-prusov/dts-lsp/internal/cache"
	"github.com/igor-prusov/dts-lsp/internal/config"
	"github.com/igor-prusov/dts-lsp/internal/graph"
	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/manager"
	"github.com/igor-prusov/dts-lsp/internal/resolver"
	"github.com/igor-prusov/dts-lsp/internal/scheduler"
	"github.com/igor-prusov/dts-lsp/internal/watcher"
	"github.com/igor-prusov/dts-lsp/internal/workspace"
)

const (
	Name    = "dts-lsp"
	Section = "dts-lsp"

	// ShowIncludeGraph opens the include graph viewer in a browser.
	ShowIncludeGraph = "dts-lsp.showIncludeGraph"
)

var Version = "dev"

// Override applies settings that must win over every other config source,
// such as explicitly set command line flags.
type Override func(*config.Config)

type Server struct {
	handler  *protocol.Handler
	log      logging.Logger
	base     config.Config
	override Override

	ctx    context.Context
	cancel context.CancelFunc

	ws    *workspace.Workspace
	sched *scheduler.Scheduler
	docs  *manager.DocumentManager

	mu         sync.Mutex
	cfg        config.Config
	watcher    *watcher.Watcher
	viewer     *graph.Viewer
	graphAddr  string
	index      *cache.Filecache
	pullConfig bool
	stopOnce   sync.Once
}

func newServer(base config.Config, override Override, log logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:      log,
		base:     base,
		override: override,
		cfg:      base,
		ctx:      ctx,
		cancel:   cancel,
		ws:       workspace.New(log),
		sched:    scheduler.NewScheduler(64, log),
		docs:     manager.NewDocumentManager(),
	}
	s.sched.RunScheduler()
	s.handler = &protocol.Handler{
		Initialize:                s.initialize,
		Initialized:               s.initialized,
		Shutdown:                  s.shutdown,
		TextDocumentDidOpen:       s.textDocumentDidOpen,
		TextDocumentDidChange:     s.textDocumentDidChange,
		TextDocumentDidSave:       s.textDocumentDidSave,
		TextDocumentDidClose:      s.textDocumentDidClose,
		TextDocumentDefinition:    s.textDocumentDefinition,
		TextDocumentReferences:    s.textDocumentReferences,
		TextDocumentPrepareRename: s.textDocumentPrepareRename,
		TextDocumentRename:        s.textDocumentRename,
		WorkspaceSymbol:           s.workspaceSymbol,
		WorkspaceExecuteCommand:   s.workspaceExecuteCommand,
	}
	return s
}

func NewServer(base config.Config, override Override, log logging.Logger) (*server.Server, error) {
	s := newServer(base, override, log)
	return server.NewServer(s.handler, Name, false), nil
}

func (s *Server) settings() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// canonical maps the client's spelling of uri onto the key used by the index.
// Non-file uris pass through unchanged.
func (s *Server) canonical(uri protocol.DocumentUri) protocol.DocumentUri {
	c, err := resolver.Canonical(uri)
	if err != nil {
		s.log.Debugf("keeping uri %s as is: %v", uri, err)
		return uri
	}
	return c
}

func invalidParams(err error) error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
}
