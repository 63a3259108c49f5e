// Package workspace ties the parser to the index: it turns file contents into
// labels, references, macros and include edges, keeps them current as files
// change, and answers navigation and rename requests from the result.
package workspace

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/igor-prusov/dts-lsp/internal/cache"
	"github.com/igor-prusov/dts-lsp/internal/depot"
	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/parser"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Publisher delivers the diagnostics of one file to the editor.
type Publisher func(uri protocol.DocumentUri, diagnostics []protocol.Diagnostic)

type Workspace struct {
	Files      *depot.Files
	Labels     *depot.Labels
	References *depot.References
	Defines    *depot.Defines

	parsers      *parser.Pool
	log          logging.Logger
	experimental atomic.Bool

	mu          sync.Mutex
	publish     Publisher
	scannedDirs map[string]struct{}
}

// New creates an empty workspace. Every table shares one file store.
func New(log logging.Logger) *Workspace {
	files := depot.NewFiles(log)
	return &Workspace{
		Files:       files,
		Labels:      depot.NewLabels(files, log),
		References:  depot.NewReferences(files, log),
		Defines:     depot.NewDefines(files, log),
		parsers:     parser.NewPool(runtime.NumCPU()),
		log:         log,
		scannedDirs: make(map[string]struct{}),
	}
}

// SetExperimental toggles syntax diagnostics.
func (w *Workspace) SetExperimental(enabled bool) {
	w.experimental.Store(enabled)
}

// SetPublisher sets where diagnostics go. Without one they are dropped.
func (w *Workspace) SetPublisher(publish Publisher) {
	w.mu.Lock()
	w.publish = publish
	w.mu.Unlock()
}

func (w *Workspace) publisher() Publisher {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.publish
}

// Close releases the parsers.
func (w *Workspace) Close() {
	w.parsers.Close()
}

// invalidate drops every fact extracted from uri.
func (w *Workspace) invalidate(uri protocol.DocumentUri) {
	w.Labels.Invalidate(uri)
	w.References.Invalidate(uri)
	w.Defines.Invalidate(uri)
	w.Files.ResetIncludes(uri)
}

// Snapshot copies the whole index for export.
func (w *Workspace) Snapshot() cache.Snapshot {
	return cache.Snapshot{
		Files:      w.Files.Snapshot(),
		Labels:     w.Labels.Entries(),
		References: w.References.Entries(),
		Defines:    w.Defines.Entries(),
	}
}
