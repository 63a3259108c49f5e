package workspace

import (
	"context"
	"os"
	"sort"

	"github.com/igor-prusov/dts-lsp/internal/depot"
	"github.com/igor-prusov/dts-lsp/internal/diagnostics"
	"github.com/igor-prusov/dts-lsp/internal/parser"
	"github.com/igor-prusov/dts-lsp/internal/resolver"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

type pending struct {
	uri  protocol.DocumentUri
	text *string
}

type handled struct {
	includes    []protocol.DocumentUri
	diagnostics []diagnostics.Diagnostic
	checked     bool
}

// HandleFile indexes uri and every file it transitively includes that is
// not loaded yet. A nil text means the file is read from disk.
func (w *Workspace) HandleFile(ctx context.Context, uri protocol.DocumentUri, text *string) {
	var (
		diags   []diagnostics.Diagnostic
		checked []protocol.DocumentUri
	)

	queue := []pending{{uri: uri, text: text}}
	for len(queue) > 0 {
		next := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		result, ok := w.handleSingleFile(ctx, next.uri, next.text)
		if !ok {
			continue
		}
		if result.checked {
			checked = append(checked, next.uri)
			diags = append(diags, result.diagnostics...)
		}
		for _, include := range result.includes {
			queue = append(queue, pending{uri: include})
		}
	}

	if len(checked) > 0 {
		w.publishDiagnostics(checked, diags)
	}
}

func (w *Workspace) handleSingleFile(ctx context.Context, uri protocol.DocumentUri, text *string) (handled, bool) {
	kind := resolver.KindOf(uri)
	if kind == resolver.Unsupported {
		w.log.Debugf("skipping unsupported file %s", uri)
		return handled{}, false
	}

	if text == nil {
		path, err := resolver.URIToPath(uri)
		if err != nil {
			w.log.Warningf("cannot load %s: %v", uri, err)
			return handled{}, false
		}
		data, err := os.ReadFile(path)
		if err != nil {
			w.log.Warningf("failed to read %s: %v", path, err)
			return handled{}, false
		}
		s := string(data)
		text = &s
	}

	switch w.Files.Insert(uri, *text) {
	case depot.InsertExists:
		return handled{}, false
	case depot.InsertModified:
		w.invalidate(uri)
	}

	tree, err := w.parsers.Parse(ctx, *text)
	if err != nil {
		w.log.Warningf("failed to parse %s: %v", uri, err)
		return handled{}, false
	}
	defer tree.Close()

	w.processDefines(uri, tree)
	if kind == resolver.Header {
		return handled{}, true
	}

	var result handled
	w.processLabels(uri, tree)
	if w.experimental.Load() {
		result.diagnostics = diagnostics.Gather(uri, tree)
		result.checked = true
	}
	w.processReferences(uri, tree)
	result.includes = w.processIncludes(uri, tree)
	return result, true
}

func (w *Workspace) processDefines(uri protocol.DocumentUri, tree *parser.Tree) {
	for _, m := range tree.Query(parser.DefineQuery) {
		name := m["name"]
		w.Defines.Add(name.Text, uri, name.Range, m["id"].Text)
	}
}

func (w *Workspace) processLabels(uri protocol.DocumentUri, tree *parser.Tree) {
	for _, m := range tree.Query(parser.LabelQuery) {
		label := m["id"]
		w.Labels.Add(label.Text, uri, label.Range)
	}
}

func (w *Workspace) processReferences(uri protocol.DocumentUri, tree *parser.Tree) {
	for _, m := range tree.Query(parser.ReferenceQuery) {
		ref := m["id"]
		w.References.Add(ref.Text, uri, ref.Range)
	}
}

// processIncludes records the include edges of uri and returns the targets
// that still need to be loaded.
func (w *Workspace) processIncludes(uri protocol.DocumentUri, tree *parser.Tree) []protocol.DocumentUri {
	root := w.Files.Root()
	prefix := w.Files.IncludesPrefix()

	var unloaded []protocol.DocumentUri
	for _, m := range tree.Query(parser.IncludeQuery) {
		include := resolver.TrimInclude(m["id"].Text)
		target, found := resolver.Include(uri, include, root, prefix)
		if target == "" {
			continue
		}
		w.Files.AddInclude(uri, target)
		if !found {
			w.log.Warningf("could not resolve include %q of %s", include, uri)
			continue
		}
		if _, loaded := w.Files.Text(target); loaded {
			continue
		}
		unloaded = append(unloaded, target)
	}
	return unloaded
}

func (w *Workspace) publishDiagnostics(checked []protocol.DocumentUri, diags []diagnostics.Diagnostic) {
	publish := w.publisher()
	if publish == nil {
		return
	}

	byFile := diagnostics.Filter(diags, w.Defines)
	for _, uri := range checked {
		if _, ok := byFile[uri]; !ok {
			byFile[uri] = []protocol.Diagnostic{}
		}
	}

	uris := make([]protocol.DocumentUri, 0, len(byFile))
	for uri := range byFile {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		publish(uri, byFile[uri])
	}
}
