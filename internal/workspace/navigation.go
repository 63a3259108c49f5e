package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/igor-prusov/dts-lsp/internal/depot"
	"github.com/igor-prusov/dts-lsp/internal/parser"

	sitter "github.com/smacker/go-tree-sitter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var (
	ErrNoSymbol   = errors.New("workspace: no symbol at position")
	ErrNotIndexed = errors.New("workspace: file is not indexed")
)

// parse re-parses the stored text of uri.
func (w *Workspace) parse(ctx context.Context, uri protocol.DocumentUri) (*parser.Tree, error) {
	text, ok := w.Files.Text(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, uri)
	}
	return w.parsers.Parse(ctx, text)
}

// nodeAt parses uri and returns the named node under pos. The caller closes
// the tree when the node is not nil.
func (w *Workspace) nodeAt(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) (*parser.Tree, *sitter.Node, error) {
	tree, err := w.parse(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	n := tree.NodeAt(pos)
	if n == nil {
		tree.Close()
		return nil, nil, nil
	}
	return tree, n, nil
}

func parentType(n *sitter.Node) string {
	if p := n.Parent(); p != nil {
		return p.Type()
	}
	return ""
}

// Definition resolves the identifier at pos. Label references resolve to
// every matching label in the component; any other identifier resolves to
// at most one macro definition.
func (w *Workspace) Definition(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) ([]protocol.Location, error) {
	tree, n, err := w.nodeAt(ctx, uri, pos)
	if err != nil || n == nil {
		return nil, err
	}
	defer tree.Close()
	if n.Type() != "identifier" {
		return nil, nil
	}

	name := tree.Content(n)
	if parentType(n) == "reference" {
		return locations(w.Labels.Find(uri, name)), nil
	}
	if sym, ok := w.Defines.Find(uri, name); ok {
		return []protocol.Location{sym.Location()}, nil
	}
	return nil, nil
}

// References lists every reference to the label defined at pos.
func (w *Workspace) References(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) ([]protocol.Location, error) {
	tree, n, err := w.nodeAt(ctx, uri, pos)
	if err != nil || n == nil {
		return nil, err
	}
	defer tree.Close()
	if parentType(n) != "node" {
		return nil, nil
	}
	return locations(w.References.Find(uri, tree.Content(n))), nil
}

// PrepareRename returns the range of the symbol at pos if it is a label or
// a reference to one.
func (w *Workspace) PrepareRename(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) (protocol.Range, error) {
	tree, n, err := w.nodeAt(ctx, uri, pos)
	if err != nil {
		return protocol.Range{}, err
	}
	if n == nil {
		return protocol.Range{}, ErrNoSymbol
	}
	defer tree.Close()

	name := tree.Content(n)
	if len(w.Labels.Find(uri, name))+len(w.References.Find(uri, name)) == 0 {
		return protocol.Range{}, ErrNoSymbol
	}
	return tree.Range(n), nil
}

// Rename renames the label at pos, or the label referenced at pos, in every
// file of its component. The index and the stored text are updated in place
// and the edits are returned grouped by file, bottom-to-top.
func (w *Workspace) Rename(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position, newName string) (map[protocol.DocumentUri][]protocol.TextEdit, error) {
	tree, n, err := w.nodeAt(ctx, uri, pos)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNoSymbol
	}
	name := tree.Content(n)
	tree.Close()

	labels := w.Labels.Find(uri, name)
	references := w.References.Find(uri, name)
	if len(labels)+len(references) == 0 {
		return nil, ErrNoSymbol
	}

	changes := make(map[protocol.DocumentUri][]protocol.TextEdit)
	for _, file := range addEdits(changes, labels, newName) {
		// a missing entry is logged by the depot
		_ = w.Labels.Rename(file, name, newName)
	}
	for _, file := range addEdits(changes, references, newName) {
		_ = w.References.Rename(file, name, newName)
	}

	for file, edits := range changes {
		sort.Slice(edits, func(i, j int) bool {
			a, b := edits[i].Range.Start, edits[j].Range.Start
			if a.Line != b.Line {
				return a.Line > b.Line
			}
			return a.Character > b.Character
		})
		if err := w.Files.ApplyEdits(file, edits); err != nil {
			w.log.Errorf("rename %q: %v", name, err)
		}
	}
	return changes, nil
}

// addEdits appends one edit per symbol and returns the distinct files touched.
func addEdits(changes map[protocol.DocumentUri][]protocol.TextEdit, symbols []depot.Symbol, newName string) []protocol.DocumentUri {
	var files []protocol.DocumentUri
	seen := make(map[protocol.DocumentUri]struct{})
	for _, sym := range symbols {
		changes[sym.URI] = append(changes[sym.URI], protocol.TextEdit{Range: sym.Range, NewText: newName})
		if _, ok := seen[sym.URI]; !ok {
			seen[sym.URI] = struct{}{}
			files = append(files, sym.URI)
		}
	}
	return files
}

func locations(symbols []depot.Symbol) []protocol.Location {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]protocol.Location, len(symbols))
	for i, sym := range symbols {
		out[i] = sym.Location()
	}
	return out
}
