package parser

import (
	"context"
	"fmt"

	"github.com/igor-prusov/dts-lsp/bindings"
	"github.com/igor-prusov/dts-lsp/internal/sitteradapter"

	sitter "github.com/smacker/go-tree-sitter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var lang = sitter.NewLanguage(bindings.Language())

// Language returns the devicetree grammar.
func Language() *sitter.Language {
	return lang
}

// Tree is a syntax tree together with the text it was parsed from.
type Tree struct {
	*sitter.Tree
	Text   string
	source []byte
}

func (t *Tree) Root() *sitter.Node {
	return t.RootNode()
}

// Content returns the source text spanned by n.
func (t *Tree) Content(n *sitter.Node) string {
	return n.Content(t.source)
}

// Range returns the LSP range of n.
func (t *Tree) Range(n *sitter.Node) protocol.Range {
	return sitteradapter.NodeRange(n, t.Text)
}

// NodeAt returns the smallest named node covering pos, or nil.
func (t *Tree) NodeAt(pos protocol.Position) *sitter.Node {
	pt := sitteradapter.PositionToPoint(t.Text, pos)
	return t.RootNode().NamedDescendantForPointRange(pt, pt)
}

// Pool hands out tree-sitter parsers, which must not be shared between
// goroutines.
type Pool struct {
	pool chan *sitter.Parser
}

// NewPool creates a Pool with n parsers for the devicetree grammar.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	pp := &Pool{pool: make(chan *sitter.Parser, n)}
	for i := 0; i < n; i++ {
		p := sitter.NewParser()
		p.SetLanguage(lang)
		pp.pool <- p
	}
	return pp
}

// Parse builds a fresh tree for text with a parser from the pool.
func (pp *Pool) Parse(ctx context.Context, text string) (*Tree, error) {
	p := <-pp.pool
	defer func() { pp.pool <- p }()

	source := []byte(text)
	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	return &Tree{Tree: tree, Text: text, source: source}, nil
}

// Close releases all parsers. The pool must not be used afterwards.
func (pp *Pool) Close() {
	close(pp.pool)
	for p := range pp.pool {
		p.Close()
	}
}
