// Package diagnostics reports syntax errors found by the parser and drops
// the ones caused by preprocessor macros the grammar cannot expand.
package diagnostics

import (
	"strings"
	"unicode"

	"github.com/igor-prusov/dts-lsp/internal/depot"
	"github.com/igor-prusov/dts-lsp/internal/parser"

	sitter "github.com/smacker/go-tree-sitter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const Source = "dts-lsp"

// Diagnostic is a protocol diagnostic plus what is needed to decide whether
// a macro explains it.
type Diagnostic struct {
	protocol.Diagnostic
	URI     protocol.DocumentUri
	Token   string
	Macro   string
	Missing bool
}

// Gather walks the whole tree and reports every missing and error node.
func Gather(uri protocol.DocumentUri, tree *parser.Tree) []Diagnostic {
	var diags []Diagnostic

	c := sitter.NewTreeCursor(tree.Root())
	defer c.Close()
	for {
		if d, ok := inspect(uri, tree, c.CurrentNode()); ok {
			diags = append(diags, d)
		}
		if c.GoToFirstChild() {
			continue
		}
		for !c.GoToNextSibling() {
			if !c.GoToParent() {
				return diags
			}
		}
	}
}

func inspect(uri protocol.DocumentUri, tree *parser.Tree, n *sitter.Node) (Diagnostic, bool) {
	var message string
	missing := n.IsMissing()
	switch {
	case missing:
		message = "missing " + n.Type()
	case n.IsError():
		message = "Syntax error"
	default:
		return Diagnostic{}, false
	}

	severity := protocol.DiagnosticSeverityError
	source := Source
	d := Diagnostic{
		Diagnostic: protocol.Diagnostic{
			Range:    tree.Range(n),
			Severity: &severity,
			Source:   &source,
			Message:  message,
		},
		URI:     uri,
		Token:   strings.TrimSpace(tree.Content(n)),
		Missing: missing,
	}
	if parent := n.Parent(); parent != nil {
		d.Macro = macroName(tree.Content(parent))
	}
	return d, true
}

// macroName returns the identifier right before the first '(' of text, if any.
func macroName(text string) string {
	i := strings.IndexByte(text, '(')
	if i <= 0 {
		return ""
	}
	head := strings.TrimRightFunc(text[:i], unicode.IsSpace)
	start := len(head)
	for start > 0 && isIdent(rune(head[start-1])) {
		start--
	}
	return head[start:]
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Verify reports whether the diagnostic should be shown. Syntax errors on a
// known macro, or inside a known macro invocation, are suppressed; missing
// nodes are always kept.
func (d Diagnostic) Verify(defines *depot.Defines) bool {
	if d.Missing {
		return true
	}
	if d.Token != "" {
		if _, ok := defines.Find(d.URI, d.Token); ok {
			return false
		}
	}
	if d.Macro != "" {
		if _, ok := defines.Find(d.URI, d.Macro); ok {
			return false
		}
	}
	return true
}

// Filter keeps the diagnostics that pass Verify, grouped by file.
func Filter(diags []Diagnostic, defines *depot.Defines) map[protocol.DocumentUri][]protocol.Diagnostic {
	out := make(map[protocol.DocumentUri][]protocol.Diagnostic)
	for _, d := range diags {
		if _, ok := out[d.URI]; !ok {
			out[d.URI] = []protocol.Diagnostic{}
		}
		if d.Verify(defines) {
			out[d.URI] = append(out[d.URI], d.Diagnostic)
		}
	}
	return out
}
