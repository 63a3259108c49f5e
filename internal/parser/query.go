package parser

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Capture is one captured node of a match.
type Capture struct {
	Text  string
	Range protocol.Range
}

// Match maps capture names to what they captured.
type Match map[string]Capture

// Query is a compiled tree-sitter query. It is safe for concurrent use.
type Query struct {
	q *sitter.Query
}

func NewQuery(pattern string) (*Query, error) {
	q, err := sitter.NewQuery([]byte(pattern), lang)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", pattern, err)
	}
	return &Query{q: q}, nil
}

func mustQuery(pattern string) *Query {
	q, err := NewQuery(pattern)
	if err != nil {
		panic(err)
	}
	return q
}

var (
	// LabelQuery captures label definitions: `name: node {}`.
	LabelQuery = mustQuery(`(node label: (identifier)@id)`)
	// ReferenceQuery captures label references: `&name`.
	ReferenceQuery = mustQuery(`(reference label: (identifier)@id)`)
	// IncludeQuery captures the path literal of /include/ and #include.
	IncludeQuery = mustQuery(`[
		(dtsi_include path: (string_literal)@id)
		(preproc_include path: (string_literal)@id)
		(preproc_include path: (system_lib_string)@id)
	]`)
	// DefineQuery captures object-like and function-like macro definitions.
	DefineQuery = mustQuery(`[
		(preproc_def name: (identifier)@name value: (preproc_arg)@id)
		(preproc_function_def name: (identifier)@name parameters: (preproc_params) value: (preproc_arg)@id)
	]`)
)

// Query runs q over the whole tree and returns the matches in document order.
func (t *Tree) Query(q *Query) []Match {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q.q, t.RootNode())

	var matches []Match
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, t.source)
		if len(m.Captures) == 0 {
			continue
		}

		match := make(Match, len(m.Captures))
		for _, c := range m.Captures {
			match[q.q.CaptureNameForId(c.Index)] = Capture{
				Text:  c.Node.Content(t.source),
				Range: t.Range(c.Node),
			}
		}
		matches = append(matches, match)
	}
	return matches
}
