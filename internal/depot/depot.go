// Package depot keeps the cross-file index: file text with its include graph
// and the label, reference and define tables resolved through it.
//
// Every table owns its own lock. Lookups ask Files for the set of files
// connected to the origin and look each of them up in the table.
package depot

import (
	"errors"
	"fmt"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrNotFound = errors.New("depot: no such entry")

// Symbol is one place a name occurs.
type Symbol struct {
	URI   protocol.DocumentUri
	Range protocol.Range
}

func (s Symbol) Location() protocol.Location {
	return protocol.Location{URI: s.URI, Range: s.Range}
}

type key struct {
	uri  protocol.DocumentUri
	name string
}

// candidates lists the origin first, then its component.
func candidates(files *Files, uri protocol.DocumentUri) []protocol.DocumentUri {
	return append([]protocol.DocumentUri{uri}, files.Component(uri)...)
}

// renamed moves r so that it spans newLen code units from its start.
// Occurrences never span lines.
func renamed(r protocol.Range, newLen uint32) protocol.Range {
	r.End.Line = r.Start.Line
	r.End.Character = r.Start.Character + newLen
	return r
}

func notFound(name string, uri protocol.DocumentUri) error {
	return fmt.Errorf("%w: %q in %s", ErrNotFound, name, uri)
}
