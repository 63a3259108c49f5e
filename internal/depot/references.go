package depot

import (
	"sort"
	"sync"

	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/sitteradapter"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ReferenceEntry is a snapshot row of the reference table.
type ReferenceEntry struct {
	Name   string
	URI    protocol.DocumentUri
	Ranges []protocol.Range
}

// References maps (file, label) to every place the label is referenced.
type References struct {
	mu      sync.RWMutex
	entries map[key][]protocol.Range
	files   *Files
	log     logging.Logger
}

func NewReferences(files *Files, log logging.Logger) *References {
	return &References{
		entries: make(map[key][]protocol.Range),
		files:   files,
		log:     log,
	}
}

// Add records a reference. A range already stored for the key is ignored.
func (rs *References) Add(name string, uri protocol.DocumentUri, r protocol.Range) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	k := key{uri: uri, name: name}
	for _, existing := range rs.entries[k] {
		if existing == r {
			return
		}
	}
	rs.entries[k] = append(rs.entries[k], r)
}

// Find returns every reference to name visible from uri.
func (rs *References) Find(uri protocol.DocumentUri, name string) []Symbol {
	files := candidates(rs.files, uri)

	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var hits []Symbol
	for _, f := range files {
		for _, r := range rs.entries[key{uri: f, name: name}] {
			hits = append(hits, Symbol{URI: f, Range: r})
		}
	}
	return hits
}

// Invalidate forgets every reference made in uri.
func (rs *References) Invalidate(uri protocol.DocumentUri) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for k := range rs.entries {
		if k.uri == uri {
			delete(rs.entries, k)
		}
	}
}

// Rename moves all references to oldName made in uri to newName.
func (rs *References) Rename(uri protocol.DocumentUri, oldName, newName string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	ranges, ok := rs.entries[key{uri: uri, name: oldName}]
	if !ok {
		rs.log.Errorf("rename: reference %q not found in %s", oldName, uri)
		return notFound(oldName, uri)
	}
	delete(rs.entries, key{uri: uri, name: oldName})

	newLen := sitteradapter.UTF16Len(newName)
	moved := make([]protocol.Range, len(ranges))
	for i, r := range ranges {
		moved[i] = renamed(r, newLen)
	}
	rs.entries[key{uri: uri, name: newName}] = moved
	return nil
}

// Size counts the (file, name) keys.
func (rs *References) Size() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.entries)
}

func (rs *References) Entries() []ReferenceEntry {
	rs.mu.RLock()
	out := make([]ReferenceEntry, 0, len(rs.entries))
	for k, ranges := range rs.entries {
		out = append(out, ReferenceEntry{
			Name:   k.name,
			URI:    k.uri,
			Ranges: append([]protocol.Range(nil), ranges...),
		})
	}
	rs.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Name < out[j].Name
	})
	return out
}
