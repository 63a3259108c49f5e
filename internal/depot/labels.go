package depot

import (
	"sort"
	"sync"

	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/sitteradapter"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// LabelEntry is a snapshot row of the label table.
type LabelEntry struct {
	Name  string
	URI   protocol.DocumentUri
	Range protocol.Range
}

// Labels maps (file, label) to the range of its definition.
type Labels struct {
	mu      sync.RWMutex
	entries map[key]protocol.Range
	files   *Files
	log     logging.Logger
}

func NewLabels(files *Files, log logging.Logger) *Labels {
	return &Labels{
		entries: make(map[key]protocol.Range),
		files:   files,
		log:     log,
	}
}

// Add records a label definition. A later definition in the same file wins.
func (l *Labels) Add(name string, uri protocol.DocumentUri, r protocol.Range) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key{uri: uri, name: name}] = r
}

// Find returns every definition of name visible from uri.
func (l *Labels) Find(uri protocol.DocumentUri, name string) []Symbol {
	files := candidates(l.files, uri)

	l.mu.RLock()
	defer l.mu.RUnlock()
	var hits []Symbol
	for _, f := range files {
		if r, ok := l.entries[key{uri: f, name: name}]; ok {
			hits = append(hits, Symbol{URI: f, Range: r})
		}
	}
	return hits
}

// Invalidate forgets every label defined in uri.
func (l *Labels) Invalidate(uri protocol.DocumentUri) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.entries {
		if k.uri == uri {
			delete(l.entries, k)
		}
	}
}

// Rename moves the label oldName of uri to newName.
func (l *Labels) Rename(uri protocol.DocumentUri, oldName, newName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.entries[key{uri: uri, name: oldName}]
	if !ok {
		l.log.Errorf("rename: label %q not found in %s", oldName, uri)
		return notFound(oldName, uri)
	}
	delete(l.entries, key{uri: uri, name: oldName})
	l.entries[key{uri: uri, name: newName}] = renamed(r, sitteradapter.UTF16Len(newName))
	return nil
}

func (l *Labels) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns every label sorted by file and name.
func (l *Labels) Entries() []LabelEntry {
	l.mu.RLock()
	out := make([]LabelEntry, 0, len(l.entries))
	for k, r := range l.entries {
		out = append(out, LabelEntry{Name: k.name, URI: k.uri, Range: r})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Name < out[j].Name
	})
	return out
}
