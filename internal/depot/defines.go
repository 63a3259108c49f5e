package depot

import (
	"sort"
	"strings"
	"sync"

	"github.com/igor-prusov/dts-lsp/internal/logging"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

type define struct {
	Range protocol.Range
	Value string
}

// DefineEntry is a snapshot row of the macro table.
type DefineEntry struct {
	Name  string
	URI   protocol.DocumentUri
	Range protocol.Range
	Value string
}

// Defines maps (file, macro) to where the macro is defined and what it
// expands to.
type Defines struct {
	mu      sync.RWMutex
	entries map[key]define
	files   *Files
	log     logging.Logger
}

func NewDefines(files *Files, log logging.Logger) *Defines {
	return &Defines{
		entries: make(map[key]define),
		files:   files,
		log:     log,
	}
}

func (d *Defines) Add(name string, uri protocol.DocumentUri, r protocol.Range, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key{uri: uri, name: name}] = define{Range: r, Value: strings.TrimSpace(value)}
}

// Find returns the first definition of name visible from uri. The origin
// file is searched before its component.
func (d *Defines) Find(uri protocol.DocumentUri, name string) (Symbol, bool) {
	files := candidates(d.files, uri)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, f := range files {
		if def, ok := d.entries[key{uri: f, name: name}]; ok {
			return Symbol{URI: f, Range: def.Range}, true
		}
	}
	return Symbol{}, false
}

func (d *Defines) Invalidate(uri protocol.DocumentUri) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.entries {
		if k.uri == uri {
			delete(d.entries, k)
		}
	}
}

func (d *Defines) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Defines) Entries() []DefineEntry {
	d.mu.RLock()
	out := make([]DefineEntry, 0, len(d.entries))
	for k, def := range d.entries {
		out = append(out, DefineEntry{Name: k.name, URI: k.uri, Range: def.Range, Value: def.Value})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Name < out[j].Name
	})
	return out
}
