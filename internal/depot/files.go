package depot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/resolver"
	"github.com/igor-prusov/dts-lsp/internal/sitteradapter"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrUnknownFile = errors.New("depot: unknown file")

// InsertResult tells the caller what Insert did with the text.
type InsertResult int

const (
	// InsertOK means the file had no text before.
	InsertOK InsertResult = iota
	// InsertExists means the stored text is identical; nothing changed.
	InsertExists
	// InsertModified means the stored text was replaced.
	InsertModified
)

func (r InsertResult) String() string {
	switch r {
	case InsertOK:
		return "ok"
	case InsertExists:
		return "exists"
	case InsertModified:
		return "modified"
	default:
		return fmt.Sprintf("InsertResult(%d)", int(r))
	}
}

// DefaultIncludesPrefix is the directory below the workspace root searched
// for includes that do not resolve relative to the including file.
const DefaultIncludesPrefix = "include"

type fileEntry struct {
	text       string
	hasText    bool
	includes   []protocol.DocumentUri
	includedBy []protocol.DocumentUri
}

// FileInfo is a read-only copy of one entry, for dumps and viewers.
type FileInfo struct {
	URI        protocol.DocumentUri
	HasText    bool
	Includes   []protocol.DocumentUri
	IncludedBy []protocol.DocumentUri
}

// Files holds the text of every known file and the include graph between them.
type Files struct {
	mu             sync.RWMutex
	entries        map[protocol.DocumentUri]*fileEntry
	root           protocol.DocumentUri
	includesPrefix string
	subscribers    map[int]chan GraphEvent
	nextSubID      int
	log            logging.Logger
}

func NewFiles(log logging.Logger) *Files {
	return &Files{
		entries:        make(map[protocol.DocumentUri]*fileEntry),
		includesPrefix: DefaultIncludesPrefix,
		subscribers:    make(map[int]chan GraphEvent),
		log:            log,
	}
}

// entry returns the entry for uri, creating an empty one. Caller holds mu.
func (f *Files) entry(uri protocol.DocumentUri) *fileEntry {
	e, ok := f.entries[uri]
	if !ok {
		e = &fileEntry{}
		f.entries[uri] = e
		f.emit(GraphEvent{Type: CreateFile, URI: uri})
	}
	return e
}

// Insert stores text for uri.
func (f *Files) Insert(uri protocol.DocumentUri, text string) InsertResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.entry(uri)
	result := InsertOK
	if e.hasText {
		if e.text == text {
			return InsertExists
		}
		result = InsertModified
	} else {
		f.emit(GraphEvent{Type: LoadFile, URI: uri})
	}
	e.text = text
	e.hasText = true
	return result
}

// AddInclude records that a includes b. Adding the same edge twice records it twice.
func (f *Files) AddInclude(a, b protocol.DocumentUri) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.entry(a)
	to := f.entry(b)
	from.includes = append(from.includes, b)
	to.includedBy = append(to.includedBy, a)
	f.emit(GraphEvent{Type: CreateInclude, URI: a, Target: b})
}

// ResetIncludes drops every forward edge of uri together with the mirrored
// included-by entries.
func (f *Files) ResetIncludes(uri protocol.DocumentUri) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[uri]
	if !ok {
		return
	}
	for _, target := range e.includes {
		to, ok := f.entries[target]
		if !ok {
			continue
		}
		// remove a single occurrence per forward edge
		for i, src := range to.includedBy {
			if src == uri {
				to.includedBy = append(to.includedBy[:i], to.includedBy[i+1:]...)
				break
			}
		}
		f.emit(GraphEvent{Type: DeleteInclude, URI: uri, Target: target})
	}
	e.includes = nil
}

func (f *Files) Exists(uri protocol.DocumentUri) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.entries[uri]
	return ok
}

// Text returns the stored text of uri, if it was loaded.
func (f *Files) Text(uri protocol.DocumentUri) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[uri]
	if !ok || !e.hasText {
		return "", false
	}
	return e.text, true
}

// Includes returns the forward edges of uri in insertion order.
func (f *Files) Includes(uri protocol.DocumentUri) []protocol.DocumentUri {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[uri]
	if !ok {
		return nil
	}
	return append([]protocol.DocumentUri(nil), e.includes...)
}

// IncludedBy returns the backward edges of uri in insertion order.
func (f *Files) IncludedBy(uri protocol.DocumentUri) []protocol.DocumentUri {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[uri]
	if !ok {
		return nil
	}
	return append([]protocol.DocumentUri(nil), e.includedBy...)
}

// Component returns every file that shares symbols with uri: all files it
// transitively includes, plus everything reachable from the files that
// include it. Header files are reported but never expanded. The origin
// itself is not part of the result.
func (f *Files) Component(uri protocol.DocumentUri) []protocol.DocumentUri {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make(map[protocol.DocumentUri]struct{})
	visited := make(map[protocol.DocumentUri]struct{})

	// Forward walk over includes only.
	stack := []protocol.DocumentUri{uri}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e, ok := f.entries[current]; ok {
			for _, next := range e.includes {
				if _, seen := visited[next]; seen {
					continue
				}
				if !resolver.IsHeader(next) {
					stack = append(stack, next)
				}
				result[next] = struct{}{}
			}
		}
		visited[current] = struct{}{}
	}

	// Files including the origin, then everything connected to them.
	if e, ok := f.entries[uri]; ok {
		for _, prev := range e.includedBy {
			if _, seen := visited[prev]; seen {
				continue
			}
			if !resolver.IsHeader(prev) {
				stack = append(stack, prev)
			}
			visited[prev] = struct{}{}
			result[prev] = struct{}{}
		}
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e, ok := f.entries[current]
		if !ok {
			continue
		}
		neighbours := make([]protocol.DocumentUri, 0, len(e.includes)+len(e.includedBy))
		neighbours = append(neighbours, e.includes...)
		neighbours = append(neighbours, e.includedBy...)
		for _, next := range neighbours {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			if !resolver.IsHeader(next) {
				stack = append(stack, next)
			}
			result[next] = struct{}{}
		}
	}

	delete(result, uri)
	component := make([]protocol.DocumentUri, 0, len(result))
	for u := range result {
		component = append(component, u)
	}
	sort.Strings(component)
	return component
}

// ApplyEdits patches the stored text of uri. Edits are applied one after
// another against the current text, so callers pass them bottom-to-top.
func (f *Files) ApplyEdits(uri protocol.DocumentUri, edits []protocol.TextEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[uri]
	if !ok {
		f.log.Errorf("apply edits: no entry for %s", uri)
		return fmt.Errorf("%w: %s", ErrUnknownFile, uri)
	}
	if !e.hasText {
		return nil
	}
	for _, edit := range edits {
		e.text = applyEdit(e.text, edit)
	}
	return nil
}

// applyEdit rewrites text line by line; every line keeps its newline.
func applyEdit(text string, edit protocol.TextEdit) string {
	start, end := edit.Range.Start, edit.Range.End
	multiline := start.Line != end.Line

	var b strings.Builder
	b.Grow(len(text) + len(edit.NewText))
	for n, line := range strings.SplitAfter(text, "\n") {
		switch {
		case uint32(n) == start.Line && !multiline:
			sc := sitteradapter.ByteColumn(line, start.Character)
			ec := sitteradapter.ByteColumn(line, end.Character)
			if ec < sc {
				ec = sc
			}
			b.WriteString(line[:sc])
			b.WriteString(edit.NewText)
			b.WriteString(line[ec:])
		case uint32(n) == start.Line:
			b.WriteString(line[:sitteradapter.ByteColumn(line, start.Character)])
		case uint32(n) > start.Line && uint32(n) < end.Line:
		case uint32(n) == end.Line:
			b.WriteString(edit.NewText)
			b.WriteString(line[sitteradapter.ByteColumn(line, end.Character):])
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}

// SetRoot records the workspace root, always with a trailing slash.
func (f *Files) SetRoot(uri protocol.DocumentUri) {
	if uri != "" && !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	f.mu.Lock()
	f.root = uri
	f.mu.Unlock()
}

func (f *Files) Root() protocol.DocumentUri {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.root
}

func (f *Files) SetIncludesPrefix(prefix string) {
	f.mu.Lock()
	f.includesPrefix = prefix
	f.mu.Unlock()
}

func (f *Files) IncludesPrefix() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.includesPrefix
}

// Size is the number of known files, loaded or not.
func (f *Files) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// WithText is the number of files whose text has been loaded.
func (f *Files) WithText() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, e := range f.entries {
		if e.hasText {
			n++
		}
	}
	return n
}

// Snapshot copies every entry, sorted by uri.
func (f *Files) Snapshot() []FileInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FileInfo, 0, len(f.entries))
	for uri, e := range f.entries {
		out = append(out, FileInfo{
			URI:        uri,
			HasText:    e.hasText,
			Includes:   append([]protocol.DocumentUri(nil), e.includes...),
			IncludedBy: append([]protocol.DocumentUri(nil), e.includedBy...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Subscribe streams graph changes until ctx is done.
func (f *Files) Subscribe(ctx context.Context) <-chan GraphEvent {
	f.mu.Lock()
	ch := make(chan GraphEvent, 64)
	sid := f.nextSubID
	f.nextSubID++
	f.subscribers[sid] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subscribers, sid)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

// emit sends event to all subscribers non-blocking. Caller holds mu.
func (f *Files) emit(event GraphEvent) {
	for _, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			// drop if not ready
		}
	}
}
