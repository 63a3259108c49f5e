package server

import (
	"sort"
	"unicode/utf8"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	maxSymbols = 128
	// typos tolerated by the label search
	maxErrors = 1
)

func (s *Server) workspaceSymbol(
	context *glsp.Context,
	params *protocol.WorkspaceSymbolParams,
) ([]protocol.SymbolInformation, error) {
	entries := s.ws.Labels.Entries()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].URI < entries[j].URI
	})

	match := matcher(params.Query, maxErrors)
	var symbols []protocol.SymbolInformation
	for _, e := range entries {
		if len(symbols) == maxSymbols {
			break
		}
		if !match(e.Name) {
			continue
		}
		symbols = append(symbols, protocol.SymbolInformation{
			Name:     e.Name,
			Kind:     protocol.SymbolKindKey,
			Location: protocol.Location{URI: e.URI, Range: e.Range},
		})
	}
	return symbols, nil
}

// matcher returns a Bitap matcher that accepts texts containing pattern with
// at most k errors. An empty pattern matches everything.
func matcher(pattern string, k int) func(string) bool {
	if utf8.RuneCountInString(pattern) == 0 {
		return func(string) bool { return true }
	}

	patternRunes := []rune(pattern)
	m := len(patternRunes)
	if m > 63 {
		patternRunes = patternRunes[:63]
		m = 63
	}
	if k >= m {
		k = m - 1
	}

	var masks [128]uint64
	for i, r := range patternRunes {
		if r < 128 {
			masks[r] |= 1 << uint(i)
		}
	}
	highest := uint64(1) << uint(m-1)

	return func(text string) bool {
		return bitapFuzzyMatch(text, &masks, highest, k)
	}
}

// bitapFuzzyMatch returns true if pattern appears in text with at most k errors
func bitapFuzzyMatch(text string, masks *[128]uint64, highest uint64, k int) bool {
	r := make([]uint64, k+1)
	for d := 1; d <= k; d++ {
		// d leading pattern characters may be skipped at d errors
		r[d] = (uint64(1) << uint(d)) - 1
	}

	for _, cr := range text {
		var charMask uint64
		if cr < 128 {
			charMask = masks[cr]
		}

		prev := r[0]
		r[0] = ((r[0] << 1) | 1) & charMask
		for d := 1; d <= k; d++ {
			old := r[d]
			// match, substitution, insertion, deletion
			r[d] = (((old << 1) | 1) & charMask) | ((prev << 1) | 1) | prev | (r[d-1] << 1)
			prev = old
		}

		for d := 0; d <= k; d++ {
			if r[d]&highest != 0 {
				return true
			}
		}
	}
	return false
}
