// Package sitteradapter converts between tree-sitter byte coordinates and
// LSP positions, which count UTF-16 code units.
package sitteradapter

import (
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	lsp "github.com/tliron/glsp/protocol_3_16"
)

// PositionToPoint computes the tree-sitter Point for an LSP Position.
func PositionToPoint(document string, pos lsp.Position) sitter.Point {
	lines := strings.Split(document, "\n")
	// Clamp line number
	if int(pos.Line) >= len(lines) {
		pos.Line = uint32(len(lines) - 1)
	}
	column := ByteColumn(lines[pos.Line], pos.Character)
	return sitter.Point{Row: pos.Line, Column: uint32(column)}
}

// ByteColumn returns the byte offset in line that corresponds to character
// UTF-16 code units, clamped to the line length.
func ByteColumn(line string, character uint32) int {
	var charCount, byteCount int
	for _, r := range line {
		// Each codepoint uses 1 or 2 UTF-16 code units
		unitCount := 1
		if r > 0xFFFF {
			unitCount = 2
		}
		if uint32(charCount+unitCount) > character {
			break
		}
		charCount += unitCount
		byteCount += utf8.RuneLen(r)
	}
	return byteCount
}

// TSPointToLSPPosition converts a tree-sitter Point to an LSP Position within the given document.
func TSPointToLSPPosition(pt sitter.Point, document string) lsp.Position {
	lines := strings.Split(document, "\n")
	// Clamp row to existing lines
	if int(pt.Row) >= len(lines) {
		pt.Row = uint32(len(lines) - 1)
	}
	line := lines[pt.Row]
	if int(pt.Column) > len(line) {
		pt.Column = uint32(len(line))
	}
	return lsp.Position{Line: pt.Row, Character: UTF16Len(line[:pt.Column])}
}

// NodeRange returns the LSP range covered by n.
func NodeRange(n *sitter.Node, document string) lsp.Range {
	return lsp.Range{
		Start: TSPointToLSPPosition(n.StartPoint(), document),
		End:   TSPointToLSPPosition(n.EndPoint(), document),
	}
}

// UTF16Len counts the UTF-16 code units of s.
func UTF16Len(s string) uint32 {
	var n uint32
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}
