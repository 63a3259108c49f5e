package bindings

// #cgo CFLAGS: -std=c11 -fPIC
// #include "../tree-sitter-devicetree/src/parser.c"
import "C"

import "unsafe"

// Get the tree-sitter Language for the devicetree grammar.
func Language() unsafe.Pointer {
	return unsafe.Pointer(C.tree_sitter_devicetree())
}
