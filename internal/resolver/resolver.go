// Package resolver maps between file URIs and paths, classifies devicetree
// files and resolves include directives.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Kind classifies a file by its extension.
type Kind int

const (
	Unsupported Kind = iota
	// Source files (.dts, .dtsi) are parsed for every fact kind and their
	// includes are followed.
	Source
	// Header files (.h) only contribute macro definitions and are never
	// expanded further during reachability walks.
	Header
)

var ErrNotFileURI = errors.New("not a file uri")

// KindOf classifies uri (or a plain path) by extension.
func KindOf(uri string) Kind {
	switch strings.ToLower(filepath.Ext(uri)) {
	case ".dts", ".dtsi":
		return Source
	case ".h":
		return Header
	default:
		return Unsupported
	}
}

// IsHeader reports whether uri names a terminal header file.
func IsHeader(uri string) bool {
	return KindOf(uri) == Header
}

// URIToPath returns the local filesystem path of a file:// uri.
func URIToPath(uri protocol.DocumentUri) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q", ErrNotFileURI, uri)
	}
	return filepath.FromSlash(u.Path), nil
}

// PathToURI builds the canonical file:// uri for path.
func PathToURI(path string) protocol.DocumentUri {
	cleaned := filepath.Clean(path)
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(cleaned),
	}
	return protocol.DocumentUri(u.String())
}

// Canonical re-encodes uri so that the same file always maps to the same key,
// whatever escaping the client chose.
func Canonical(uri protocol.DocumentUri) (protocol.DocumentUri, error) {
	path, err := URIToPath(uri)
	if err != nil {
		return "", err
	}
	return PathToURI(path), nil
}

// Include resolves an include path written in includer.
//
// The path is tried relative to the includer's directory first, then below
// <root>/<prefix>. When neither exists the directory-relative uri is returned
// with found set to false.
func Include(includer protocol.DocumentUri, include string, root protocol.DocumentUri, prefix string) (protocol.DocumentUri, bool) {
	includerPath, err := URIToPath(includer)
	if err != nil {
		return "", false
	}
	candidate := filepath.Join(filepath.Dir(includerPath), include)
	if exists(candidate) {
		return PathToURI(candidate), true
	}

	if root != "" {
		if rootPath, err := URIToPath(root); err == nil {
			fallback := filepath.Join(rootPath, prefix, include)
			if exists(fallback) {
				return PathToURI(fallback), true
			}
		}
	}
	return PathToURI(candidate), false
}

// TrimInclude strips the quotes or angle brackets of an include path literal.
func TrimInclude(literal string) string {
	literal = strings.TrimSpace(literal)
	if len(literal) >= 2 {
		first, last := literal[0], literal[len(literal)-1]
		if (first == '"' && last == '"') || (first == '<' && last == '>') {
			return literal[1 : len(literal)-1]
		}
	}
	return literal
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
