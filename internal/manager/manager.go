// Package manager tracks which documents the editor owns.
package manager

import (
	"sync"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// DocumentManager records the version of each open URI. Files it knows are
// owned by the editor; their disk content is ignored.
type DocumentManager struct {
	mu   sync.Mutex
	docs map[protocol.DocumentUri]protocol.Integer
}

// NewDocumentManager creates an initialized DocumentManager.
func NewDocumentManager() *DocumentManager {
	return &DocumentManager{
		docs: make(map[protocol.DocumentUri]protocol.Integer),
	}
}

// Open marks uri as owned by the editor at version.
func (dm *DocumentManager) Open(uri protocol.DocumentUri, version protocol.Integer) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.docs[uri] = version
}

// Update records a new version of uri. It reports false for a version older
// than the one already seen, which the caller should drop. Unknown documents
// are opened.
func (dm *DocumentManager) Update(uri protocol.DocumentUri, version protocol.Integer) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if current, ok := dm.docs[uri]; ok && version < current {
		return false
	}
	dm.docs[uri] = version
	return true
}

// IsOpen reports whether the editor owns uri.
func (dm *DocumentManager) IsOpen(uri protocol.DocumentUri) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	_, ok := dm.docs[uri]
	return ok
}

// Release hands uri back to the disk.
func (dm *DocumentManager) Release(uri protocol.DocumentUri) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.docs, uri)
}
