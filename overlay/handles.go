// Package overlay manages the uploaded document backdrop: its transient
// display handle and its composition with the ink layer.
package overlay

import (
	"quicksign-server/core"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const handlePrefix = "blob:"

// HandleRegistry issues and revokes display handles. It is shared by all
// sessions of a server and safe for concurrent use.
type HandleRegistry struct {
	mu      sync.RWMutex
	handles map[string]*core.Document
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{handles: make(map[string]*core.Document)}
}

// Create issues a new handle for doc.
func (r *HandleRegistry) Create(doc *core.Document) string {
	handle := handlePrefix + ulid.Make().String()

	r.mu.Lock()
	r.handles[handle] = doc
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"handle":      handle,
		"document_id": doc.ID,
		"data_length": len(doc.Data),
	}).Debug("Display handle created")
	return handle
}

// Release revokes handle. It reports whether the handle was live.
func (r *HandleRegistry) Release(handle string) bool {
	r.mu.Lock()
	_, ok := r.handles[handle]
	delete(r.handles, handle)
	r.mu.Unlock()

	if ok {
		logrus.WithField("handle", handle).Debug("Display handle released")
	}
	return ok
}

// Resolve returns the document behind a live handle.
func (r *HandleRegistry) Resolve(handle string) (*core.Document, error) {
	r.mu.RLock()
	doc, ok := r.handles[handle]
	r.mu.RUnlock()

	if !ok {
		return nil, core.ErrHandleNotFound
	}
	return doc, nil
}

// Live returns the number of unreleased handles.
func (r *HandleRegistry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
