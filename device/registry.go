package device

import (
	"fmt"
	"sync"
)

// Entry pairs a validated entity with the live handle for commanding it.
// Entries are never mutated in place; a reconnect repopulates the registry
// from scratch.
type Entry struct {
	Entity *Entity
	Handle EntityHandle
}

// Registry is the single source of truth for which entities exist on the
// current session, keyed by ObjectID.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// Register validates a raw announcement and stores it. A re-announcement of
// an already known ObjectID wins over the prior entry; the prior handle's
// listeners are revoked so each entity has exactly one live subscription.
func (r *Registry) Register(raw map[string]any, handle EntityHandle) (*Entry, error) {
	ent, err := DecodeEntity(raw)
	if err != nil {
		return nil, err
	}
	entry := &Entry{Entity: ent, Handle: handle}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[ent.ObjectID]; ok && prev.Handle != nil {
		prev.Handle.RevokeListeners()
	}
	r.entries[ent.ObjectID] = entry
	return entry, nil
}

func (r *Registry) Lookup(objectID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[objectID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", objectID, ErrMissingEntity)
	}
	return entry, nil
}

// Clear removes every entry and returns them so the caller can revoke their
// listeners. Called exactly once per disconnect, before the session handle is
// discarded.
func (r *Registry) Clear() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	cleared := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		cleared = append(cleared, entry)
	}
	r.entries = map[string]*Entry{}
	return cleared
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of the current entries for diagnostics.
func (r *Registry) Snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	return entries
}
