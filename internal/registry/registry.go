// Package registry tracks which machines currently hold a live
// WebSocket connection to the server.
package registry

import (
	"sync"
	"time"

	"pointaged/internal/database"
)

// ConnectionRecord describes one registered machine connection.
type ConnectionRecord struct {
	Identity      string
	ConnID        string
	Name          string
	Address       string
	SystemInfo    *database.SystemInfo
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// Registry is the in-memory map of connected machines. A machine holds
// at most one record at a time; a new registration under the same
// identity replaces the old one.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ConnectionRecord
	byConn  map[string]string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*ConnectionRecord),
		byConn:  make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// LockIdentity acquires the per-identity mutex and returns the unlock
// function. Mutations of the registry and the store for one machine
// must happen under this lock so they observe each other in order.
func (r *Registry) LockIdentity(identity string) func() {
	r.lockMu.Lock()
	m, ok := r.locks[identity]
	if !ok {
		m = &sync.Mutex{}
		r.locks[identity] = m
	}
	r.lockMu.Unlock()

	m.Lock()
	return m.Unlock
}

// Register stores a record for the machine, replacing any previous
// connection under the same identity. It reports whether a previous
// record was replaced.
func (r *Registry) Register(rec *ConnectionRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, replaced := r.entries[rec.Identity]
	if replaced {
		delete(r.byConn, old.ConnID)
	}
	r.entries[rec.Identity] = rec
	r.byConn[rec.ConnID] = rec.Identity
	return replaced
}

// TouchHeartbeat updates the last heartbeat time for a connected
// machine. It reports whether the machine was registered.
func (r *Registry) TouchHeartbeat(identity string, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[identity]
	if !ok {
		return false
	}
	rec.LastHeartbeat = ts
	return true
}

// LookupByConn resolves a connection ID to the identity it registered
// under, if any.
func (r *Registry) LookupByConn(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.byConn[connID]
	return identity, ok
}

// Remove drops the record for a machine. Removing an unknown identity
// is a no-op. It reports whether a record existed.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[identity]
	if !ok {
		return false
	}
	delete(r.byConn, rec.ConnID)
	delete(r.entries, identity)
	return true
}

// RemoveConn drops the record owned by the given connection ID. A
// record that has since been replaced by a newer connection is left
// alone. It returns the identity that was removed, if any.
func (r *Registry) RemoveConn(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	delete(r.entries, identity)
	return identity, true
}

// IsConnected reports whether a machine currently holds a connection.
func (r *Registry) IsConnected(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[identity]
	return ok
}

// Get returns a copy of the record for a machine.
func (r *Registry) Get(identity string) (ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.entries[identity]
	if !ok {
		return ConnectionRecord{}, false
	}
	return *rec, true
}

// Identities returns the identities of all connected machines.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for identity := range r.entries {
		out = append(out, identity)
	}
	return out
}

// Count returns the number of connected machines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
