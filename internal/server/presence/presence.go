// Package presence tracks which identities currently have realtime
// connections attached, and which connections those are. It is a pure
// in-memory structure; persistence and transport live elsewhere.
package presence

import (
	"sync"
)

// Table maps identities to their attached connection ids. An identity is
// online while it has at least one connection. All methods are safe for
// concurrent use.
type Table struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // identity -> set of connection ids
}

func NewTable() *Table {
	return &Table{conns: make(map[string]map[string]struct{})}
}

// Attach registers connID under identity. It reports whether this was the
// identity's first connection, i.e. whether the identity just came online.
// Attaching the same pair twice is a caller bug and panics.
func (t *Table) Attach(identity, connID string) bool {
	if identity == "" || connID == "" {
		panic("presence: empty identity or connection id")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[identity]
	if !ok {
		set = make(map[string]struct{})
		t.conns[identity] = set
	}
	if _, dup := set[connID]; dup {
		panic("presence: connection attached twice")
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// Detach removes connID from identity. It reports whether this was the
// identity's last connection, i.e. whether the identity just went offline.
// Detaching an unknown pair is a no-op returning false.
func (t *Table) Detach(identity, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[identity]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(t.conns, identity)
		return true
	}
	return false
}

// Targets returns the connection ids attached to identity, excluding
// exceptConnID when non-empty. The slice is a copy.
func (t *Table) Targets(identity, exceptConnID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.conns[identity]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		if id == exceptConnID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether identity has at least one connection attached.
func (t *Table) IsOnline(identity string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[identity]) > 0
}

// Snapshot returns all online identities. The slice is a copy in no
// particular order.
func (t *Table) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.conns))
	for identity := range t.conns {
		out = append(out, identity)
	}
	return out
}

// Connections reports how many connections identity has attached.
func (t *Table) Connections(identity string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[identity])
}
