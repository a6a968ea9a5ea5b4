// Package knowledge holds the locator knowledge store: a two-level mapping
// from context to element key to locator string, shared by every flow that
// drives the automated surface.
//
// The in-memory Store never performs I/O. Persistence between runs lives
// behind a Persister; Hydrate seeds a store at start-up and the discovery
// adapter writes fresh mappings back after each successful discovery.
package knowledge

import (
	"sort"
	"sync"
)

// Store is the locator knowledge store contract.
type Store interface {
	// Get returns the locator for (context, element) and whether it exists.
	Get(context, element string) (string, bool)
	// Put overwrites a single entry.
	Put(context, element, locator string)
	// PutAll merges mapping into context. Keys absent from mapping keep
	// their previous value.
	PutAll(context string, mapping map[string]string)
	// Snapshot returns a deep copy of all entries.
	Snapshot() map[string]map[string]string
	// Contexts lists the known contexts in sorted order.
	Contexts() []string
}

// Memory is the in-process Store implementation, safe for concurrent use.
// Concurrent writers to the same key race with last-writer-wins.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string]string)}
}

// Get retrieves a locator.
func (m *Memory) Get(context, element string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elements, ok := m.entries[context]
	if !ok {
		return "", false
	}
	locator, ok := elements[element]
	return locator, ok
}

// Put stores a locator. Empty locators are ignored: absence is the only
// representation of an unresolved element.
func (m *Memory) Put(context, element, locator string) {
	if locator == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contextLocked(context)[element] = locator
}

// PutAll merges mapping into the context.
func (m *Memory) PutAll(context string, mapping map[string]string) {
	if len(mapping) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	elements := m.contextLocked(context)
	for element, locator := range mapping {
		if locator == "" {
			continue
		}
		elements[element] = locator
	}
}

func (m *Memory) contextLocked(context string) map[string]string {
	elements, ok := m.entries[context]
	if !ok {
		elements = make(map[string]string)
		m.entries[context] = elements
	}
	return elements
}

// Snapshot returns a deep copy of every entry.
func (m *Memory) Snapshot() map[string]map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]string, len(m.entries))
	for ctx, elements := range m.entries {
		cp := make(map[string]string, len(elements))
		for k, v := range elements {
			cp[k] = v
		}
		out[ctx] = cp
	}
	return out
}

// Contexts lists known contexts.
func (m *Memory) Contexts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.entries))
	for ctx := range m.entries {
		out = append(out, ctx)
	}
	sort.Strings(out)
	return out
}
