// Package varspace holds per-actor variables: the "$" last-result list and
// the it/him/her/them pronouns published after every resolution, plus any
// variables the command layer sets for use as $name.
package varspace

import (
	"sync"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// Store is a per-actor key/value binding store.
type Store interface {
	Get(actor gamedb.DBRef, name string) ([]gamedb.DBRef, bool)
	Set(actor gamedb.DBRef, name string, refs []gamedb.DBRef) error
}

// Memory is an in-memory Store. Each actor's space is created on first
// write and lives as long as the Memory does.
type Memory struct {
	mu     sync.RWMutex
	spaces map[gamedb.DBRef]map[string][]gamedb.DBRef
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{spaces: make(map[gamedb.DBRef]map[string][]gamedb.DBRef)}
}

// Get returns a copy of the binding.
func (m *Memory) Get(actor gamedb.DBRef, name string) ([]gamedb.DBRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs, ok := m.spaces[actor][name]
	if !ok {
		return nil, false
	}
	return append([]gamedb.DBRef(nil), refs...), true
}

// Set overwrites a binding.
func (m *Memory) Set(actor gamedb.DBRef, name string, refs []gamedb.DBRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	space, ok := m.spaces[actor]
	if !ok {
		space = make(map[string][]gamedb.DBRef)
		m.spaces[actor] = space
	}
	space[name] = append([]gamedb.DBRef(nil), refs...)
	return nil
}

// Names lists the variables bound for actor.
func (m *Memory) Names(actor gamedb.DBRef) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.spaces[actor]))
	for k := range m.spaces[actor] {
		names = append(names, k)
	}
	return names
}

// ClearActor drops every binding held by actor.
func (m *Memory) ClearActor(actor gamedb.DBRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spaces, actor)
	return nil
}
