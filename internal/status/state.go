package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/livechat/internal/bus"
)

// Table lists, for each state, the states it may move to.
type Table[S ~string] map[S][]S

// Allows reports whether from -> to is a legal transition.
func (t Table[S]) Allows(from, to S) bool {
	return slices.Contains(t[from], to)
}

// Change is the payload published on every successful transition.
type Change[S ~string] struct {
	From S
	To   S
}

// Machine tracks one state and rejects transitions missing from its table.
type Machine[S ~string] struct {
	mu      sync.RWMutex
	current S
	table   Table[S]
	bus     *bus.Bus
	kind    string
}

// NewMachine creates a machine in the initial state. When b is non-nil every
// transition is published under kind.
func NewMachine[S ~string](initial S, table Table[S], b *bus.Bus, kind string) *Machine[S] {
	return &Machine[S]{
		current: initial,
		table:   table,
		bus:     b,
		kind:    kind,
	}
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in state s.
func (m *Machine[S]) Is(s S) bool {
	return m.Current() == s
}

// Transition moves to the given state or returns an error if the table forbids it.
func (m *Machine[S]) Transition(to S) error {
	m.mu.Lock()
	from := m.current
	if !m.table.Allows(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(m.kind, Change[S]{From: from, To: to})
	return nil
}

// TransitionFrom moves to the given state only when the machine is currently in
// from. It returns false without error when the machine is elsewhere.
func (m *Machine[S]) TransitionFrom(from, to S) (bool, error) {
	m.mu.Lock()
	if m.current != from {
		m.mu.Unlock()
		return false, nil
	}
	if !m.table.Allows(from, to) {
		m.mu.Unlock()
		return false, fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(m.kind, Change[S]{From: from, To: to})
	return true, nil
}
