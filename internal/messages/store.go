// Package messages holds the canonical, ordered and deduplicated conversation.
package messages

import (
	"cmp"
	"slices"
	"sync"

	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
)

// Changed is the payload of a message.changed event.
type Changed struct {
	Changed int
	Total   int
}

// Store is the single source of truth for conversation state. Every write goes
// through the same merge: key by ID, overwrite or insert, re-sort by timestamp.
type Store struct {
	mu   sync.RWMutex
	msgs []chat.Message
	bus  *bus.Bus
}

// New creates an empty store publishing changes on b (which may be nil).
func New(b *bus.Bus) *Store {
	return &Store{bus: b}
}

// Ingest merges incoming messages. An incoming copy replaces a stored entry
// with the same ID, and replaces the optimistic entry whose ID equals its
// ClientID. It returns the number of entries that changed.
func (s *Store) Ingest(incoming ...chat.Message) int {
	return s.merge(incoming, false)
}

// IngestNew merges only messages whose ID is not stored yet.
func (s *Store) IngestNew(incoming ...chat.Message) int {
	return s.merge(incoming, true)
}

// Append adds a locally authored message (optimistic echo or failure marker).
func (s *Store) Append(m chat.Message) {
	s.merge([]chat.Message{m}, false)
}

// RemoveFailed drops every failure marker and returns how many were removed.
func (s *Store) RemoveFailed() int {
	s.mu.Lock()
	kept := s.msgs[:0:0]
	for _, m := range s.msgs {
		if !m.SendFailed {
			kept = append(kept, m)
		}
	}
	removed := len(s.msgs) - len(kept)
	if removed > 0 {
		s.msgs = kept
	}
	total := len(s.msgs)
	s.mu.Unlock()

	if removed > 0 {
		s.bus.Emit(bus.KindMessageChanged, Changed{Changed: removed, Total: total})
	}
	return removed
}

// Snapshot returns a copy of the ordered conversation.
func (s *Store) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.msgs)
}

// Get returns the message with the given ID.
func (s *Store) Get(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return chat.Message{}, false
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

func (s *Store) merge(incoming []chat.Message, onlyNew bool) int {
	s.mu.Lock()
	byID := make(map[string]chat.Message, len(s.msgs)+len(incoming))
	for _, m := range s.msgs {
		byID[m.ID] = m
	}

	changed := 0
	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		cur, exists := byID[in.ID]
		if onlyNew && exists {
			continue
		}
		if in.ClientID != "" && in.ClientID != in.ID {
			if _, ok := byID[in.ClientID]; ok {
				delete(byID, in.ClientID)
				changed++
			}
		}
		if exists && cur.Equal(in) {
			continue
		}
		byID[in.ID] = in
		changed++
	}

	if changed == 0 {
		s.mu.Unlock()
		return 0
	}

	ordered := make([]chat.Message, 0, len(byID))
	for _, m := range byID {
		ordered = append(ordered, m)
	}
	slices.SortFunc(ordered, compare)
	s.msgs = ordered
	total := len(ordered)
	s.mu.Unlock()

	s.bus.Emit(bus.KindMessageChanged, Changed{Changed: changed, Total: total})
	return changed
}

// compare orders by timestamp, breaking ties by ID so the order never depends
// on arrival or map iteration.
func compare(a, b chat.Message) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
