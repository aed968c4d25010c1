// Package state holds the single source of truth for query results, filter
// criteria, the current selection, and the last exportable payload. Every
// view is derived from this store; no view holds state the store does not.
package state

import (
	"sync"

	"sigmap/internal/entity"
	"sigmap/internal/filter"
)

// Selection is the entity currently open for detailed inspection, if any.
// Close hides the detail view without discarding the last-rendered entity.
type Selection struct {
	Title  string
	Entity entity.Entity
	Open   bool
}

// Export is the verbatim last successful query payload.
type Export struct {
	Payload  []byte
	Filename string
}

// Store is safe for concurrent use. All mutation goes through the named
// operations below; callers never write fields directly.
type Store struct {
	mu        sync.Mutex
	devices   []entity.Entity
	towers    []entity.Entity
	criteria  filter.Criteria
	selection Selection
	export    *Export
}

func New() *Store {
	return &Store{}
}

// ReplaceDevices replaces the device set wholesale. Prior contents are
// dropped, never merged.
func (s *Store) ReplaceDevices(list []entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = cloneList(list)
}

// ReplaceTowers replaces the tower set wholesale.
func (s *Store) ReplaceTowers(list []entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.towers = cloneList(list)
}

func (s *Store) Devices() []entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneList(s.devices)
}

func (s *Store) Towers() []entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneList(s.towers)
}

// Combined returns devices followed by towers without mutating either set.
// Filter-only operations read this concatenation.
func (s *Store) Combined() []entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Entity, 0, len(s.devices)+len(s.towers))
	out = append(out, s.devices...)
	out = append(out, s.towers...)
	return out
}

func (s *Store) SetCriteria(c filter.Criteria) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria = c.Normalized()
}

func (s *Store) Criteria() filter.Criteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.criteria
}

// Select opens e for detailed inspection under the given title.
func (s *Store) Select(title string, e entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = Selection{Title: title, Entity: e, Open: true}
}

// CloseDetail hides the detail view but keeps the last selection so a
// reopen without a new activation is safe.
func (s *Store) CloseDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Open = false
}

func (s *Store) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

func (s *Store) SetExport(payload []byte, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.export = &Export{Payload: append([]byte(nil), payload...), Filename: filename}
}

// Export returns the last raw payload, or nil when none is held. The
// snapshot is never filtered; it is always the verbatim response.
func (s *Store) Export() *Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.export == nil {
		return nil
	}
	return &Export{Payload: append([]byte(nil), s.export.Payload...), Filename: s.export.Filename}
}

// Clear resets devices, towers, selection, and the export snapshot in one
// atomic step. Partial clears are not offered: they would let a view drift
// from the store. Filter criteria survive a clear.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = nil
	s.towers = nil
	s.selection = Selection{}
	s.export = nil
}

func cloneList(list []entity.Entity) []entity.Entity {
	if list == nil {
		return nil
	}
	return append([]entity.Entity(nil), list...)
}
