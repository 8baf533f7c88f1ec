package content

import (
	"sync/atomic"
	"time"

	"github.com/keithlinneman/vitesheet/internal/slug"
)

// Manager holds the snapshot currently served. Reads never block; a reload
// replaces the whole snapshot in one store.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set publishes s as the active snapshot.
func (m *Manager) Set(s Snapshot) { m.Swap(s) }

// Swap publishes a copy of s and returns the snapshot it replaced, or nil.
// A zero LoadedAt is stamped with the current time.
func (m *Manager) Swap(s Snapshot) *Snapshot {
	if s.LoadedAt.IsZero() {
		s.LoadedAt = time.Now().UTC()
	}
	return m.active.Swap(&s)
}

// Get returns the active snapshot and whether it is usable.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

func snapshotField[T any](m *Manager, get func(*Snapshot) T) T {
	var zero T
	if s := m.active.Load(); s != nil {
		return get(s)
	}
	return zero
}

// ContentVersion implements httpmw.ContentInfo.
func (m *Manager) ContentVersion() string {
	return snapshotField(m, func(s *Snapshot) string { return s.Meta.Version })
}

// ContentHash implements httpmw.ContentInfo.
func (m *Manager) ContentHash() string {
	return snapshotField(m, func(s *Snapshot) string { return s.Meta.Hash })
}

// Source is SourceUnknown until something is loaded.
func (m *Manager) Source() Source {
	if m.active.Load() == nil {
		return SourceUnknown
	}
	return snapshotField(m, func(s *Snapshot) Source { return s.Meta.Source })
}

func (m *Manager) LoadedAt() time.Time {
	return snapshotField(m, func(s *Snapshot) time.Time { return s.LoadedAt })
}

// Page returns the raw source of the page for id from the active snapshot.
// It fails with ErrNoSnapshot before content is loaded and with
// ErrPageNotFound when the snapshot has no page for id.
func (m *Manager) Page(id slug.Slug) ([]byte, Page, error) {
	snap, ok := m.Get()
	if !ok {
		return nil, Page{}, ErrNoSnapshot
	}
	return snap.Page(id)
}
