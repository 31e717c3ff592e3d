package remotesettings

import (
	"sort"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-echo/internal/settings"
)

// Manager holds the active snapshot. The zero value is usable and empty.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) Set(s *Snapshot) {
	if s == nil {
		return
	}
	m.active.Store(s)
}

func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil
}

// Names implements settings.Source.
func (m *Manager) Names() []string {
	s := m.active.Load()
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Values))
	for k := range s.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup implements settings.Source.
func (m *Manager) Lookup(name string) (any, error) {
	s := m.active.Load()
	if s == nil {
		return nil, settings.ErrNotFound
	}
	v, ok := s.Values[name]
	if !ok {
		return nil, settings.ErrNotFound
	}
	return v, nil
}

// SettingsRevision implements httpmw.RevisionInfo.
func (m *Manager) SettingsRevision() string {
	if s := m.active.Load(); s != nil {
		return s.Revision
	}
	return ""
}

// Loaded reports whether a first snapshot has been installed.
func (m *Manager) Loaded() bool {
	return m.active.Load() != nil
}
