// Package focus tracks which task the conversation is working on and the
// backlog of tasks waiting for attention.
package focus

import (
	"fmt"
	"sync"

	"github.com/tOgg1/bishma/internal/models"
)

// Lookup answers questions about tasks. The task store satisfies it.
type Lookup interface {
	Exists(id string) bool
	IsComplete(id string) bool
}

// State is the serializable form of a Manager.
type State struct {
	FocusID string   `json:"focus_id,omitempty" yaml:"focus_id,omitempty"`
	Backlog []string `json:"backlog,omitempty" yaml:"backlog,omitempty"`
}

// Manager holds at most one focus id plus a FIFO backlog without duplicates.
type Manager struct {
	mu      sync.Mutex
	lookup  Lookup
	focusID string
	backlog []string
}

// New creates a manager with no focus.
func New(lookup Lookup) *Manager {
	return &Manager{lookup: lookup}
}

// SetFocus makes id the focus task. Backlog membership is not changed.
func (m *Manager) SetFocus(id string) error {
	if !m.lookup.Exists(id) {
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focusID = id
	return nil
}

// Current returns the focus id.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focusID, m.focusID != ""
}

// ClearFocus drops the focus without touching the backlog.
func (m *Manager) ClearFocus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focusID = ""
}

// Enqueue appends id to the backlog. It returns false when id is already
// queued or is the focus.
func (m *Manager) Enqueue(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" || id == m.focusID || m.indexLocked(id) >= 0 {
		return false
	}
	m.backlog = append(m.backlog, id)
	return true
}

// Advance promotes the first backlog task that is still incomplete and
// removes it from the backlog. Complete tasks are skipped and stay in the
// backlog. When nothing qualifies it returns false; a focus task that is
// complete or gone is dropped, an incomplete one is kept.
func (m *Manager) Advance() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.backlog {
		if id == m.focusID || !m.lookup.Exists(id) || m.lookup.IsComplete(id) {
			continue
		}
		m.backlog = append(m.backlog[:i:i], m.backlog[i+1:]...)
		m.focusID = id
		return id, true
	}
	if m.focusID != "" && (!m.lookup.Exists(m.focusID) || m.lookup.IsComplete(m.focusID)) {
		m.focusID = ""
	}
	return "", false
}

// Next reports what Advance would promote without changing anything.
func (m *Manager) Next() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.backlog {
		if id != m.focusID && m.lookup.Exists(id) && !m.lookup.IsComplete(id) {
			return id, true
		}
	}
	return "", false
}

// Backlog returns a copy of the queued ids in order.
func (m *Manager) Backlog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.backlog...)
}

// Forget removes id from focus and backlog.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focusID == id {
		m.focusID = ""
	}
	m.removeLocked(id)
}

// Reset clears focus and backlog.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focusID = ""
	m.backlog = nil
}

// State captures the current focus and backlog.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{FocusID: m.focusID, Backlog: append([]string(nil), m.backlog...)}
}

// Restore loads state, dropping ids the lookup does not know and duplicate
// backlog entries.
func (m *Manager) Restore(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focusID = ""
	if state.FocusID != "" && m.lookup.Exists(state.FocusID) {
		m.focusID = state.FocusID
	}
	seen := map[string]bool{m.focusID: true}
	m.backlog = nil
	for _, id := range state.Backlog {
		if seen[id] || !m.lookup.Exists(id) {
			continue
		}
		seen[id] = true
		m.backlog = append(m.backlog, id)
	}
}

func (m *Manager) indexLocked(id string) int {
	for i, queued := range m.backlog {
		if queued == id {
			return i
		}
	}
	return -1
}

func (m *Manager) removeLocked(id string) {
	if i := m.indexLocked(id); i >= 0 {
		m.backlog = append(m.backlog[:i:i], m.backlog[i+1:]...)
	}
}
