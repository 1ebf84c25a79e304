package themes

import (
	"sync"

	"github.com/jonathan/support-triage/internal/types"
)

// Session is the run-scoped signature cache shared by concurrent extraction
// tasks. Every read-modify-write sequence holds the single mutex; snapshot
// reads copy under the lock and release before any downstream work.
type Session struct {
	mu     sync.Mutex
	themes map[string]*types.Theme
}

// NewSession creates an empty session cache
func NewSession() *Session {
	return &Session{themes: make(map[string]*types.Theme)}
}

// Add records an occurrence of signature for conversation convID.
// The first caller for a signature creates the entry and gets isNew=true;
// concurrent callers with the same signature update the same entry exactly
// once each. Returns a copy of the entry's state after the update.
func (s *Session) Add(signature, label, convID string) (types.Theme, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.themes[signature]
	if !ok {
		theme := &types.Theme{
			Signature: signature,
			Label:     label,
			FirstSeen: convID,
			LastSeen:  convID,
			Count:     1,
		}
		s.themes[signature] = theme
		return *theme, true
	}

	existing.Count++
	existing.LastSeen = convID
	if existing.Label == "" {
		existing.Label = label
	}
	return *existing, false
}

// Get returns a copy of the entry for signature, if present.
func (s *Session) Get(signature string) (types.Theme, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	theme, ok := s.themes[signature]
	if !ok {
		return types.Theme{}, false
	}
	return *theme, true
}

// Snapshot returns a copy of all entries. The lock is released before the
// caller does anything with the result.
func (s *Session) Snapshot() []types.Theme {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Theme, 0, len(s.themes))
	for _, theme := range s.themes {
		out = append(out, *theme)
	}
	return out
}

// Len returns the number of distinct signatures seen so far.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.themes)
}

// Clear empties the cache.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.themes = make(map[string]*types.Theme)
}
