package checkout

import (
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/checkout-settlement/internal/obs"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("checkout: session not found")

// Store keeps sessions in memory. Sessions own running conversion goroutines
// so they are not serialisable.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Put adds or replaces s.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	st.sessions[s.ID()] = s
	n := len(st.sessions)
	st.mu.Unlock()
	setActive(n)
}

// Get returns the session with id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete drops the session with id.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	n := len(st.sessions)
	st.mu.Unlock()
	setActive(n)
}

// Len reports the number of sessions held.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep drops sessions untouched for longer than maxAge and returns how many it removed.
func (st *Store) Sweep(now time.Time, maxAge time.Duration) int {
	st.mu.Lock()
	removed := 0
	for id, s := range st.sessions {
		if now.Sub(s.LastTouched()) > maxAge {
			delete(st.sessions, id)
			removed++
		}
	}
	n := len(st.sessions)
	st.mu.Unlock()
	setActive(n)
	return removed
}

func setActive(n int) {
	if obs.ActiveSessions != nil {
		obs.ActiveSessions.Set(float64(n))
	}
}
