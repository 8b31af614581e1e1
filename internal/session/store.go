package session

import (
	"errors"
	"sync"
	"time"
)

// DefaultRetention is how long a terminal session stays addressable so the
// debrief can still be served.
const DefaultRetention = 5 * time.Minute

// ErrNotFound is returned when a session id is unknown or already purged.
var ErrNotFound = errors.New("session: not found")

// Store is the process-global registry of active and recently-ended
// sessions. Insert, lookup and delete are serialized; the sessions
// themselves guard their own state.
type Store struct {
	retention time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	purges   map[string]*time.Timer
}

// NewStore creates a store. retention <= 0 selects [DefaultRetention].
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		retention: retention,
		sessions:  make(map[string]*Session),
		purges:    make(map[string]*time.Timer),
	}
}

// Put registers a session.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Get returns the session for id, or [ErrNotFound].
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of addressable sessions, including terminal ones
// still in their retention window.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Active returns the number of non-terminal sessions.
func (st *Store) Active() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	n := 0
	for _, s := range st.sessions {
		if !s.Terminal() {
			n++
		}
	}
	return n
}

// SchedulePurge arranges for the session to be removed after the retention
// window. Scheduling is idempotent: only the first call per session arms the
// timer, so a session is purged exactly once no matter how many terminal
// status callbacks arrive.
func (st *Store) SchedulePurge(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return
	}
	if _, armed := st.purges[id]; armed {
		return
	}
	st.purges[id] = time.AfterFunc(st.retention, func() {
		st.purge(id)
	})
}

func (st *Store) purge(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
	delete(st.purges, id)
}

// Close stops all pending purge timers. Sessions remain in the map; Close is
// only used on process shutdown.
func (st *Store) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, t := range st.purges {
		t.Stop()
		delete(st.purges, id)
	}
}
