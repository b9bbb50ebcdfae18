package session

import (
	"fmt"
	"sort"
	"sync"
)

// Store is an in-memory registry of sessions. Records are mutable through
// Update until frozen; a frozen record rejects all further mutation with
// InvalidStateError. The coordinator freezes a session once it reaches a
// terminal state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	frozen   map[string]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		frozen:   make(map[string]struct{}),
	}
}

// Put registers a new session. Ids must be unique.
func (s *Store) Put(sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a copy of the session, or ErrNotFound.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, ErrNotFound)
	}
	return sess.Clone(), nil
}

// List returns copies of all sessions, newest id first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Update applies fn to the stored session under the write lock. Updating
// a frozen session fails with InvalidStateError; fn errors are returned
// with the record left as fn produced it only on success.
func (s *Store) Update(id string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("update session %s: %w", id, ErrNotFound)
	}
	if _, frozen := s.frozen[id]; frozen {
		return &InvalidStateError{SessionID: id, State: sess.State, Op: "update frozen session"}
	}

	work := sess.Clone()
	if err := fn(work); err != nil {
		return err
	}
	s.sessions[id] = work
	return nil
}

// Freeze makes the session immutable. Freezing twice is an error.
func (s *Store) Freeze(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("freeze session %s: %w", id, ErrNotFound)
	}
	if _, frozen := s.frozen[id]; frozen {
		return &InvalidStateError{SessionID: id, State: sess.State, Op: "freeze frozen session"}
	}
	s.frozen[id] = struct{}{}
	return nil
}

// Frozen reports whether the session is frozen.
func (s *Store) Frozen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, frozen := s.frozen[id]
	return frozen
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
