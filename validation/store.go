package validation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/torquesign/models"
)

// session is the mutable record behind a Session. mu serializes appends and
// the close transition; spec never changes after creation.
type session struct {
	mu      sync.Mutex
	id      string
	spec    models.Specification
	active  bool
	start   time.Time
	end     *time.Time
	results []Result
}

func (s *session) snapshot(withResults bool) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Session{
		ID:            s.id,
		Specification: s.spec,
		Active:        s.active,
		StartTime:     s.start,
		Results:       []Result{},
	}
	if s.end != nil {
		end := *s.end
		out.EndTime = &end
	}
	if withResults {
		out.Results = cloneResults(s.results)
	}
	return out
}

// SessionStore is the concurrency-safe set of sessions owned by an Engine.
// Lookups take a read lock on the map only; work on one session never blocks
// another.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session)}
}

func (s *SessionStore) add(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.id]; exists {
		return fmt.Errorf("session %s: %w", sess.id, ErrSessionExists)
	}
	s.sessions[sess.id] = sess
	return nil
}

func (s *SessionStore) get(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

// all returns sessions ordered by start time, then id
func (s *SessionStore) all() []*session {
	s.mu.RLock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].start.Equal(out[j].start) {
			return out[i].id < out[j].id
		}
		return out[i].start.Before(out[j].start)
	})
	return out
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
