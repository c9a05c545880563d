package memory

import (
	"context"
	"sync"
	"time"

	"quiz-resume-service/internal/app"
)

type sessionEntry struct {
	session  *app.Session
	lastSeen time.Time
}

// SessionStore is an in-memory implementation of app.SessionRepository.
// Sessions unused for ttl are dropped by Sweep once idle; ttl <= 0 keeps
// them forever.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*sessionEntry
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[string]*sessionEntry),
	}
}

func (s *SessionStore) GetOrCreate(key string, create func() *app.Session) *app.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[key]; ok {
		entry.lastSeen = time.Now()
		return entry.session
	}
	session := create()
	s.sessions[key] = &sessionEntry{session: session, lastSeen: time.Now()}
	return session
}

func (s *SessionStore) Get(key string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	entry.lastSeen = time.Now()
	return entry.session, true
}

func (s *SessionStore) Sweep(_ context.Context, now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, entry := range s.sessions {
		if now.Sub(entry.lastSeen) < s.ttl || !entry.session.IsIdle() {
			continue
		}
		delete(s.sessions, key)
		evicted++
	}
	return evicted
}

// Len reports how many sessions are live.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
