package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-resume-service/internal/app"
)

// SessionStore is a Redis-aware implementation of SessionRepository.
// Notes:
//   - Live sessions stay in a local map; their durable state already lives in
//     the relay store, so an instance that never saw a session rebuilds it
//     from there on the next start request.
//   - Redis marks session liveness with a TTL that every lookup refreshes.
//     Sweep drops idle sessions whose marker expired.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(key string, create func() *app.Session) *app.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[key]; ok {
		s.touch(key)
		return session
	}
	session := create()
	s.sessions[key] = session
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(key), "1", s.ttl).Err()
	return session
}

func (s *SessionStore) Get(key string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	if ok {
		s.touch(key)
	}
	return session, ok
}

func (s *SessionStore) Sweep(ctx context.Context, _ time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, session := range s.sessions {
		if !session.IsIdle() {
			continue
		}
		n, err := s.client.Exists(ctx, s.key(key)).Result()
		if err != nil || n > 0 {
			continue
		}
		delete(s.sessions, key)
		evicted++
	}
	return evicted
}

func (s *SessionStore) touch(key string) {
	if s.ttl > 0 {
		_ = s.client.Expire(context.Background(), s.key(key), s.ttl).Err()
	}
}

func (s *SessionStore) key(key string) string {
	return "quiz:session:" + key
}
