package memory

import (
	"context"
	"sync"
	"time"

	"quiz-resume-service/internal/domain"
)

// ResultStore is an in-memory remote result store. Submissions sharing
// (user, quiz, slug, completedAt) are stored once.
type ResultStore struct {
	mu      sync.RWMutex
	results map[resultKey][]domain.QuizResult
}

type resultKey struct {
	userID string
	quizID string
	slug   string
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[resultKey][]domain.QuizResult)}
}

func (s *ResultStore) SubmitResult(_ context.Context, result domain.QuizResult) error {
	if result.UserID == "" {
		return domain.ErrNotAuthenticated
	}
	key := resultKey{userID: result.UserID, quizID: result.QuizID, slug: result.Slug}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.results[key] {
		if existing.CompletedAt.Equal(result.CompletedAt) {
			return nil
		}
	}
	s.results[key] = append(s.results[key], cloneResult(result))
	return nil
}

// FetchResult returns the most recently completed result.
func (s *ResultStore) FetchResult(_ context.Context, userID, quizID, slug string) (domain.QuizResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.QuizResult
		found  bool
		at     time.Time
	)
	for _, r := range s.results[resultKey{userID: userID, quizID: quizID, slug: slug}] {
		if !found || r.CompletedAt.After(at) {
			latest, at, found = r, r.CompletedAt, true
		}
	}
	if !found {
		return domain.QuizResult{}, domain.ErrResultNotFound
	}
	return cloneResult(latest), nil
}

// Count returns how many distinct results a user has for a quiz.
func (s *ResultStore) Count(userID, quizID, slug string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results[resultKey{userID: userID, quizID: quizID, slug: slug}])
}

func cloneResult(r domain.QuizResult) domain.QuizResult {
	answers := make([]*domain.Answer, len(r.Answers))
	for i, a := range r.Answers {
		if a != nil {
			copied := *a
			answers[i] = &copied
		}
	}
	r.Answers = answers
	return r
}
