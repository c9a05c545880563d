package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"quiz-resume-service/internal/domain"
)

// GatingPolicy lists quiz types whose guest results stay hidden until the
// guest signs in.
type GatingPolicy map[domain.QuizType]bool

// DefaultGatingPolicy gates mcq and fill-blank quizzes.
func DefaultGatingPolicy() GatingPolicy {
	return GatingPolicy{domain.QuizTypeMCQ: true, domain.QuizTypeFillBlank: true}
}

// NewGatingPolicy parses configured quiz type names.
func NewGatingPolicy(types []string) (GatingPolicy, error) {
	policy := make(GatingPolicy, len(types))
	for _, raw := range types {
		t, err := domain.ParseQuizType(raw)
		if err != nil {
			return nil, err
		}
		policy[t] = true
	}
	return policy, nil
}

// Gated reports whether t is gated behind sign-in.
func (p GatingPolicy) Gated(t domain.QuizType) bool {
	return p[t]
}

// Score returns round(100 × correct / answered) over non-empty answers.
func Score(answers []*domain.Answer) int {
	answered, correct := 0, 0
	for _, a := range answers {
		if a == nil {
			continue
		}
		answered++
		if a.IsCorrect {
			correct++
		}
	}
	if answered == 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(answered)))
}

// Complete finishes the attempt. Only one completion runs per attempt: calls
// made while one is in flight, or after the outcome is decided, are dropped
// and return the current snapshot.
func (s *Session) Complete(ctx context.Context, finalAnswers []*domain.Answer, explicitScore *int) (Snapshot, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return Snapshot{}, domain.ErrSessionNotFound
	}
	if s.completionInProgress || s.completed || s.lifecycle != domain.StateIdle {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}

	merged, err := s.mergeAnswersLocked(finalAnswers)
	if err != nil {
		s.lastErr = err.Error()
		snap := s.broadcastLocked()
		s.mu.Unlock()
		return snap, err
	}

	score := Score(merged)
	if explicitScore != nil {
		score = *explicitScore
	}

	s.creditElapsedLocked()
	now := s.deps.Now()
	s.completionInProgress = true
	s.lifecycle = domain.StateCompleting
	s.answers = merged
	s.score = score
	s.completedAt = now.UTC().Truncate(time.Millisecond)
	s.lastErr = ""
	generation := s.generation
	quiz := s.quiz
	result := s.resultLocked(now)
	s.broadcastLocked()
	s.mu.Unlock()

	logger := s.deps.Logger.With(zap.String("quiz_id", quiz.ID), zap.String("quiz_type", string(quiz.Type)))

	var snap Snapshot
	var completeErr error
	if userID, authed := s.deps.Auth.CurrentUser(ctx); authed {
		snap, completeErr = s.completeAuthenticated(ctx, logger, generation, userID, result)
	} else {
		snap, completeErr = s.completeGuest(ctx, logger, generation, result)
	}

	if s.current(generation) {
		if err := s.deps.Relay.Set(ctx, CompletedKey(quiz.ID), "true", ScopeDurable); err != nil {
			logger.Warn("marking quiz completed failed", zap.Error(err))
		}
	}
	return snap, completeErr
}

func (s *Session) completeAuthenticated(ctx context.Context, logger *zap.Logger, generation uint64, userID string, result domain.QuizResult) (Snapshot, error) {
	result.UserID = userID
	submitErr := s.deps.Results.SubmitResult(ctx, result)
	s.deps.Metrics.Submission(submitErr == nil)
	if s.current(generation) {
		if submitErr != nil {
			if err := writeJSON(ctx, s.deps.Relay, UnsavedResultKey(result.QuizID), ScopeDurable, result); err != nil {
				logger.Error("keeping unsaved result failed", zap.Error(err))
			}
		} else {
			deleteKeys(ctx, s.deps.Relay, logger, ScopeDurable, UnsavedResultKey(result.QuizID))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		logger.Info("dropping completion of an abandoned attempt")
		return s.snapshotLocked(), nil
	}
	s.completionInProgress = false
	s.completed = true
	s.authCheckComplete = true
	if submitErr != nil {
		logger.Error("saving result failed", zap.String("user_id", userID), zap.Error(submitErr))
		s.lifecycle = domain.StatePreparingResults
		s.unsaved = &result
		s.lastErr = domain.ErrSaveFailed.Error()
		s.deps.Metrics.Completion("failed", string(result.QuizType))
		return s.broadcastLocked(), fmt.Errorf("%w: %v", domain.ErrSaveFailed, submitErr)
	}
	s.lifecycle = domain.StateShowingResults
	s.unsaved = nil
	s.deps.Metrics.Completion("authenticated", string(result.QuizType))
	logger.Info("quiz completed", zap.String("user_id", userID), zap.Int("score", result.Score))
	return s.broadcastLocked(), nil
}

func (s *Session) completeGuest(ctx context.Context, logger *zap.Logger, generation uint64, result domain.QuizResult) (Snapshot, error) {
	if !s.current(generation) {
		logger.Info("dropping completion of an abandoned attempt")
		return s.Snapshot(), nil
	}
	persistErr := writeJSON(ctx, s.deps.Relay, GuestResultKey(result.QuizID), ScopeDurable, result)
	if persistErr != nil {
		logger.Error("persisting guest result failed", zap.Error(persistErr))
	} else {
		deleteKeys(ctx, s.deps.Relay, logger, ScopeSession, ProgressKey(result.QuizType, result.QuizID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		logger.Info("dropping completion of an abandoned attempt")
		return s.snapshotLocked(), nil
	}
	s.completionInProgress = false
	s.authCheckComplete = true
	s.hasGuestResult = persistErr == nil
	if persistErr != nil {
		s.lastErr = "failed to save results on this device"
	}

	if s.deps.Gating.Gated(result.QuizType) {
		s.requiresAuth = true
		s.pendingAuthRequired = true
		s.lifecycle = domain.StatePreparingResults
		s.deps.Metrics.Completion("guest_gated", string(result.QuizType))
		logger.Info("guest result held until sign-in", zap.Int("score", result.Score))
		return s.broadcastLocked(), nil
	}
	s.completed = true
	s.lifecycle = domain.StateShowingResults
	s.deps.Metrics.Completion("guest_open", string(result.QuizType))
	return s.broadcastLocked(), nil
}

// mergeAnswersLocked pads finalAnswers to the question count, filling empty
// slots from the answers already recorded in memory.
func (s *Session) mergeAnswersLocked(finalAnswers []*domain.Answer) ([]*domain.Answer, error) {
	n := len(s.quiz.Questions)
	if finalAnswers == nil {
		return nil, fmt.Errorf("%w: answers must be an array", domain.ErrInvalidAnswers)
	}
	if len(finalAnswers) > n {
		return nil, fmt.Errorf("%w: %d answers for %d questions", domain.ErrInvalidAnswers, len(finalAnswers), n)
	}

	merged := make([]*domain.Answer, n)
	answered := 0
	for i := 0; i < n; i++ {
		var a *domain.Answer
		if i < len(finalAnswers) && finalAnswers[i] != nil {
			a = finalAnswers[i]
		} else {
			a = s.answers[i]
		}
		if a == nil {
			continue
		}
		copied := *a
		merged[i] = &copied
		answered++
	}
	if answered == 0 {
		return nil, domain.ErrNoAnswersSubmitted
	}
	return merged, nil
}

// current reports whether generation is still the live attempt.
func (s *Session) current(generation uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation == generation
}

func (s *Session) resultLocked(now time.Time) domain.QuizResult {
	answers := make([]*domain.Answer, len(s.answers))
	for i, a := range s.answers {
		if a == nil {
			continue
		}
		copied := *a
		if copied.TimeSpent == 0 {
			copied.TimeSpent = s.timeSpent[i]
		}
		answers[i] = &copied
	}
	return domain.QuizResult{
		QuizID:         s.quiz.ID,
		Slug:           s.quiz.Slug,
		QuizType:       s.quiz.Type,
		Score:          s.score,
		Answers:        answers,
		TotalTime:      now.Sub(s.startTime),
		TotalQuestions: len(s.quiz.Questions),
		CompletedAt:    s.completedAt,
	}
}
