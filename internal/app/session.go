package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-resume-service/internal/domain"
	"quiz-resume-service/internal/metrics"
)

// Deps are the capabilities a Session is built with.
type Deps struct {
	Relay   RelayStore
	Auth    AuthProvider
	Results ResultStore
	Gating  GatingPolicy
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Session owns the progress of one quiz attempt on one device.
type Session struct {
	deps Deps

	mu          sync.RWMutex
	quiz        domain.Quiz
	initialized bool
	// generation changes on every Initialize/Reset so suspended operations
	// can tell that the attempt they started on is gone.
	generation uint64

	currentIndex int
	answers      []*domain.Answer
	timeSpent    []time.Duration
	startTime    time.Time
	lastMove     time.Time

	lifecycle           domain.LifecycleState
	completed           bool
	score               int
	completedAt         time.Time
	requiresAuth        bool
	hasGuestResult      bool
	authCheckComplete   bool
	pendingAuthRequired bool

	completionInProgress bool
	reconciling          bool
	reconcileState       ReconcileState
	// unsaved is a result an authenticated submit failed to store.
	unsaved *domain.QuizResult
	lastErr string

	subscribers map[chan Snapshot]struct{}
}

// NewSession builds an uninitialized session.
func NewSession(deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gating == nil {
		deps.Gating = DefaultGatingPolicy()
	}
	return &Session{
		deps:           deps,
		lifecycle:      domain.StateIdle,
		reconcileState: ReconcileIdle,
		subscribers:    make(map[chan Snapshot]struct{}),
	}
}

// Snapshot is the read model handed to the question-rendering UI.
type Snapshot struct {
	QuizID               string                `json:"quizId"`
	Slug                 string                `json:"slug"`
	QuizType             domain.QuizType       `json:"quizType"`
	Questions            []domain.Question     `json:"questions"`
	QuestionCount        int                   `json:"questionCount"`
	CurrentQuestionIndex int                   `json:"currentQuestionIndex"`
	Answers              []*domain.Answer      `json:"answers"`
	TimeSpentPerQuestion []time.Duration       `json:"-"`
	LifecycleState       domain.LifecycleState `json:"lifecycleState"`
	IsCompleted          bool                  `json:"isCompleted"`
	Score                *int                  `json:"score,omitempty"`
	RequiresAuth         bool                  `json:"requiresAuth"`
	HasGuestResult       bool                  `json:"hasGuestResult"`
	AuthCheckComplete    bool                  `json:"authCheckComplete"`
	PendingAuthRequired  bool                  `json:"pendingAuthRequired"`
	CompletionInProgress bool                  `json:"completionInProgress"`
	ReconcileState       ReconcileState        `json:"reconcileState"`
	StartTime            time.Time             `json:"startTime"`
	Error                *string               `json:"error"`
}

// MarshalJSON encodes TimeSpentPerQuestion in milliseconds, matching what
// clients send.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	return json.Marshal(struct {
		plain
		TimeSpentPerQuestionMS []int64 `json:"timeSpentPerQuestionMs"`
	}{plain(s), domain.DurationsToMillis(s.TimeSpentPerQuestion)})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type plain Snapshot
	aux := struct {
		*plain
		TimeSpentPerQuestionMS []int64 `json:"timeSpentPerQuestionMs"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.TimeSpentPerQuestion = domain.MillisToDurations(aux.TimeSpentPerQuestionMS)
	return nil
}

type progressSnapshot struct {
	CurrentQuestionIndex int              `json:"currentQuestionIndex"`
	Answers              []*domain.Answer `json:"answers"`
	TimeSpentPerQuestion []time.Duration  `json:"timeSpentPerQuestion"`
	SavedAt              time.Time        `json:"savedAt"`
}

// Initialize starts a fresh attempt. A durable completed marker for the quiz
// turns initialization into a result lookup instead.
func (s *Session) Initialize(ctx context.Context, quiz domain.Quiz) (Snapshot, error) {
	if quiz.ID == "" {
		return Snapshot{}, domain.ErrQuizIDMissing
	}
	if len(quiz.Questions) == 0 {
		return Snapshot{}, domain.ErrNoQuestions
	}
	if _, err := domain.ParseQuizType(string(quiz.Type)); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	s.quiz = quiz
	s.initialized = true
	s.resetLocked()
	s.mu.Unlock()

	s.restoreCompleted(ctx)

	s.mu.Lock()
	s.authCheckComplete = true
	snap := s.broadcastLocked()
	s.mu.Unlock()
	return snap, nil
}

// restoreCompleted hydrates the session from a previous completion on this
// device. Every failure path falls back to the fresh attempt.
func (s *Session) restoreCompleted(ctx context.Context) {
	quizID := s.quizID()
	logger := s.deps.Logger.With(zap.String("quiz_id", quizID))

	marker, ok, err := s.deps.Relay.Get(ctx, CompletedKey(quizID), ScopeDurable)
	if err != nil {
		logger.Warn("completed marker read failed", zap.Error(err))
		return
	}
	if !ok || marker != "true" {
		return
	}

	if userID, authed := s.deps.Auth.CurrentUser(ctx); authed {
		result, err := s.deps.Results.FetchResult(ctx, userID, quizID, s.slug())
		switch {
		case err == nil && result.AnsweredCount() > 0:
			s.mu.Lock()
			s.applyCanonicalLocked(result)
			s.mu.Unlock()
			return
		case err != nil && !errors.Is(err, domain.ErrResultNotFound):
			logger.Warn("fetching saved result failed", zap.Error(err))
			return
		}
		if s.loadUnsavedResult(ctx, userID) {
			return
		}
		// Signed in but nothing saved yet; a guest copy may still be waiting
		// for reconciliation, which is what the gated view shows meanwhile.
	}

	if s.loadGuestResult(ctx) {
		return
	}
	if _, ok, _ := s.deps.Relay.Get(ctx, UnsavedResultKey(quizID), ScopeDurable); ok {
		// The owner of an unsaved result is signed out; keep the marker so the
		// result comes back once they sign in again.
		return
	}
	deleteKeys(ctx, s.deps.Relay, logger, ScopeDurable, CompletedKey(quizID))
}

// loadUnsavedResult hydrates a completed attempt whose save failed, so it can
// be retried instead of answered again.
func (s *Session) loadUnsavedResult(ctx context.Context, userID string) bool {
	var result domain.QuizResult
	if !readJSON(ctx, s.deps.Relay, s.deps.Logger, UnsavedResultKey(s.quizID()), ScopeDurable, &result) {
		return false
	}
	if result.QuizID != s.quizID() || result.UserID != userID || result.AnsweredCount() == 0 {
		return false
	}
	s.mu.Lock()
	s.applyAnswersLocked(result)
	s.completed = true
	s.lifecycle = domain.StatePreparingResults
	s.unsaved = &result
	s.lastErr = domain.ErrSaveFailed.Error()
	s.broadcastLocked()
	s.mu.Unlock()
	return true
}

// loadGuestResult hydrates from the durable guest copy, reporting whether one
// was found.
func (s *Session) loadGuestResult(ctx context.Context) bool {
	var result domain.QuizResult
	if !readJSON(ctx, s.deps.Relay, s.deps.Logger, GuestResultKey(s.quizID()), ScopeDurable, &result) {
		return false
	}
	if result.QuizID != s.quizID() || result.AnsweredCount() == 0 {
		s.deps.Logger.Warn("ignoring mismatched guest result", zap.String("quiz_id", s.quizID()))
		return false
	}
	s.mu.Lock()
	s.applyGuestLocked(result)
	s.broadcastLocked()
	s.mu.Unlock()
	return true
}

// ResumeProgress restores an in-progress guest attempt saved in session
// scope. It reports whether anything was restored.
func (s *Session) ResumeProgress(ctx context.Context) (Snapshot, bool, error) {
	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return Snapshot{}, false, domain.ErrSessionNotFound
	}
	key := ProgressKey(s.quiz.Type, s.quiz.ID)
	n := len(s.quiz.Questions)
	s.mu.RUnlock()

	var progress progressSnapshot
	if !readJSON(ctx, s.deps.Relay, s.deps.Logger, key, ScopeSession, &progress) {
		return s.Snapshot(), false, nil
	}
	if len(progress.Answers) != n || len(progress.TimeSpentPerQuestion) != n ||
		progress.CurrentQuestionIndex < 0 || progress.CurrentQuestionIndex >= n {
		s.deps.Logger.Warn("ignoring progress snapshot of a different shape", zap.String("key", key))
		return s.Snapshot(), false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != domain.StateIdle || s.completionInProgress {
		return s.snapshotLocked(), false, domain.ErrSessionLocked
	}
	s.answers = progress.Answers
	s.timeSpent = progress.TimeSpentPerQuestion
	s.currentIndex = progress.CurrentQuestionIndex
	s.lastMove = s.deps.Now()
	return s.broadcastLocked(), true, nil
}

// RecordAnswer writes answer into slot index without moving the cursor.
func (s *Session) RecordAnswer(ctx context.Context, index int, answer domain.Answer) (Snapshot, error) {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	if index < 0 || index >= len(s.answers) {
		err := fmt.Errorf("%w: %d not in [0, %d)", domain.ErrIndexOutOfRange, index, len(s.answers))
		s.lastErr = err.Error()
		snap := s.broadcastLocked()
		s.mu.Unlock()
		return snap, err
	}
	stored := answer
	s.answers[index] = &stored
	s.lastErr = ""
	progress := s.progressLocked()
	snap := s.broadcastLocked()
	s.mu.Unlock()

	s.saveProgress(ctx, progress)
	return snap, nil
}

// Advance moves the cursor by delta, clamped to the quiz, after crediting the
// time spent on the current question.
func (s *Session) Advance(ctx context.Context, delta int) (Snapshot, error) {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	s.creditElapsedLocked()
	next := s.currentIndex + delta
	if next < 0 {
		next = 0
	}
	if last := len(s.answers) - 1; next > last {
		next = last
	}
	s.currentIndex = next
	progress := s.progressLocked()
	snap := s.broadcastLocked()
	s.mu.Unlock()

	s.saveProgress(ctx, progress)
	return snap, nil
}

// Reset abandons the attempt and clears this quiz's transient relay keys.
// Results already stored remotely are left alone.
func (s *Session) Reset(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return Snapshot{}, domain.ErrSessionNotFound
	}
	s.resetLocked()
	quiz := s.quiz
	snap := s.broadcastLocked()
	s.mu.Unlock()

	logger := s.deps.Logger.With(zap.String("quiz_id", quiz.ID))
	deleteKeys(ctx, s.deps.Relay, logger, ScopeDurable, CompletedKey(quiz.ID), GuestResultKey(quiz.ID), UnsavedResultKey(quiz.ID))
	deleteKeys(ctx, s.deps.Relay, logger, ScopeSession, ProgressKey(quiz.Type, quiz.ID))

	var packet domain.PendingRedirectPacket
	hasPacket := readJSON(ctx, s.deps.Relay, logger, keyPendingPacket, ScopeDurable, &packet)
	if !hasPacket || packet.QuizID == quiz.ID {
		deleteKeys(ctx, s.deps.Relay, logger, ScopeDurable, keyPendingPacket, keyAuthRedirect, keyInAuthFlow)
	}
	return snap, nil
}

// Snapshot returns the current read model.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel of snapshots, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.snapshotLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// IsIdle reports whether nothing is watching or working on the session, so
// a store may drop it and rebuild it from the relay store later.
func (s *Session) IsIdle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers) == 0 && !s.completionInProgress && !s.reconciling
}

func (s *Session) resetLocked() {
	n := len(s.quiz.Questions)
	now := s.deps.Now()
	s.generation++
	s.currentIndex = 0
	s.answers = make([]*domain.Answer, n)
	s.timeSpent = make([]time.Duration, n)
	s.startTime = now
	s.lastMove = now
	s.lifecycle = domain.StateIdle
	s.completed = false
	s.score = 0
	s.completedAt = time.Time{}
	s.requiresAuth = false
	s.hasGuestResult = false
	s.pendingAuthRequired = false
	s.completionInProgress = false
	s.reconcileState = ReconcileIdle
	s.unsaved = nil
	s.lastErr = ""
}

func (s *Session) editableLocked() error {
	if !s.initialized {
		return domain.ErrSessionNotFound
	}
	if s.completionInProgress || s.completed || s.lifecycle != domain.StateIdle {
		return domain.ErrSessionLocked
	}
	return nil
}

func (s *Session) creditElapsedLocked() {
	now := s.deps.Now()
	if elapsed := now.Sub(s.lastMove); elapsed > 0 && s.currentIndex < len(s.timeSpent) {
		s.timeSpent[s.currentIndex] += elapsed
	}
	s.lastMove = now
}

// progressLocked copies the state saveProgress persists.
func (s *Session) progressLocked() *progressSnapshot {
	return &progressSnapshot{
		CurrentQuestionIndex: s.currentIndex,
		Answers:              append([]*domain.Answer(nil), s.answers...),
		TimeSpentPerQuestion: append([]time.Duration(nil), s.timeSpent...),
		SavedAt:              s.deps.Now(),
	}
}

func (s *Session) saveProgress(ctx context.Context, progress *progressSnapshot) {
	if progress == nil {
		return
	}
	if _, authed := s.deps.Auth.CurrentUser(ctx); authed {
		return
	}
	key := ProgressKey(s.quizType(), s.quizID())
	if err := writeJSON(ctx, s.deps.Relay, key, ScopeSession, progress); err != nil {
		s.deps.Logger.Warn("saving progress snapshot failed", zap.String("key", key), zap.Error(err))
	}
}

// applyCanonicalLocked hydrates the session with an authoritative result.
func (s *Session) applyCanonicalLocked(result domain.QuizResult) {
	s.applyAnswersLocked(result)
	s.completed = true
	s.lifecycle = domain.StateShowingResults
	s.requiresAuth = false
	s.pendingAuthRequired = false
	s.hasGuestResult = false
	s.unsaved = nil
	s.lastErr = ""
}

// applyGuestLocked hydrates the session with a locally produced result,
// keeping gated quiz types hidden.
func (s *Session) applyGuestLocked(result domain.QuizResult) {
	s.applyAnswersLocked(result)
	s.hasGuestResult = true
	if s.deps.Gating.Gated(s.quiz.Type) {
		s.completed = false
		s.requiresAuth = true
		s.pendingAuthRequired = true
		s.lifecycle = domain.StatePreparingResults
		return
	}
	s.completed = true
	s.lifecycle = domain.StateShowingResults
}

func (s *Session) applyAnswersLocked(result domain.QuizResult) {
	n := len(s.quiz.Questions)
	s.answers = make([]*domain.Answer, n)
	s.timeSpent = make([]time.Duration, n)
	for i := 0; i < n && i < len(result.Answers); i++ {
		if a := result.Answers[i]; a != nil {
			stored := *a
			s.answers[i] = &stored
			s.timeSpent[i] = a.TimeSpent
		}
	}
	s.score = result.Score
	s.completedAt = result.CompletedAt
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *Session) quizID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quiz.ID
}

func (s *Session) slug() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quiz.Slug
}

func (s *Session) quizType() domain.QuizType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quiz.Type
}

func (s *Session) broadcastLocked() Snapshot {
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Slow subscriber: replace its oldest pending snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	return snap
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		QuizID:               s.quiz.ID,
		Slug:                 s.quiz.Slug,
		QuizType:             s.quiz.Type,
		Questions:            publicQuestions(s.quiz.Questions),
		QuestionCount:        len(s.quiz.Questions),
		CurrentQuestionIndex: s.currentIndex,
		Answers:              make([]*domain.Answer, len(s.answers)),
		TimeSpentPerQuestion: append([]time.Duration(nil), s.timeSpent...),
		LifecycleState:       s.lifecycle,
		IsCompleted:          s.completed,
		RequiresAuth:         s.requiresAuth,
		HasGuestResult:       s.hasGuestResult,
		AuthCheckComplete:    s.authCheckComplete,
		PendingAuthRequired:  s.pendingAuthRequired,
		CompletionInProgress: s.completionInProgress,
		ReconcileState:       s.reconcileState,
		StartTime:            s.startTime,
	}
	for i, a := range s.answers {
		if a != nil {
			copied := *a
			snap.Answers[i] = &copied
		}
	}
	if s.completed {
		score := s.score
		snap.Score = &score
	}
	if s.lastErr != "" {
		msg := s.lastErr
		snap.Error = &msg
	}
	return snap
}

// publicQuestions strips answer keys before questions leave the service.
func publicQuestions(questions []domain.Question) []domain.Question {
	out := make([]domain.Question, len(questions))
	for i, q := range questions {
		out[i] = domain.Question{ID: q.ID, Prompt: q.Prompt}
		if len(q.Options) > 0 {
			out[i].Options = make([]domain.Option, len(q.Options))
			for j, o := range q.Options {
				out[i].Options[j] = domain.Option{ID: o.ID, Text: o.Text}
			}
		}
	}
	return out
}
