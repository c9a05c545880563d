package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"quiz-resume-service/internal/domain"
	"quiz-resume-service/internal/metrics"
)

// ServiceOptions wires a QuizService.
type ServiceOptions struct {
	Sessions    SessionRepository
	Quizzes     QuizRepository
	Relays      RelayFactory
	Auth        AuthProvider
	Results     ResultStore
	Gating      GatingPolicy
	Reconciler  *Reconciler
	Coordinator *Coordinator
	Logger      *zap.Logger
	Metrics     *metrics.Recorder
	Now         func() time.Time
}

// QuizService routes device-scoped requests to their sessions.
type QuizService struct {
	opts ServiceOptions
}

func NewQuizService(opts ServiceOptions) *QuizService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reconciler == nil {
		opts.Reconciler = NewReconciler(ReconcilerOptions{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Coordinator == nil {
		opts.Coordinator = NewCoordinator(DefaultReturnMarker, opts.Logger)
	}
	return &QuizService{opts: opts}
}

// AnswerInput is an answer as submitted by the UI. IsCorrect is only trusted
// for questions the service cannot grade itself.
type AnswerInput struct {
	Value      string
	TimeSpent  time.Duration
	IsCorrect  bool
	Similarity *float64
}

// Start loads the quiz and initializes the device's session for it.
func (q *QuizService) Start(ctx context.Context, deviceID, quizID string) (Snapshot, error) {
	if strings.TrimSpace(quizID) == "" {
		return Snapshot{}, domain.ErrQuizIDMissing
	}
	quiz, err := q.opts.Quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Snapshot{}, err
	}
	session := q.opts.Sessions.GetOrCreate(sessionKey(deviceID, quizID), func() *Session {
		return NewSession(Deps{
			Relay:   q.opts.Relays.Device(deviceID),
			Auth:    q.opts.Auth,
			Results: q.opts.Results,
			Gating:  q.opts.Gating,
			Logger:  q.opts.Logger.With(zap.String("device_id", deviceID)),
			Metrics: q.opts.Metrics,
			Now:     q.opts.Now,
		})
	})
	return session.Initialize(ctx, quiz)
}

// Session returns the live session of a device for a quiz.
func (q *QuizService) Session(deviceID, quizID string) (*Session, error) {
	session, ok := q.opts.Sessions.Get(sessionKey(deviceID, quizID))
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (q *QuizService) ResumeProgress(ctx context.Context, deviceID, quizID string) (Snapshot, bool, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return Snapshot{}, false, err
	}
	return session.ResumeProgress(ctx)
}

// RecordAnswer grades the answer against the quiz when possible and records it.
func (q *QuizService) RecordAnswer(ctx context.Context, deviceID, quizID string, index int, input AnswerInput) (Snapshot, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return Snapshot{}, err
	}
	answer := domain.Answer{
		Value:      input.Value,
		TimeSpent:  input.TimeSpent,
		IsCorrect:  input.IsCorrect,
		Similarity: input.Similarity,
	}
	quiz, err := q.opts.Quizzes.GetQuiz(ctx, quizID)
	if err == nil && index >= 0 && index < len(quiz.Questions) {
		if correct, graded := gradeAnswer(quiz.Type, quiz.Questions[index], input.Value); graded {
			answer.IsCorrect = correct
		}
	}
	return session.RecordAnswer(ctx, index, answer)
}

func (q *QuizService) Advance(ctx context.Context, deviceID, quizID string, delta int) (Snapshot, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return Snapshot{}, err
	}
	return session.Advance(ctx, delta)
}

func (q *QuizService) Complete(ctx context.Context, deviceID, quizID string, finalAnswers []*domain.Answer, explicitScore *int) (Snapshot, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return Snapshot{}, err
	}
	if quiz, err := q.opts.Quizzes.GetQuiz(ctx, quizID); err == nil {
		finalAnswers = gradeAnswers(quiz, finalAnswers)
	}
	return session.Complete(ctx, finalAnswers, explicitScore)
}

// gradeAnswers returns copies of answers regraded against the quiz wherever
// a key exists, so Complete scores the same way RecordAnswer does.
func gradeAnswers(quiz domain.Quiz, answers []*domain.Answer) []*domain.Answer {
	if answers == nil {
		return nil
	}
	graded := make([]*domain.Answer, len(answers))
	for i, a := range answers {
		if a == nil {
			continue
		}
		copied := *a
		if i < len(quiz.Questions) {
			if correct, ok := gradeAnswer(quiz.Type, quiz.Questions[i], a.Value); ok {
				copied.IsCorrect = correct
			}
		}
		graded[i] = &copied
	}
	return graded
}

func (q *QuizService) Reset(ctx context.Context, deviceID, quizID string) (Snapshot, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return Snapshot{}, err
	}
	return session.Reset(ctx)
}

// RequireAuthentication returns the sign-in location, or "" when the user is
// already signed in.
func (q *QuizService) RequireAuthentication(ctx context.Context, deviceID, quizID, redirectPath string) (string, Snapshot, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return "", Snapshot{}, err
	}
	location, err := q.opts.Coordinator.RequireAuthentication(ctx, session, redirectPath)
	return location, session.Snapshot(), err
}

// ReturnFromAuth handles the first request after sign-in. A device without a
// live session (a fresh page load) is initialized first.
func (q *QuizService) ReturnFromAuth(ctx context.Context, deviceID, quizID, navigationURL string) (ReconcileOutcome, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		if _, err := q.Start(ctx, deviceID, quizID); err != nil {
			return ReconcileOutcome{}, err
		}
		if session, err = q.Session(deviceID, quizID); err != nil {
			return ReconcileOutcome{}, err
		}
	}
	return q.opts.Reconciler.Resume(ctx, session, navigationURL), nil
}

func (q *QuizService) RetryLoadingResults(ctx context.Context, deviceID, quizID string) (ReconcileOutcome, error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	return q.opts.Reconciler.RetryLoadingResults(ctx, session), nil
}

// Subscribe returns a channel that receives session snapshots.
// The caller must invoke the returned cancel function to avoid leaks.
func (q *QuizService) Subscribe(_ context.Context, deviceID, quizID string) (<-chan Snapshot, func(), error) {
	session, err := q.Session(deviceID, quizID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// RunSweeper drops idle sessions every interval until ctx is done. Dropped
// sessions are rebuilt from the relay store on the device's next start.
func (q *QuizService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := q.opts.Sessions.Sweep(ctx, now); n > 0 {
				q.opts.Logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func sessionKey(deviceID, quizID string) string {
	return deviceID + ":" + quizID
}

// gradeAnswer checks value against the question's key. It reports graded=false
// when the question carries no key for the quiz type.
func gradeAnswer(quizType domain.QuizType, question domain.Question, value string) (correct, graded bool) {
	value = strings.TrimSpace(value)
	switch quizType {
	case domain.QuizTypeMCQ:
		if len(question.Options) == 0 {
			return false, false
		}
		for _, opt := range question.Options {
			if opt.ID == value || strings.EqualFold(opt.Text, value) {
				return opt.Correct, true
			}
		}
		return false, true
	case domain.QuizTypeFillBlank:
		if question.Answer == "" {
			return false, false
		}
		return strings.EqualFold(strings.TrimSpace(question.Answer), value), true
	}
	return false, false
}
