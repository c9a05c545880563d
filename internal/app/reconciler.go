package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quiz-resume-service/internal/domain"
	"quiz-resume-service/internal/metrics"
)

// ReconcileState is the position of a session in the return-from-auth flow.
type ReconcileState string

const (
	ReconcileIdle      ReconcileState = "idle"
	ReconcileDetecting ReconcileState = "detecting-return"
	ReconcileMigrating ReconcileState = "migrating-guest-result"
	ReconcileFetching  ReconcileState = "fetching-canonical"
	ReconcileDone      ReconcileState = "done"
	ReconcileFailed    ReconcileState = "failed"
)

// ReconcileOutcome reports what a reconciliation run did.
type ReconcileOutcome struct {
	State ReconcileState `json:"state"`
	// Triggered is false when the request was not a return from sign-in.
	Triggered bool `json:"triggered"`
	// GenuineReturn is true when the device had an auth redirect in flight.
	GenuineReturn bool   `json:"genuineReturn"`
	Migrated      bool   `json:"migrated"`
	Warning       string `json:"warning,omitempty"`
	Error         string `json:"error,omitempty"`
	// CleanURL is the navigation target with the return marker removed.
	CleanURL string   `json:"cleanUrl,omitempty"`
	Session  Snapshot `json:"session"`

	Err error `json:"-"`
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	ReturnMarker   string
	SubmitAttempts int
	RetryInterval  time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Recorder
}

// Reconciler moves a guest result into the remote store after sign-in and
// then loads the canonical result.
//
// Submissions may repeat (a stale guest copy left by an interrupted cleanup,
// or a retry after a lost response); result stores de-duplicate on
// (user, quiz, slug, completedAt), so the reconciler never checks for
// existence before submitting.
type Reconciler struct {
	marker   string
	attempts int
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Recorder
	fetches  singleflight.Group
}

func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.ReturnMarker == "" {
		opts.ReturnMarker = DefaultReturnMarker
	}
	if opts.SubmitAttempts <= 0 {
		opts.SubmitAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reconciler{
		marker:   opts.ReturnMarker,
		attempts: opts.SubmitAttempts,
		interval: opts.RetryInterval,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Resume runs the flow when navigationURL carries the return marker and the
// user is signed in. A marked navigation without a signed-in user leaves the
// session on the guest-gated path and the URL untouched.
func (r *Reconciler) Resume(ctx context.Context, s *Session, navigationURL string) ReconcileOutcome {
	if !HasReturnMarker(navigationURL, r.marker) {
		return ReconcileOutcome{State: ReconcileIdle, CleanURL: navigationURL, Session: s.Snapshot()}
	}

	userID, authed := s.deps.Auth.CurrentUser(ctx)
	if !authed {
		r.logger.Info("return marker without a signed-in user", zap.String("quiz_id", s.quizID()))
		s.mu.RLock()
		hydrated := s.hasGuestResult || s.completed
		s.mu.RUnlock()
		if !hydrated {
			s.loadGuestResult(ctx)
		}
		return ReconcileOutcome{State: ReconcileIdle, CleanURL: navigationURL, Session: s.Snapshot()}
	}

	out := r.run(ctx, s, userID)
	out.CleanURL = StripReturnMarker(navigationURL, r.marker)
	return out
}

// RetryLoadingResults re-enters the flow without a navigation marker, first
// re-submitting a result whose authenticated save failed.
func (r *Reconciler) RetryLoadingResults(ctx context.Context, s *Session) ReconcileOutcome {
	userID, authed := s.deps.Auth.CurrentUser(ctx)
	if !authed {
		return ReconcileOutcome{
			State:   ReconcileIdle,
			Error:   domain.ErrNotAuthenticated.Error(),
			Err:     domain.ErrNotAuthenticated,
			Session: s.Snapshot(),
		}
	}

	s.mu.RLock()
	unsaved := s.unsaved
	s.mu.RUnlock()
	if unsaved != nil {
		result := *unsaved
		result.UserID = userID
		if err := r.submit(ctx, s, result); err != nil {
			err = fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
			s.setError(domain.ErrSaveFailed.Error())
			r.metrics.Reconciliation(string(ReconcileFailed))
			return ReconcileOutcome{State: ReconcileFailed, Triggered: true, Error: err.Error(), Err: err, Session: s.Snapshot()}
		}
		s.mu.Lock()
		s.unsaved = nil
		s.mu.Unlock()
		deleteKeys(ctx, s.deps.Relay, r.logger, ScopeDurable, UnsavedResultKey(result.QuizID))
	}
	return r.run(ctx, s, userID)
}

func (r *Reconciler) run(ctx context.Context, s *Session, userID string) (out ReconcileOutcome) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ReconcileOutcome{State: ReconcileFailed, Error: domain.ErrSessionNotFound.Error(), Err: domain.ErrSessionNotFound}
	}
	if s.reconciling {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return ReconcileOutcome{State: snap.ReconcileState, Triggered: true, Session: snap}
	}
	s.reconciling = true
	quiz := s.quiz
	s.mu.Unlock()

	logger := r.logger.With(zap.String("quiz_id", quiz.ID), zap.String("user_id", userID))
	out = ReconcileOutcome{Triggered: true}

	defer func() {
		r.clearAuthFlow(ctx, s, logger)
		s.mu.Lock()
		s.reconciling = false
		s.reconcileState = out.State
		if out.State == ReconcileFailed && out.Error != "" {
			s.lastErr = out.Error
		}
		out.Session = s.broadcastLocked()
		s.mu.Unlock()
		r.metrics.Reconciliation(string(out.State))
	}()

	r.transition(s, ReconcileDetecting)
	_, out.GenuineReturn, _ = s.deps.Relay.Get(ctx, keyInAuthFlow, ScopeDurable)

	var migrateErr error
	if guest, ok := r.pendingGuestResult(ctx, s, quiz, logger); ok {
		r.transition(s, ReconcileMigrating)
		guest.UserID = userID
		if err := r.submit(ctx, s, guest); err != nil {
			migrateErr = err
			out.Warning = "guest result could not be saved yet: " + err.Error()
			logger.Warn("migrating guest result failed, keeping local copy", zap.Error(err))
			// The packet is cleared below, so make sure the durable copy exists.
			if err := writeJSON(ctx, s.deps.Relay, GuestResultKey(quiz.ID), ScopeDurable, guest); err != nil {
				logger.Error("preserving guest result failed", zap.Error(err))
			}
			s.mu.Lock()
			s.hasGuestResult = true
			s.mu.Unlock()
		} else {
			out.Migrated = true
			deleteKeys(ctx, s.deps.Relay, logger, ScopeDurable, GuestResultKey(quiz.ID), keyPendingPacket)
			s.mu.Lock()
			s.hasGuestResult = false
			s.mu.Unlock()
			logger.Info("guest result migrated")
		}
	}

	r.transition(s, ReconcileFetching)
	result, err := r.fetch(ctx, s, userID, quiz)
	switch {
	case err == nil && result.AnsweredCount() > 0:
		s.mu.Lock()
		s.applyCanonicalLocked(result)
		s.mu.Unlock()
		deleteKeys(ctx, s.deps.Relay, logger, ScopeDurable, CompletedKey(quiz.ID), UnsavedResultKey(quiz.ID))
		out.State = ReconcileDone
	case err == nil || errors.Is(err, domain.ErrResultNotFound):
		out.State = ReconcileFailed
		out.Err = domain.ErrResultNotFound
		if migrateErr != nil {
			// The user's result exists only on this device; say so instead
			// of claiming nothing was saved.
			out.Err = fmt.Errorf("%w: %v", domain.ErrSaveFailed, migrateErr)
		}
		out.Error = out.Err.Error()
	default:
		logger.Error("fetching canonical result failed", zap.Error(err))
		out.State = ReconcileFailed
		out.Err = err
		out.Error = err.Error()
	}
	return out
}

// pendingGuestResult prefers the durable guest copy and falls back to the
// redirect packet.
func (r *Reconciler) pendingGuestResult(ctx context.Context, s *Session, quiz domain.Quiz, logger *zap.Logger) (domain.QuizResult, bool) {
	var result domain.QuizResult
	if readJSON(ctx, s.deps.Relay, logger, GuestResultKey(quiz.ID), ScopeDurable, &result) &&
		result.QuizID == quiz.ID && result.AnsweredCount() > 0 {
		return result, true
	}

	var packet domain.PendingRedirectPacket
	if !readJSON(ctx, s.deps.Relay, logger, keyPendingPacket, ScopeDurable, &packet) || packet.QuizID != quiz.ID {
		return domain.QuizResult{}, false
	}
	result = domain.QuizResult{
		QuizID:         packet.QuizID,
		Slug:           packet.Slug,
		QuizType:       packet.QuizType,
		Score:          packet.Score,
		Answers:        packet.Answers,
		TotalQuestions: len(quiz.Questions),
		CompletedAt:    packet.CompletedAt,
	}
	for _, a := range packet.Answers {
		if a != nil {
			result.TotalTime += a.TimeSpent
		}
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = s.deps.Now().UTC().Truncate(time.Millisecond)
	}
	if result.AnsweredCount() == 0 {
		return domain.QuizResult{}, false
	}
	return result, true
}

func (r *Reconciler) submit(ctx context.Context, s *Session, result domain.QuizResult) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.interval), uint64(r.attempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		err := s.deps.Results.SubmitResult(ctx, result)
		r.metrics.Submission(err == nil)
		return err
	}, policy)
	return err
}

// fetch collapses concurrent lookups of the same result.
func (r *Reconciler) fetch(ctx context.Context, s *Session, userID string, quiz domain.Quiz) (domain.QuizResult, error) {
	key := userID + "|" + quiz.ID + "|" + quiz.Slug
	v, err, _ := r.fetches.Do(key, func() (interface{}, error) {
		return s.deps.Results.FetchResult(ctx, userID, quiz.ID, quiz.Slug)
	})
	if err != nil {
		return domain.QuizResult{}, err
	}
	return v.(domain.QuizResult), nil
}

// clearAuthFlow drops the redirect markers once a return has been handled,
// whatever its outcome, so reloading does not loop.
func (r *Reconciler) clearAuthFlow(ctx context.Context, s *Session, logger *zap.Logger) {
	deleteKeys(ctx, s.deps.Relay, logger, ScopeDurable, keyInAuthFlow, keyAuthRedirect, keyPendingPacket)
}

func (r *Reconciler) transition(s *Session, state ReconcileState) {
	s.mu.Lock()
	s.reconcileState = state
	s.broadcastLocked()
	s.mu.Unlock()
}
