package app

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"quiz-resume-service/internal/domain"
)

// DefaultReturnMarker is the query flag that marks a return from sign-in.
const DefaultReturnMarker = "completed"

// Coordinator hands a guest over to the authentication provider.
type Coordinator struct {
	marker string
	logger *zap.Logger
}

func NewCoordinator(returnMarker string, logger *zap.Logger) *Coordinator {
	if returnMarker == "" {
		returnMarker = DefaultReturnMarker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{marker: returnMarker, logger: logger}
}

// RequireAuthentication saves what the session needs to resume and returns
// the sign-in location to navigate to. Signed-in users get an empty location.
func (c *Coordinator) RequireAuthentication(ctx context.Context, s *Session, redirectPath string) (string, error) {
	if _, authed := s.deps.Auth.CurrentUser(ctx); authed {
		return "", nil
	}

	target, err := EnsureReturnMarker(redirectPath, c.marker)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return "", domain.ErrSessionNotFound
	}
	packet := domain.PendingRedirectPacket{
		QuizID:      s.quiz.ID,
		Slug:        s.quiz.Slug,
		QuizType:    s.quiz.Type,
		Answers:     s.snapshotLocked().Answers,
		Score:       s.score,
		RedirectURL: target,
		CompletedAt: s.completedAt,
	}
	s.mu.RUnlock()

	logger := c.logger.With(zap.String("quiz_id", packet.QuizID))
	if err := writeJSON(ctx, s.deps.Relay, keyPendingPacket, ScopeDurable, packet); err != nil {
		s.setError("could not prepare sign-in, please try again")
		return "", fmt.Errorf("save pending redirect: %w", err)
	}
	if err := s.deps.Relay.Set(ctx, keyAuthRedirect, target, ScopeDurable); err != nil {
		logger.Warn("saving auth redirect target failed", zap.Error(err))
	}
	if err := s.deps.Relay.Set(ctx, keyInAuthFlow, "true", ScopeDurable); err != nil {
		logger.Warn("saving auth flow marker failed", zap.Error(err))
	}

	location, err := s.deps.Auth.RedirectToSignIn(ctx, target)
	if err != nil {
		s.setError("could not start sign-in, please try again")
		return "", fmt.Errorf("redirect to sign-in: %w", err)
	}

	s.mu.Lock()
	if !s.completed {
		s.lifecycle = domain.StateRedirecting
	}
	s.broadcastLocked()
	s.mu.Unlock()

	logger.Info("redirecting guest to sign-in", zap.String("return_to", target))
	return location, nil
}

// IsReturningFromAuth reports whether navigationURL carries the return marker.
func (c *Coordinator) IsReturningFromAuth(navigationURL string) bool {
	return HasReturnMarker(navigationURL, c.marker)
}

// StripReturnMarker removes the return marker from navigationURL.
func (c *Coordinator) StripReturnMarker(navigationURL string) string {
	return StripReturnMarker(navigationURL, c.marker)
}

// HasReturnMarker reports whether rawURL carries marker=true.
func HasReturnMarker(rawURL, marker string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Query().Get(marker) == "true"
}

// EnsureReturnMarker returns rawURL with marker=true set.
func EnsureReturnMarker(rawURL, marker string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect path %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(marker, "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StripReturnMarker returns rawURL without marker. Unparseable input is
// returned unchanged.
func StripReturnMarker(rawURL, marker string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if _, ok := q[marker]; !ok {
		return rawURL
	}
	q.Del(marker)
	u.RawQuery = q.Encode()
	return u.String()
}
