package app

import (
	"context"
	"time"

	"quiz-resume-service/internal/domain"
)

// Scope selects the lifetime of a relay key.
type Scope string

const (
	// ScopeSession dies with the browser session.
	ScopeSession Scope = "session"
	// ScopeDurable survives the external authentication round trip.
	ScopeDurable Scope = "durable"
)

// RelayStore is the per-device key/value store used to carry state across
// navigations the service does not control. Writes are last-writer-wins.
type RelayStore interface {
	Get(ctx context.Context, key string, scope Scope) (string, bool, error)
	Set(ctx context.Context, key, value string, scope Scope) error
	Delete(ctx context.Context, key string, scope Scope) error
}

// RelayFactory hands out the relay store of one device.
type RelayFactory interface {
	Device(deviceID string) RelayStore
}

// AuthProvider answers the ambient "who is signed in" question and builds
// the sign-in redirect. CurrentUser must be evaluated on every call.
type AuthProvider interface {
	CurrentUser(ctx context.Context) (userID string, ok bool)
	RedirectToSignIn(ctx context.Context, returnURL string) (location string, err error)
}

// ResultStore is the authoritative remote store. SubmitResult must be safe to
// call twice with the same result.
type ResultStore interface {
	SubmitResult(ctx context.Context, result domain.QuizResult) error
	FetchResult(ctx context.Context, userID, quizID, slug string) (domain.QuizResult, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SessionRepository abstracts where live sessions are kept (in-memory, Redis, etc).
type SessionRepository interface {
	GetOrCreate(key string, create func() *Session) *Session
	Get(key string) (*Session, bool)
	// Sweep drops idle sessions whose liveness lapsed and reports how many.
	Sweep(ctx context.Context, now time.Time) int
}
