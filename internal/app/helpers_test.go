package app_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"quiz-resume-service/internal/app"
	"quiz-resume-service/internal/domain"
	"quiz-resume-service/internal/infra/memory"
)

type fakeAuth struct {
	mu   sync.Mutex
	user string
}

func (a *fakeAuth) signIn(userID string) {
	a.mu.Lock()
	a.user = userID
	a.mu.Unlock()
}

func (a *fakeAuth) CurrentUser(context.Context) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user, a.user != ""
}

func (a *fakeAuth) RedirectToSignIn(_ context.Context, target string) (string, error) {
	return "https://auth.test/login?returnTo=" + url.QueryEscape(target), nil
}

var errStoreDown = errors.New("store unavailable")

// fakeResults counts submissions and can fail or block them.
type fakeResults struct {
	*memory.ResultStore

	mu       sync.Mutex
	submits  int
	failures int
	fetchErr error
	entered  chan struct{}
	release  chan struct{}
}

func newFakeResults() *fakeResults {
	return &fakeResults{ResultStore: memory.NewResultStore()}
}

func (r *fakeResults) failNext(n int) {
	r.mu.Lock()
	r.failures = n
	r.mu.Unlock()
}

// block makes the next submissions wait until release is closed.
func (r *fakeResults) block() {
	r.mu.Lock()
	r.entered = make(chan struct{}, 1)
	r.release = make(chan struct{})
	r.mu.Unlock()
}

func (r *fakeResults) submitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submits
}

func (r *fakeResults) SubmitResult(ctx context.Context, result domain.QuizResult) error {
	r.mu.Lock()
	r.submits++
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	entered, release := r.entered, r.release
	r.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}
	if fail {
		return errStoreDown
	}
	return r.ResultStore.SubmitResult(ctx, result)
}

func (r *fakeResults) FetchResult(ctx context.Context, userID, quizID, slug string) (domain.QuizResult, error) {
	r.mu.Lock()
	err := r.fetchErr
	r.mu.Unlock()
	if err != nil {
		return domain.QuizResult{}, err
	}
	return r.ResultStore.FetchResult(ctx, userID, quizID, slug)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness is one device: its relay store survives "reloads" that build a
// new session.
type harness struct {
	t       *testing.T
	relay   *memory.RelayStore
	auth    *fakeAuth
	results *fakeResults
	clock   *fakeClock
	quiz    domain.Quiz
	session *app.Session
}

func newHarness(t *testing.T, quiz domain.Quiz) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		relay:   memory.NewRelayStore(),
		auth:    &fakeAuth{},
		results: newFakeResults(),
		clock:   newFakeClock(),
		quiz:    quiz,
	}
	h.session = h.reload()
	return h
}

// reload builds and initializes a fresh session against the same device.
func (h *harness) reload() *app.Session {
	h.t.Helper()
	s := app.NewSession(app.Deps{
		Relay:   h.relay,
		Auth:    h.auth,
		Results: h.results,
		Gating:  app.DefaultGatingPolicy(),
		Now:     h.clock.Now,
	})
	if _, err := s.Initialize(context.Background(), h.quiz); err != nil {
		h.t.Fatalf("initialize: %v", err)
	}
	h.session = s
	return s
}

func (h *harness) has(key string, scope app.Scope) bool {
	h.t.Helper()
	_, ok, err := h.relay.Get(context.Background(), key, scope)
	if err != nil {
		h.t.Fatalf("relay get %s: %v", key, err)
	}
	return ok
}

func (h *harness) answerAll(values ...bool) {
	h.t.Helper()
	for i, correct := range values {
		if _, err := h.session.RecordAnswer(context.Background(), i, domain.Answer{Value: "a", IsCorrect: correct}); err != nil {
			h.t.Fatalf("record answer %d: %v", i, err)
		}
	}
}

func mcqQuiz() domain.Quiz {
	return domain.Quiz{
		ID:   "quiz-1",
		Slug: "arithmetic",
		Type: domain.QuizTypeMCQ,
		Questions: []domain.Question{
			{ID: "q1", Prompt: "2 + 2?", Options: []domain.Option{{ID: "o1", Text: "3"}, {ID: "o2", Text: "4", Correct: true}}},
			{ID: "q2", Prompt: "3 + 3?", Options: []domain.Option{{ID: "o1", Text: "5"}, {ID: "o2", Text: "6", Correct: true}}},
			{ID: "q3", Prompt: "1 + 1?", Options: []domain.Option{{ID: "o1", Text: "3"}, {ID: "o2", Text: "2", Correct: true}}},
		},
	}
}

func flashcardQuiz() domain.Quiz {
	return domain.Quiz{
		ID:   "cards-1",
		Slug: "go-basics",
		Type: domain.QuizTypeFlashcard,
		Questions: []domain.Question{
			{ID: "c1", Prompt: "What starts a goroutine?"},
			{ID: "c2", Prompt: "What does defer do?"},
		},
	}
}
