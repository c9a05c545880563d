package memory

import (
	"context"
	"testing"
	"time"

	"quiz-resume-service/internal/app"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore(time.Minute)

	created := 0
	newSession := func() *app.Session {
		created++
		return app.NewSession(app.Deps{})
	}

	session := store.GetOrCreate("dev-1:quiz-1", newSession)
	if session == nil {
		t.Fatalf("expected session")
	}
	again := store.GetOrCreate("dev-1:quiz-1", newSession)
	if again != session || created != 1 {
		t.Fatalf("expected the existing session to be reused, created=%d", created)
	}
	if _, ok := store.Get("dev-1:quiz-1"); !ok {
		t.Fatalf("expected session present")
	}
	if _, ok := store.Get("dev-2:quiz-1"); ok {
		t.Fatalf("expected sessions to be scoped per key")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", store.Len())
	}
}

func TestSessionStoreSweepsIdleSessions(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(time.Minute)
	newSession := func() *app.Session { return app.NewSession(app.Deps{}) }

	store.GetOrCreate("dev-1:quiz-1", newSession)
	watched := store.GetOrCreate("dev-2:quiz-1", newSession)
	_, cancel := watched.Subscribe()

	if n := store.Sweep(ctx, time.Now()); n != 0 {
		t.Fatalf("expected recently used sessions kept, evicted %d", n)
	}
	if n := store.Sweep(ctx, time.Now().Add(2*time.Minute)); n != 1 {
		t.Fatalf("expected one idle session evicted, got %d", n)
	}
	if _, ok := store.Get("dev-1:quiz-1"); ok {
		t.Fatalf("expected idle session removed")
	}
	if _, ok := store.Get("dev-2:quiz-1"); !ok {
		t.Fatalf("expected subscribed session kept")
	}

	cancel()
	if n := store.Sweep(ctx, time.Now().Add(2*time.Minute)); n != 1 || store.Len() != 0 {
		t.Fatalf("expected session evicted once unsubscribed, evicted %d, left %d", n, store.Len())
	}
}

func TestSessionStoreWithoutTTLKeepsSessions(t *testing.T) {
	store := NewSessionStore(0)
	store.GetOrCreate("dev-1:quiz-1", func() *app.Session { return app.NewSession(app.Deps{}) })
	if n := store.Sweep(context.Background(), time.Now().Add(24*time.Hour)); n != 0 || store.Len() != 1 {
		t.Fatalf("expected no eviction without a ttl, evicted %d", n)
	}
}
