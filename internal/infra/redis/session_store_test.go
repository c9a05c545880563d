package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-resume-service/internal/app"
)

func TestSessionStoreSetsAndRefreshesKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)

	_ = store.GetOrCreate("dev-1:quiz-1", func() *app.Session { return app.NewSession(app.Deps{}) })
	if !mr.Exists("quiz:session:dev-1:quiz-1") {
		t.Fatalf("expected redis key to be set")
	}

	mr.FastForward(50 * time.Second)
	if _, ok := store.Get("dev-1:quiz-1"); !ok {
		t.Fatalf("expected session present")
	}
	mr.FastForward(50 * time.Second)
	if !mr.Exists("quiz:session:dev-1:quiz-1") {
		t.Fatalf("expected lookup to refresh liveness ttl")
	}
}

func TestSessionStoreSweepsExpiredSessions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)
	newSession := func() *app.Session { return app.NewSession(app.Deps{}) }

	store.GetOrCreate("dev-1:quiz-1", newSession)
	watched := store.GetOrCreate("dev-2:quiz-1", newSession)
	_, cancel := watched.Subscribe()
	defer cancel()

	if n := store.Sweep(ctx, time.Now()); n != 0 {
		t.Fatalf("expected live sessions kept, evicted %d", n)
	}
	mr.FastForward(2 * time.Minute)
	if n := store.Sweep(ctx, time.Now()); n != 1 {
		t.Fatalf("expected one expired session evicted, got %d", n)
	}
	if _, ok := store.Get("dev-1:quiz-1"); ok {
		t.Fatalf("expected expired session removed")
	}
	if _, ok := store.Get("dev-2:quiz-1"); !ok {
		t.Fatalf("expected subscribed session kept")
	}
}
