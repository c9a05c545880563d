package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"quiz-resume-service/internal/app"
	"quiz-resume-service/internal/domain"
)

func TestInitializeRejectsInvalidQuiz(t *testing.T) {
	ctx := context.Background()
	s := app.NewSession(app.Deps{Relay: newHarness(t, mcqQuiz()).relay, Auth: &fakeAuth{}, Results: newFakeResults()})

	quiz := mcqQuiz()
	quiz.ID = ""
	if _, err := s.Initialize(ctx, quiz); !errors.Is(err, domain.ErrQuizIDMissing) {
		t.Fatalf("expected ErrQuizIDMissing, got %v", err)
	}
	quiz = mcqQuiz()
	quiz.Questions = nil
	if _, err := s.Initialize(ctx, quiz); !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	quiz = mcqQuiz()
	quiz.Type = "essay"
	if _, err := s.Initialize(ctx, quiz); !errors.Is(err, domain.ErrUnknownQuizType) {
		t.Fatalf("expected ErrUnknownQuizType, got %v", err)
	}
	if _, err := s.RecordAnswer(ctx, 0, domain.Answer{Value: "x"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected uninitialized session, got %v", err)
	}
}

func TestInitializeStartsFreshAttempt(t *testing.T) {
	h := newHarness(t, mcqQuiz())
	snap := h.session.Snapshot()

	if len(snap.Answers) != 3 || len(snap.TimeSpentPerQuestion) != 3 || snap.QuestionCount != 3 {
		t.Fatalf("expected arrays sized to the quiz, got %+v", snap)
	}
	if snap.LifecycleState != domain.StateIdle || snap.IsCompleted || snap.Score != nil {
		t.Fatalf("expected idle attempt, got %+v", snap)
	}
	if !snap.AuthCheckComplete {
		t.Fatalf("expected auth check complete after initialize")
	}
	if !snap.StartTime.Equal(h.clock.Now()) {
		t.Fatalf("expected start time captured, got %s", snap.StartTime)
	}
	if snap.Questions[0].Options[1].Correct {
		t.Fatalf("expected answer keys hidden")
	}
}

func TestRecordAnswerOutOfRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())

	for _, index := range []int{-1, 3} {
		snap, err := h.session.RecordAnswer(ctx, index, domain.Answer{Value: "x"})
		if !errors.Is(err, domain.ErrIndexOutOfRange) {
			t.Fatalf("index %d: expected ErrIndexOutOfRange, got %v", index, err)
		}
		if snap.Error == nil {
			t.Fatalf("index %d: expected session error", index)
		}
		if len(snap.Answers) != 3 {
			t.Fatalf("index %d: answers resized to %d", index, len(snap.Answers))
		}
		for i, a := range snap.Answers {
			if a != nil {
				t.Fatalf("index %d: slot %d unexpectedly written", index, i)
			}
		}
	}

	snap, err := h.session.RecordAnswer(ctx, 1, domain.Answer{Value: "o2", IsCorrect: true})
	if err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if snap.Error != nil || snap.Answers[1] == nil || snap.CurrentQuestionIndex != 0 {
		t.Fatalf("expected slot 1 written without moving the cursor, got %+v", snap)
	}
}

func TestAdvanceAccumulatesTime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())

	h.clock.Advance(5 * time.Second)
	if _, err := h.session.Advance(ctx, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	h.clock.Advance(3 * time.Second)
	h.session.Advance(ctx, 1)
	snap, _ := h.session.Advance(ctx, 5)
	if snap.CurrentQuestionIndex != 2 {
		t.Fatalf("expected index clamped to 2, got %d", snap.CurrentQuestionIndex)
	}
	snap, _ = h.session.Advance(ctx, -10)
	if snap.CurrentQuestionIndex != 0 {
		t.Fatalf("expected index clamped to 0, got %d", snap.CurrentQuestionIndex)
	}
	if snap.TimeSpentPerQuestion[0] != 5*time.Second || snap.TimeSpentPerQuestion[1] != 3*time.Second || snap.TimeSpentPerQuestion[2] != 0 {
		t.Fatalf("unexpected time per question %v", snap.TimeSpentPerQuestion)
	}
}

func TestResumeProgressAfterReload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())

	h.session.RecordAnswer(ctx, 0, domain.Answer{Value: "o2", IsCorrect: true})
	h.clock.Advance(2 * time.Second)
	h.session.Advance(ctx, 1)
	if !h.has(app.ProgressKey(domain.QuizTypeMCQ, "quiz-1"), app.ScopeSession) {
		t.Fatalf("expected guest progress saved in session scope")
	}

	s := h.reload()
	if snap := s.Snapshot(); snap.Answers[0] != nil {
		t.Fatalf("expected reload to start fresh before resuming")
	}
	snap, restored, err := s.ResumeProgress(ctx)
	if err != nil || !restored {
		t.Fatalf("expected progress restored, restored=%v err=%v", restored, err)
	}
	if snap.CurrentQuestionIndex != 1 || snap.Answers[0] == nil || snap.TimeSpentPerQuestion[0] != 2*time.Second {
		t.Fatalf("unexpected restored snapshot %+v", snap)
	}
}

func TestResumeProgressIgnoresBadSnapshots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())
	key := app.ProgressKey(domain.QuizTypeMCQ, "quiz-1")

	for _, raw := range []string{`{broken`, `{"currentQuestionIndex":0,"answers":[null],"timeSpentPerQuestion":[0]}`} {
		h.relay.Set(ctx, key, raw, app.ScopeSession)
		if _, restored, err := h.session.ResumeProgress(ctx); restored || err != nil {
			t.Fatalf("expected %q ignored, restored=%v err=%v", raw, restored, err)
		}
	}
}

func TestSignedInProgressIsNotStored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())
	h.auth.signIn("u1")

	h.session.RecordAnswer(ctx, 0, domain.Answer{Value: "o2"})
	if h.has(app.ProgressKey(domain.QuizTypeMCQ, "quiz-1"), app.ScopeSession) {
		t.Fatalf("expected no progress snapshot for signed-in users")
	}
}

func TestResetClearsAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())
	h.answerAll(true, false, true)
	if _, err := h.session.Complete(ctx, []*domain.Answer{}, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	snap, err := h.session.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if snap.LifecycleState != domain.StateIdle || snap.IsCompleted || snap.RequiresAuth ||
		snap.HasGuestResult || snap.PendingAuthRequired || snap.Error != nil || snap.Score != nil {
		t.Fatalf("expected clean idle state, got %+v", snap)
	}
	for i, a := range snap.Answers {
		if a != nil {
			t.Fatalf("slot %d not cleared", i)
		}
	}
	if h.has(app.CompletedKey("quiz-1"), app.ScopeDurable) || h.has(app.GuestResultKey("quiz-1"), app.ScopeDurable) {
		t.Fatalf("expected transient relay keys removed")
	}

	// The attempt is editable again.
	if _, err := h.session.RecordAnswer(ctx, 0, domain.Answer{Value: "o1"}); err != nil {
		t.Fatalf("record after reset: %v", err)
	}
}

func TestResetKeepsRemoteResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())
	h.auth.signIn("u1")
	h.answerAll(true, true, true)
	h.session.Complete(ctx, []*domain.Answer{}, nil)

	h.session.Reset(ctx)
	if got := h.results.Count("u1", "quiz-1", "arithmetic"); got != 1 {
		t.Fatalf("expected remote result kept, got %d", got)
	}
}

func TestInitializeRestoresGuestResult(t *testing.T) {
	ctx := context.Background()

	gated := newHarness(t, mcqQuiz())
	gated.answerAll(true, false, true)
	gated.session.Complete(ctx, []*domain.Answer{}, nil)

	snap := gated.reload().Snapshot()
	if snap.IsCompleted || !snap.RequiresAuth || !snap.HasGuestResult || snap.LifecycleState != domain.StatePreparingResults {
		t.Fatalf("expected gated guest result restored, got %+v", snap)
	}
	if snap.Answers[0] == nil || snap.Answers[2] == nil {
		t.Fatalf("expected answers restored, got %+v", snap.Answers)
	}

	open := newHarness(t, flashcardQuiz())
	open.answerAll(true, false)
	open.session.Complete(ctx, []*domain.Answer{}, nil)

	snap = open.reload().Snapshot()
	if !snap.IsCompleted || snap.LifecycleState != domain.StateShowingResults || snap.Score == nil || *snap.Score != 50 {
		t.Fatalf("expected ungated guest result shown, got %+v", snap)
	}
}

func TestInitializeIgnoresCorruptedGuestResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())
	h.relay.Set(ctx, app.CompletedKey("quiz-1"), "true", app.ScopeDurable)
	h.relay.Set(ctx, app.GuestResultKey("quiz-1"), "{not json", app.ScopeDurable)

	snap := h.reload().Snapshot()
	if snap.LifecycleState != domain.StateIdle || snap.IsCompleted || snap.HasGuestResult {
		t.Fatalf("expected fresh attempt, got %+v", snap)
	}
	if h.has(app.CompletedKey("quiz-1"), app.ScopeDurable) {
		t.Fatalf("expected stale completed marker removed")
	}
}

func TestInitializeLoadsCanonicalResultWhenSignedIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())
	h.auth.signIn("u1")
	h.answerAll(true, true, false)
	if _, err := h.session.Complete(ctx, []*domain.Answer{}, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	snap := h.reload().Snapshot()
	if !snap.IsCompleted || snap.LifecycleState != domain.StateShowingResults || snap.Score == nil || *snap.Score != 67 {
		t.Fatalf("expected canonical result, got %+v", snap)
	}
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())

	ch, cancel := h.session.Subscribe()
	defer cancel()

	<-ch // initial snapshot

	h.session.RecordAnswer(ctx, 0, domain.Answer{Value: "o2"})
	select {
	case snap := <-ch:
		if snap.Answers[0] == nil {
			t.Fatalf("expected update with the recorded answer")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive update")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
}

func TestSnapshotEncodesTimeInMilliseconds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mcqQuiz())
	h.clock.Advance(1250 * time.Millisecond)
	if _, err := h.session.Advance(ctx, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	data, err := json.Marshal(h.session.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"timeSpentPerQuestionMs":[1250,0,0]`) {
		t.Fatalf("expected per-question time in milliseconds, got %s", data)
	}
	var decoded app.Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.TimeSpentPerQuestion[0] != 1250*time.Millisecond || decoded.QuizID != "quiz-1" {
		t.Fatalf("unexpected decoded snapshot %+v", decoded)
	}
}
