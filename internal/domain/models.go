package domain

import (
	"fmt"
	"time"
)

// QuizType enumerates the supported quiz formats.
type QuizType string

const (
	QuizTypeMCQ       QuizType = "mcq"
	QuizTypeCode      QuizType = "code"
	QuizTypeOpenEnded QuizType = "open-ended"
	QuizTypeFillBlank QuizType = "fill-blank"
	QuizTypeFlashcard QuizType = "flashcard"
)

// ParseQuizType validates a raw quiz type string.
func ParseQuizType(raw string) (QuizType, error) {
	switch t := QuizType(raw); t {
	case QuizTypeMCQ, QuizTypeCode, QuizTypeOpenEnded, QuizTypeFillBlank, QuizTypeFlashcard:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownQuizType, raw)
}

// LifecycleState is the presentation lifecycle of a quiz attempt.
type LifecycleState string

const (
	StateIdle             LifecycleState = "idle"
	StateCompleting       LifecycleState = "completing"
	StatePreparingResults LifecycleState = "preparing-results"
	StateShowingResults   LifecycleState = "showing-results"
	StateRedirecting      LifecycleState = "redirecting"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is a single quiz item. Options are used by mcq quizzes and
// Answer by fill-blank quizzes; other types carry neither.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options,omitempty"`
	Answer  string   `json:"answer,omitempty"`
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Slug      string     `json:"slug"`
	Type      QuizType   `json:"type"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Answer is the recorded response to one question. TimeSpent is encoded in
// milliseconds as timeSpentMs.
type Answer struct {
	Value      string        `json:"value"`
	TimeSpent  time.Duration `json:"-"`
	IsCorrect  bool          `json:"isCorrect"`
	Similarity *float64      `json:"similarity,omitempty"`
}

// QuizResult is a serializable snapshot of a finished attempt. A result
// produced locally for a guest has an empty UserID until it is migrated.
// TotalTime is encoded in milliseconds as totalTimeMs.
type QuizResult struct {
	QuizID         string        `json:"quizId"`
	Slug           string        `json:"slug"`
	QuizType       QuizType      `json:"quizType"`
	UserID         string        `json:"userId,omitempty"`
	Score          int           `json:"score"`
	Answers        []*Answer     `json:"answers"`
	TotalTime      time.Duration `json:"-"`
	TotalQuestions int           `json:"totalQuestions"`
	CompletedAt    time.Time     `json:"completedAt"`
}

// AnsweredCount returns the number of non-empty answer slots.
func (r QuizResult) AnsweredCount() int {
	n := 0
	for _, a := range r.Answers {
		if a != nil {
			n++
		}
	}
	return n
}

// PendingRedirectPacket is written right before handing control to the
// authentication provider and consumed once on return.
type PendingRedirectPacket struct {
	QuizID      string    `json:"quizId"`
	Slug        string    `json:"slug"`
	QuizType    QuizType  `json:"quizType"`
	Answers     []*Answer `json:"answers"`
	Score       int       `json:"score"`
	RedirectURL string    `json:"redirectUrl"`
	CompletedAt time.Time `json:"completedAt"`
}
