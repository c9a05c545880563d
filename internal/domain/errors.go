package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a quiz session has not been initialized.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizIDMissing is fatal: nothing can run without a quiz identifier.
	ErrQuizIDMissing = errors.New("quiz identifier missing")
	// ErrNoQuestions is fatal: a quiz with zero questions cannot be attempted.
	ErrNoQuestions = errors.New("quiz has no questions")
	// ErrUnknownQuizType indicates an unsupported quiz type.
	ErrUnknownQuizType = errors.New("unknown quiz type")
	// ErrIndexOutOfRange is returned for answer indices outside the quiz.
	ErrIndexOutOfRange = errors.New("question index out of range")
	// ErrInvalidAnswers indicates a malformed answers array.
	ErrInvalidAnswers = errors.New("invalid answers")
	// ErrNoAnswersSubmitted is returned when completing without any answer.
	ErrNoAnswersSubmitted = errors.New("no answers submitted")
	// ErrSessionLocked is returned for edits while completing or after completion.
	ErrSessionLocked = errors.New("quiz session no longer accepts answers")
	// ErrResultNotFound is returned by result stores when nothing was saved.
	ErrResultNotFound = errors.New("no saved results found")
	// ErrSaveFailed wraps remote submission failures.
	ErrSaveFailed = errors.New("failed to save results")
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
)
