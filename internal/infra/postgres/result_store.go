package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-resume-service/internal/domain"
)

// ResultStore keeps authenticated quiz results. A result is identified by
// (user_id, quiz_id, slug, completed_at); submitting it again is a no-op.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) SubmitResult(ctx context.Context, result domain.QuizResult) error {
	if result.UserID == "" {
		return domain.ErrNotAuthenticated
	}
	answers, err := json.Marshal(result.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_results
		   (id, user_id, quiz_id, slug, quiz_type, score, answers, total_time_ms, total_questions, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)
		 ON CONFLICT (user_id, quiz_id, slug, completed_at) DO NOTHING`,
		uuid.NewString(),
		result.UserID,
		result.QuizID,
		result.Slug,
		string(result.QuizType),
		result.Score,
		string(answers),
		result.TotalTime.Milliseconds(),
		result.TotalQuestions,
		result.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert result for quiz %s: %w", result.QuizID, err)
	}
	return nil
}

// FetchResult returns the latest result of userID for the quiz.
func (s *ResultStore) FetchResult(ctx context.Context, userID, quizID, slug string) (domain.QuizResult, error) {
	var (
		result      domain.QuizResult
		quizType    string
		answers     []byte
		totalTimeMS int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, quiz_id, slug, quiz_type, score, answers, total_time_ms, total_questions, completed_at
		   FROM quiz_results
		  WHERE user_id = $1 AND quiz_id = $2 AND slug = $3
		  ORDER BY completed_at DESC
		  LIMIT 1`,
		userID, quizID, slug,
	).Scan(
		&result.UserID,
		&result.QuizID,
		&result.Slug,
		&quizType,
		&result.Score,
		&answers,
		&totalTimeMS,
		&result.TotalQuestions,
		&result.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizResult{}, domain.ErrResultNotFound
	}
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("fetch result for quiz %s: %w", quizID, err)
	}
	if err := json.Unmarshal(answers, &result.Answers); err != nil {
		return domain.QuizResult{}, fmt.Errorf("unmarshal answers for quiz %s: %w", quizID, err)
	}
	result.QuizType = domain.QuizType(quizType)
	result.TotalTime = time.Duration(totalTimeMS) * time.Millisecond
	result.CompletedAt = result.CompletedAt.UTC()
	return result, nil
}
