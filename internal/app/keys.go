package app

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"quiz-resume-service/internal/domain"
)

const (
	keyPendingPacket = "pendingQuizData"
	keyAuthRedirect  = "quizAuthRedirect"
	keyInAuthFlow    = "inAuthFlow"
)

// CompletedKey marks a quiz as completed on this device.
func CompletedKey(quizID string) string { return "quiz_" + quizID + "_completed" }

// GuestResultKey holds the JSON guest result of a quiz.
func GuestResultKey(quizID string) string { return "guest_quiz_" + quizID }

// UnsavedResultKey holds a signed-in user's result that the result store
// rejected, until a retry stores it.
func UnsavedResultKey(quizID string) string { return "unsaved_quiz_" + quizID }

// ProgressKey holds the in-progress snapshot used to resume a guest attempt.
func ProgressKey(quizType domain.QuizType, quizID string) string {
	return "quiz_state_" + string(quizType) + "_" + quizID
}

// PendingPacketKey holds the PendingRedirectPacket.
func PendingPacketKey() string { return keyPendingPacket }

// AuthRedirectKey holds the post-login return target.
func AuthRedirectKey() string { return keyAuthRedirect }

// InAuthFlowKey flags a redirect to the authentication provider in progress.
func InAuthFlowKey() string { return keyInAuthFlow }

// readJSON loads key into v. Missing keys, relay errors and corrupted JSON all
// report false; the latter two are logged.
func readJSON(ctx context.Context, relay RelayStore, logger *zap.Logger, key string, scope Scope, v any) bool {
	raw, ok, err := relay.Get(ctx, key, scope)
	if err != nil {
		logger.Warn("relay read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		logger.Warn("ignoring corrupted relay value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func writeJSON(ctx context.Context, relay RelayStore, key string, scope Scope, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return relay.Set(ctx, key, string(data), scope)
}

// deleteKeys removes keys best-effort.
func deleteKeys(ctx context.Context, relay RelayStore, logger *zap.Logger, scope Scope, keys ...string) {
	for _, key := range keys {
		if err := relay.Delete(ctx, key, scope); err != nil {
			logger.Warn("relay delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}
