package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-resume-service/internal/app"
)

// RelayStore keeps per-device relay keys in Redis so a guest can finish
// sign-in on any instance. Keys look like relay:{deviceID}:{scope}:{key};
// every write refreshes the scope TTL.
type RelayStore struct {
	client     *redis.Client
	sessionTTL time.Duration
	durableTTL time.Duration
}

func NewRelayStore(client *redis.Client, sessionTTL, durableTTL time.Duration) *RelayStore {
	return &RelayStore{client: client, sessionTTL: sessionTTL, durableTTL: durableTTL}
}

// Device implements app.RelayFactory.
func (s *RelayStore) Device(deviceID string) app.RelayStore {
	return &deviceRelay{store: s, deviceID: deviceID}
}

type deviceRelay struct {
	store    *RelayStore
	deviceID string
}

func (d *deviceRelay) Get(ctx context.Context, key string, scope app.Scope) (string, bool, error) {
	v, err := d.store.client.Get(ctx, d.key(key, scope)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (d *deviceRelay) Set(ctx context.Context, key, value string, scope app.Scope) error {
	return d.store.client.Set(ctx, d.key(key, scope), value, d.store.ttl(scope)).Err()
}

func (d *deviceRelay) Delete(ctx context.Context, key string, scope app.Scope) error {
	return d.store.client.Del(ctx, d.key(key, scope)).Err()
}

func (d *deviceRelay) key(key string, scope app.Scope) string {
	return "relay:" + d.deviceID + ":" + string(scope) + ":" + key
}

func (s *RelayStore) ttl(scope app.Scope) time.Duration {
	if scope == app.ScopeSession {
		return s.sessionTTL
	}
	return s.durableTTL
}
