package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/util"
)

const gatePrefix = "gate:"

// SessionStore keeps access-gate grants server-side, keyed by an opaque
// session token. Nothing here references an account; the grant dies with the
// token TTL or an explicit revoke.
type SessionStore struct {
	client *client.RedisClient
}

func NewSessionStore(client *client.RedisClient) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) Grant(ctx context.Context, token string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := gatePrefix + token
	if err := s.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl); err != nil {
		util.Error("Failed to grant access session", zap.Error(err))
		return fmt.Errorf("failed to grant access session: %w", err)
	}

	util.Debug("Access session granted", zap.Duration("ttl", ttl))
	return nil
}

func (s *SessionStore) Granted(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.Get(ctx, gatePrefix+token)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check access session: %w", err)
	}
	return true, nil
}

func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, gatePrefix+token); err != nil {
		util.Error("Failed to revoke access session", zap.Error(err))
		return fmt.Errorf("failed to revoke access session: %w", err)
	}

	util.Debug("Access session revoked")
	return nil
}
