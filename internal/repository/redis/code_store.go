package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

const (
	codePrefix     = "vc:"
	codeLockPrefix = "vc_lock:"
)

// consumeScript is the single-use check-and-set. It only flips consumed_at
// when the stored record is still the one the caller validated (same code
// ID) and nobody consumed it first. Two racing correct submissions get
// exactly one 1 back.
const consumeScript = `
local id = redis.call('HGET', KEYS[1], 'code_id')
if not id or id ~= ARGV[1] then
  return 0
end
local consumed = redis.call('HGET', KEYS[1], 'consumed_at')
if consumed and consumed ~= '' then
  return 0
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[2])
return 1
`

// CodeStore keeps the single active verification code per (subject, channel)
// as a Redis hash. Writing a new record supersedes the old one by replacing
// the whole hash; the key TTL only reclaims storage, expiry is always judged
// against expires_at.
type CodeStore struct {
	client *client.RedisClient
}

func NewCodeStore(client *client.RedisClient) *CodeStore {
	return &CodeStore{client: client}
}

func codeKey(subject string, channel models.Channel) string {
	return codePrefix + string(channel) + ":" + util.NormalizeSubject(subject)
}

// Put stores a new code record for the pair, replacing whatever was there.
// The key lives for expiry + retention so an expired record stays readable
// (and distinguishable from "none issued") for the retention window.
func (s *CodeStore) Put(ctx context.Context, code *models.VerificationCode, retention time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := codeKey(code.Subject, code.Channel)
	ttl := time.Until(code.ExpiresAt) + retention
	if ttl <= 0 {
		return fmt.Errorf("code already past retention: %s", code.CodeID)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"code_id", code.CodeID,
		"subject", code.Subject,
		"channel", string(code.Channel),
		"value_hash", code.ValueHash,
		"value_salt", code.ValueSalt,
		"pepper_version", code.PepperVersion,
		"issued_at", code.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at", code.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"consumed_at", "",
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store verification code",
			zap.String("channel", string(code.Channel)),
			zap.Error(err))
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	util.Debug("Verification code stored",
		zap.String("code_id", code.CodeID),
		zap.String("channel", string(code.Channel)),
		zap.Time("expires_at", code.ExpiresAt))

	return nil
}

// GetLatest returns the active record for the pair, or (nil, nil) when none
// exists.
func (s *CodeStore) GetLatest(ctx context.Context, subject string, channel models.Channel) (*models.VerificationCode, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, codeKey(subject, channel))
	if err != nil {
		return nil, fmt.Errorf("failed to read verification code: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return codeFromFields(fields)
}

// Consume atomically marks the record consumed iff it still carries codeID
// and was not consumed before. Returns whether this caller won.
func (s *CodeStore) Consume(ctx context.Context, subject string, channel models.Channel, codeID string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.client.Eval(ctx, consumeScript,
		[]string{codeKey(subject, channel)},
		codeID, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to consume verification code: %w", err)
	}

	won, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected consume script result: %v", res)
	}
	return won == 1, nil
}

// Lock serializes issuance for one (subject, channel) pair. The returned
// release func is safe to call once; the TTL bounds the damage of a crashed
// holder.
func (s *CodeStore) Lock(ctx context.Context, subject string, channel models.Channel, ttl time.Duration) (func(), error) {
	key := codeLockPrefix + string(channel) + ":" + util.NormalizeSubject(subject)

	for attempt := 0; attempt < 10; attempt++ {
		ok, err := s.client.SetNX(ctx, key, "locked", ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire issue lock: %w", err)
		}
		if ok {
			return func() {
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := s.client.Del(relCtx, key); err != nil {
					util.Warn("Failed to release issue lock", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	return nil, errors.New("issue lock busy")
}

func codeFromFields(fields map[string]string) (*models.VerificationCode, error) {
	issuedAt, err := time.Parse(time.RFC3339Nano, fields["issued_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt issued_at in code record: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt expires_at in code record: %w", err)
	}

	code := &models.VerificationCode{
		CodeID:    fields["code_id"],
		Subject:   fields["subject"],
		Channel:   models.Channel(fields["channel"]),
		ValueHash: fields["value_hash"],
		ValueSalt: fields["value_salt"],
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}

	if v := fields["pepper_version"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			code.PepperVersion = n
		}
	}

	if v := fields["consumed_at"]; v != "" {
		consumedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("corrupt consumed_at in code record: %w", err)
		}
		code.ConsumedAt = &consumedAt
	}

	return code, nil
}
