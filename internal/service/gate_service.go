package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/derive"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

// GateService is the daily access gate. Authorization is a pure comparison
// against the derived code of the day; a success mints an opaque session
// token whose grant lives only as long as the session TTL. Grants are never
// tied to an account.
type GateService struct {
	sessions models.SessionStore
	audit    models.AuditSink
	metrics  *metrics.Collector
	ttl      time.Duration
}

func NewGateService(
	sessions models.SessionStore,
	audit models.AuditSink,
	collector *metrics.Collector,
	cfg *config.Config,
) *GateService {
	return &GateService{
		sessions: sessions,
		audit:    audit,
		metrics:  collector,
		ttl:      cfg.Codes.GateSessionTTL,
	}
}

// Authorize checks the submitted value against the daily code. On a match it
// returns a granted session; on a mismatch it returns an ungranted one with
// no token. There is no attempt limiting on this path.
func (s *GateService) Authorize(ctx context.Context, value string, now time.Time) (*models.AccessSession, error) {
	granted := derive.Matches(value, now)

	s.metrics.RecordGateAttempt(granted)
	s.audit.Record(models.AuditEvent{
		At:        now,
		Operation: "authorize",
		Outcome:   gateOutcome(granted),
	})

	if !granted {
		return &models.AccessSession{Granted: false}, nil
	}

	session := &models.AccessSession{
		Token:     uuid.New().String(),
		Granted:   true,
		GrantedAt: now,
	}

	if err := s.sessions.Grant(ctx, session.Token, s.ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	util.Info("Gate session granted", zap.String("token", session.Token))
	return session, nil
}

// Check reports whether the token still carries a grant.
func (s *GateService) Check(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	granted, err := s.sessions.Granted(ctx, token)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return granted, nil
}

// Revoke is the session-teardown path: the grant dies with the session.
func (s *GateService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if err := s.sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func gateOutcome(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}
