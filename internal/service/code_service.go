package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/derive"
	"verification-service/internal/hashing"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

const issueLockTTL = 5 * time.Second

// CodeService owns the verification-code lifecycle: one active code per
// (subject, channel), superseded on reissue, consumed at most once. Raw code
// values exist only between generation and delivery; the store only ever
// sees digests.
type CodeService struct {
	codes    models.CodeStore
	hasher   *hashing.Hasher
	notifier models.Notifier
	attempts models.AttemptCounter
	audit    models.AuditSink
	metrics  *metrics.Collector
	policy   config.CodesConfig
}

func NewCodeService(
	codes models.CodeStore,
	hasher *hashing.Hasher,
	notifier models.Notifier,
	attempts models.AttemptCounter,
	audit models.AuditSink,
	collector *metrics.Collector,
	cfg *config.Config,
) *CodeService {
	return &CodeService{
		codes:    codes,
		hasher:   hasher,
		notifier: notifier,
		attempts: attempts,
		audit:    audit,
		metrics:  collector,
		policy:   cfg.Codes,
	}
}

// Issue generates, stores and queues delivery of a fresh code for the pair,
// superseding any previous one. The returned record carries the code ID and
// expiry but never the raw value.
func (s *CodeService) Issue(ctx context.Context, subject string, channel models.Channel, now time.Time) (*models.VerificationCode, error) {
	subject = util.NormalizeSubject(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidInput)
	}

	// Serialize concurrent issues for the same pair so two callers cannot
	// each store a code and deliver a value the other's record invalidated.
	release, err := s.codes.Lock(ctx, subject, channel, issueLockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer release()

	value, expiresAt, err := s.generate(channel, now)
	if err != nil {
		return nil, err
	}

	hashed, err := s.hasher.HashCode(value)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	code := &models.VerificationCode{
		CodeID:        uuid.New().String(),
		Subject:       subject,
		Channel:       channel,
		ValueHash:     hashed.Hash,
		ValueSalt:     hashed.Salt,
		PepperVersion: hashed.PepperVersion,
		IssuedAt:      now,
		ExpiresAt:     expiresAt,
	}

	if err := s.codes.Put(ctx, code, s.policy.Retention); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.deliver(ctx, subject, channel, value)

	s.metrics.RecordIssued(string(channel))
	s.audit.Record(models.AuditEvent{
		At:          now,
		SubjectHash: util.SubjectHash(subject),
		Channel:     string(channel),
		Operation:   "issue",
		Outcome:     "issued",
	})

	util.Info("Verification code issued",
		zap.String("channel", string(channel)),
		zap.String("code_id", code.CodeID),
		zap.Time("expires_at", expiresAt))

	return code, nil
}

// Resend issues a fresh code for the pair. There is no cooldown and no
// redelivery of the previous value; a resend always supersedes.
func (s *CodeService) Resend(ctx context.Context, subject string, channel models.Channel, now time.Time) (*models.VerificationCode, error) {
	return s.Issue(ctx, subject, channel, now)
}

// Consume checks a submitted value against the pair's active code and, on a
// match, retires it atomically. Exactly one of two concurrent correct
// submissions is accepted.
func (s *CodeService) Consume(ctx context.Context, subject string, channel models.Channel, value string, now time.Time) (models.ConsumeResult, error) {
	subject = util.NormalizeSubject(subject)
	if subject == "" || value == "" {
		return "", fmt.Errorf("%w: empty subject or value", ErrInvalidInput)
	}

	attemptKey := string(channel) + ":" + util.SubjectHash(subject)
	if locked, err := s.attempts.Locked(ctx, attemptKey); err == nil && locked {
		s.record(subject, channel, now, "locked")
		return "", ErrTooManyAttempts
	}

	result, err := s.consume(ctx, subject, channel, value, now, attemptKey)
	if err != nil {
		return "", err
	}

	s.metrics.RecordConsumed(string(channel), string(result))
	s.record(subject, channel, now, string(result))

	if result == models.ConsumeAccepted {
		if err := s.attempts.Reset(ctx, attemptKey); err != nil {
			util.Warn("Failed to reset attempt counter", zap.Error(err))
		}
	}

	return result, nil
}

func (s *CodeService) consume(ctx context.Context, subject string, channel models.Channel, value string, now time.Time, attemptKey string) (models.ConsumeResult, error) {
	if n, err := s.attempts.Record(ctx, attemptKey); err != nil {
		util.Warn("Failed to record attempt", zap.Error(err))
	} else {
		util.Debug("Code submission attempt",
			zap.String("channel", string(channel)),
			zap.Int("attempts_in_window", n))
	}

	// The master override is stateless: it matches on any channel whether or
	// not a code is outstanding, and consuming it retires nothing.
	if s.policy.MasterEnabled && value == derive.MasterCode(now) {
		util.Info("Master code accepted", zap.String("channel", string(channel)))
		return models.ConsumeAccepted, nil
	}

	// The phone channel also takes the formula code of the day, whichever
	// mode generated the stored code; like the master it is shared and never
	// retired.
	if channel == models.ChannelPhoneValidate && value == derive.PhoneCode(now) {
		return models.ConsumeAccepted, nil
	}

	code, err := s.codes.GetLatest(ctx, subject, channel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if code == nil {
		return models.ConsumeNoneIssued, nil
	}

	match, err := s.hasher.VerifyCode(value, &hashing.HashResult{
		Hash:          code.ValueHash,
		Salt:          code.ValueSalt,
		PepperVersion: code.PepperVersion,
	})
	if err != nil {
		return "", fmt.Errorf("failed to verify code: %w", err)
	}

	if code.Consumed() {
		if match {
			return models.ConsumeAlreadyConsumed, nil
		}
		return models.ConsumeWrongCode, nil
	}

	if code.Expired(now) {
		// Expired wins over wrong: the record is dead either way and the
		// caller's remedy is a resend, not another guess.
		return models.ConsumeExpired, nil
	}

	if !match {
		return models.ConsumeWrongCode, nil
	}

	ok, err := s.codes.Consume(ctx, subject, channel, code.CodeID, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		// Lost the race, or the record was superseded between read and
		// check-and-set.
		return models.ConsumeAlreadyConsumed, nil
	}

	return models.ConsumeAccepted, nil
}

// generate picks the raw value and expiry for the channel. Email channels get
// six random digits; the phone channel gets four random digits or the formula
// code of the day, per policy.
func (s *CodeService) generate(channel models.Channel, now time.Time) (string, time.Time, error) {
	if channel == models.ChannelPhoneValidate {
		if s.policy.PhoneMode == "derived" {
			return derive.PhoneCode(now), derive.EndOfDay(now), nil
		}
		value, err := randomDigits(4)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to generate code: %w", err)
		}
		return value, now.Add(s.policy.SMSTTL), nil
	}

	value, err := randomDigits(6)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate code: %w", err)
	}

	if channel == models.ChannelAccountDelete {
		return value, now.Add(s.policy.DeletionTTL), nil
	}
	return value, now.Add(s.policy.EmailTTL), nil
}

// deliver queues the out-of-band send. Issuance already committed; a failed
// send is logged and the code stays valid for a resend.
func (s *CodeService) deliver(ctx context.Context, subject string, channel models.Channel, value string) {
	var err error
	if channel.IsSMS() {
		err = s.notifier.SendSMS(ctx, subject, fmt.Sprintf("Your verification code is %s.", value))
	} else {
		subjectLine, body := emailContent(channel, value)
		err = s.notifier.SendEmail(ctx, subject, subjectLine, body)
	}

	if err != nil {
		util.Error("Failed to queue code delivery",
			zap.String("channel", string(channel)),
			zap.Error(err))
	}
}

func (s *CodeService) record(subject string, channel models.Channel, now time.Time, outcome string) {
	s.audit.Record(models.AuditEvent{
		At:          now,
		SubjectHash: util.SubjectHash(subject),
		Channel:     string(channel),
		Operation:   "consume",
		Outcome:     outcome,
	})
}

func emailContent(channel models.Channel, value string) (string, string) {
	switch channel {
	case models.ChannelEmailRegister:
		return "Confirm your registration",
			fmt.Sprintf("Your registration code is %s. It expires shortly.", value)
	case models.ChannelEmailChange:
		return "Confirm your new email address",
			fmt.Sprintf("Your email change code is %s. It expires shortly.", value)
	case models.ChannelPasswordReset:
		return "Reset your password",
			fmt.Sprintf("Your password reset code is %s. It expires shortly.", value)
	case models.ChannelAccountDelete:
		return "Confirm account deletion",
			fmt.Sprintf("Your account deletion code is %s. It expires in 24 hours.", value)
	default:
		return "Your verification code",
			fmt.Sprintf("Your verification code is %s.", value)
	}
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
