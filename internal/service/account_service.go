package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/util"
)

// AccountService is the tier state machine. It owns the account's
// verification flags and tier and is the only writer of those fields;
// every mutation re-checks the promoter guard before it is stored.
type AccountService struct {
	accounts models.AccountStore
	codes    *CodeService
	audit    models.AuditSink
	metrics  *metrics.Collector
}

func NewAccountService(
	accounts models.AccountStore,
	codes *CodeService,
	audit models.AuditSink,
	collector *metrics.Collector,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		codes:    codes,
		audit:    audit,
		metrics:  collector,
	}
}

// Register creates the account record and issues the registration code to the
// email address. The account stays unverified until CompleteRegistration
// consumes that code.
func (s *AccountService) Register(ctx context.Context, email, phone string, promoterIntent bool, now time.Time) (*models.Account, error) {
	email = util.NormalizeSubject(email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", ErrInvalidInput)
	}

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, scylla.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	account := &models.Account{
		AccountID:      uuid.New().String(),
		Email:          email,
		Phone:          util.NormalizeSubject(phone),
		Tier:           models.TierClient,
		PromoterIntent: promoterIntent,
		CreatedAt:      now,
	}

	if err := s.accounts.Put(ctx, account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := s.codes.Issue(ctx, email, models.ChannelEmailRegister, now); err != nil {
		// The account exists either way; the caller resends from the
		// confirmation screen.
		util.Warn("Failed to issue registration code",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
	}

	s.recordTransition(account, account.Tier, now, "register")
	return account, nil
}

// CompleteRegistration consumes the registration code and marks the email
// verified. Accounts that declared promoter intent enter pending_promoter;
// the rest stay client.
func (s *AccountService) CompleteRegistration(ctx context.Context, email, value string, now time.Time) (*models.Account, error) {
	account, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := s.mustConsume(ctx, account.Email, models.ChannelEmailRegister, value, now); err != nil {
		return nil, err
	}

	from := account.Tier
	account.EmailVerified = true
	if account.PromoterIntent && account.Tier == models.TierClient {
		account.Tier = models.TierPendingPromoter
	}

	if err := s.store(ctx, account, now); err != nil {
		return nil, err
	}

	s.recordTransition(account, from, now, "complete_registration")
	return account, nil
}

// ValidatePhone consumes a phone code for the account's number, sets
// phoneVerified and promotes pending accounts. The promoter guard holds by
// construction: the flag is set in the same mutation.
func (s *AccountService) ValidatePhone(ctx context.Context, accountID, value string, now time.Time) (*models.Account, error) {
	account, err := s.get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Phone == "" {
		return nil, fmt.Errorf("%w: account has no phone number", ErrInvalidInput)
	}

	if err := s.mustConsume(ctx, account.Phone, models.ChannelPhoneValidate, value, now); err != nil {
		return nil, err
	}

	from := account.Tier
	account.PhoneVerified = true
	if account.Tier == models.TierPendingPromoter {
		account.Tier = models.TierPromoter
	}

	if err := s.store(ctx, account, now); err != nil {
		return nil, err
	}

	s.recordTransition(account, from, now, "validate_phone")
	return account, nil
}

// Promote moves a client to promoter when the phone is already verified.
// Without a verified phone the caller is redirected into the phone-validation
// flow and the tier is left untouched.
func (s *AccountService) Promote(ctx context.Context, accountID string, now time.Time) (*models.Account, error) {
	account, err := s.get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.Tier == models.TierPromoter {
		return account, nil
	}

	if !account.PhoneVerified {
		s.audit.Record(models.AuditEvent{
			At:          now,
			SubjectHash: util.SubjectHash(account.Email),
			Operation:   "promote",
			Outcome:     "guard_violation",
		})
		// A client who never entered the promoter flow is redirected into
		// phone validation; a direct call on a pending account is a breach
		// of the guard.
		if account.Tier == models.TierClient {
			return nil, ErrPhoneValidationRequired
		}
		return nil, ErrGuardViolation
	}

	from := account.Tier
	account.Tier = models.TierPromoter

	if err := s.store(ctx, account, now); err != nil {
		return nil, err
	}

	s.recordTransition(account, from, now, "promote")
	return account, nil
}

// Downgrade is the "not now" opt-out: the tier drops to client from either
// pending_promoter or promoter. phoneVerified is kept, so a later Promote
// needs no new code.
func (s *AccountService) Downgrade(ctx context.Context, accountID string, now time.Time) (*models.Account, error) {
	account, err := s.get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.Tier == models.TierClient {
		return account, nil
	}

	from := account.Tier
	account.Tier = models.TierClient
	account.PromoterIntent = false

	if err := s.store(ctx, account, now); err != nil {
		return nil, err
	}

	s.recordTransition(account, from, now, "downgrade")
	return account, nil
}

// InvalidatePhone clears phoneVerified, for example after a number change.
// A promoter loses the tier in the same mutation so the guard invariant
// never observes a promoter without a verified phone. emailVerified is
// unaffected.
func (s *AccountService) InvalidatePhone(ctx context.Context, accountID string, now time.Time) (*models.Account, error) {
	account, err := s.get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	from := account.Tier
	account.PhoneVerified = false
	if account.Tier == models.TierPromoter {
		account.Tier = models.TierClient
	}

	if err := s.store(ctx, account, now); err != nil {
		return nil, err
	}

	s.recordTransition(account, from, now, "invalidate_phone")
	return account, nil
}

// RequestEmailChange issues an email-change code to the NEW address. The old
// address stays authoritative until the code is consumed.
func (s *AccountService) RequestEmailChange(ctx context.Context, accountID, newEmail string, now time.Time) error {
	newEmail = util.NormalizeSubject(newEmail)
	if newEmail == "" {
		return fmt.Errorf("%w: empty email", ErrInvalidInput)
	}

	account, err := s.get(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Email == newEmail {
		return fmt.Errorf("%w: address unchanged", ErrInvalidInput)
	}

	taken, err := s.accounts.FindByEmail(ctx, newEmail)
	if err != nil && !errors.Is(err, scylla.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if taken != nil {
		return ErrAccountExists
	}

	_, err = s.codes.Issue(ctx, newEmail, models.ChannelEmailChange, now)
	return err
}

// ConfirmEmailChange consumes the email-change code issued against the new
// address and swaps the account's email field.
func (s *AccountService) ConfirmEmailChange(ctx context.Context, accountID, newEmail, value string, now time.Time) (*models.Account, error) {
	newEmail = util.NormalizeSubject(newEmail)
	if newEmail == "" {
		return nil, fmt.Errorf("%w: empty email", ErrInvalidInput)
	}

	account, err := s.get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := s.mustConsume(ctx, newEmail, models.ChannelEmailChange, value, now); err != nil {
		return nil, err
	}

	account.Email = newEmail
	account.EmailVerified = true

	if err := s.store(ctx, account, now); err != nil {
		return nil, err
	}

	s.recordTransition(account, account.Tier, now, "confirm_email_change")
	return account, nil
}

// RequestDeletion issues the long-lived deletion-confirmation code. Deletion
// itself is an external collaborator operation; this subsystem only gates it.
func (s *AccountService) RequestDeletion(ctx context.Context, accountID string, now time.Time) error {
	account, err := s.get(ctx, accountID)
	if err != nil {
		return err
	}

	_, err = s.codes.Issue(ctx, account.Email, models.ChannelAccountDelete, now)
	return err
}

// ConfirmDeletion consumes the deletion code. On Accepted the caller may
// proceed with the external delete.
func (s *AccountService) ConfirmDeletion(ctx context.Context, accountID, value string, now time.Time) error {
	account, err := s.get(ctx, accountID)
	if err != nil {
		return err
	}

	if err := s.mustConsume(ctx, account.Email, models.ChannelAccountDelete, value, now); err != nil {
		return err
	}

	s.audit.Record(models.AuditEvent{
		At:          now,
		SubjectHash: util.SubjectHash(account.Email),
		Channel:     string(models.ChannelAccountDelete),
		Operation:   "confirm_deletion",
		Outcome:     "accepted",
	})
	return nil
}

// Get returns the account by ID.
func (s *AccountService) Get(ctx context.Context, accountID string) (*models.Account, error) {
	return s.get(ctx, accountID)
}

func (s *AccountService) get(ctx context.Context, accountID string) (*models.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrInvalidInput)
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return account, nil
}

func (s *AccountService) findByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = util.NormalizeSubject(email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", ErrInvalidInput)
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return account, nil
}

// mustConsume maps a non-accepted consume result onto the matching sentinel
// so tier transitions only ever proceed on Accepted.
func (s *AccountService) mustConsume(ctx context.Context, subject string, channel models.Channel, value string, now time.Time) error {
	result, err := s.codes.Consume(ctx, subject, channel, value, now)
	if err != nil {
		return err
	}

	switch result {
	case models.ConsumeAccepted:
		return nil
	case models.ConsumeNoneIssued:
		return ErrNoneIssued
	case models.ConsumeExpired:
		return ErrExpired
	case models.ConsumeAlreadyConsumed:
		return ErrAlreadyConsumed
	default:
		return ErrWrongCode
	}
}

// store re-checks the guard and persists. The invariant check is the last
// line of defense against a future transition being added without its guard.
func (s *AccountService) store(ctx context.Context, account *models.Account, now time.Time) error {
	if !account.InvariantHolds() {
		return ErrGuardViolation
	}

	ts := now
	account.UpdatedAt = &ts

	if err := s.accounts.Put(ctx, account); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *AccountService) recordTransition(account *models.Account, from models.Tier, now time.Time, operation string) {
	if from != account.Tier {
		s.metrics.RecordTierTransition(string(from), string(account.Tier))
	}

	s.audit.Record(models.AuditEvent{
		At:          now,
		SubjectHash: util.SubjectHash(account.Email),
		Operation:   operation,
		Outcome:     string(account.Tier),
	})

	util.Info("Account transition applied",
		zap.String("account_id", account.AccountID),
		zap.String("operation", operation),
		zap.String("tier", string(account.Tier)))
}
