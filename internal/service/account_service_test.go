package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
	"verification-service/internal/derive"
	"verification-service/internal/hashing"
	"verification-service/internal/models"
)

type accountServiceFixture struct {
	svc      *AccountService
	accounts *fakeAccountStore
	codes    *codeServiceFixture
}

func newAccountServiceFixture(t *testing.T, cfg *config.Config) *accountServiceFixture {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	codes := &codeServiceFixture{
		store:    newFakeCodeStore(),
		notifier: &fakeNotifier{},
		attempts: newFakeAttempts(),
		sink:     &fakeSink{},
	}
	codes.svc = NewCodeService(codes.store, hashing.NewHasher(cfg), codes.notifier, codes.attempts, codes.sink, nil, cfg)

	accounts := newFakeAccountStore()
	return &accountServiceFixture{
		svc:      NewAccountService(accounts, codes.svc, &fakeSink{}, nil),
		accounts: accounts,
		codes:    codes,
	}
}

// registered creates an account and walks it through registration
// confirmation.
func (f *accountServiceFixture) registered(t *testing.T, email string, promoterIntent bool, now time.Time) *models.Account {
	t.Helper()

	_, err := f.svc.Register(context.Background(), email, "+1 555 123 4567", promoterIntent, now)
	require.NoError(t, err)

	account, err := f.svc.CompleteRegistration(context.Background(), email, f.codes.notifier.lastValue(), now)
	require.NoError(t, err)
	return account
}

func TestRegisterCreatesClient(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Now().UTC()

	account, err := f.svc.Register(context.Background(), "User@Example.com", "", false, now)
	require.NoError(t, err)

	assert.Equal(t, models.TierClient, account.Tier)
	assert.Equal(t, "user@example.com", account.Email)
	assert.False(t, account.EmailVerified)
	assert.Equal(t, 1, f.codes.notifier.emails)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Now().UTC()

	_, err := f.svc.Register(context.Background(), "user@example.com", "", false, now)
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), "user@example.com", "", true, now)
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestCompleteRegistrationWithIntentEntersPending(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	account := f.registered(t, "user@example.com", true, time.Now().UTC())

	assert.True(t, account.EmailVerified)
	assert.Equal(t, models.TierPendingPromoter, account.Tier)
}

func TestCompleteRegistrationWithoutIntentStaysClient(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	account := f.registered(t, "user@example.com", false, time.Now().UTC())

	assert.True(t, account.EmailVerified)
	assert.Equal(t, models.TierClient, account.Tier)
}

func TestCompleteRegistrationRejectsWrongCode(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Now().UTC()

	_, err := f.svc.Register(context.Background(), "user@example.com", "", true, now)
	require.NoError(t, err)

	_, err = f.svc.CompleteRegistration(context.Background(), "user@example.com", "999999x", now)
	assert.ErrorIs(t, err, ErrWrongCode)

	stored, err := f.svc.Get(context.Background(), storedID(t, f, "user@example.com"))
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
	assert.Equal(t, models.TierClient, stored.Tier)
}

func TestValidatePhonePromotesPending(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	account := f.registered(t, "user@example.com", true, now)
	require.Equal(t, models.TierPendingPromoter, account.Tier)

	// The formula code of the day is always a valid phone-channel input.
	account, err := f.svc.ValidatePhone(context.Background(), account.AccountID, derive.PhoneCode(now), now)
	require.NoError(t, err)

	assert.True(t, account.PhoneVerified)
	assert.Equal(t, models.TierPromoter, account.Tier)
	assert.True(t, account.InvariantHolds())
}

func TestValidatePhoneWithIssuedSMSCode(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Now().UTC()
	account := f.registered(t, "user@example.com", true, now)

	_, err := f.codes.svc.Issue(context.Background(), account.Phone, models.ChannelPhoneValidate, now)
	require.NoError(t, err)

	account, err = f.svc.ValidatePhone(context.Background(), account.AccountID, f.codes.notifier.lastValue(), now)
	require.NoError(t, err)
	assert.True(t, account.PhoneVerified)
	assert.Equal(t, models.TierPromoter, account.Tier)
}

func TestPromoteWithoutVerifiedPhoneIsGuarded(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	account := f.registered(t, "user@example.com", true, time.Now().UTC())
	require.Equal(t, models.TierPendingPromoter, account.Tier)

	_, err := f.svc.Promote(context.Background(), account.AccountID, time.Now().UTC())
	assert.ErrorIs(t, err, ErrGuardViolation)

	stored, err := f.svc.Get(context.Background(), account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, models.TierPendingPromoter, stored.Tier)
}

func TestPromoteClientWithoutPhoneIsRedirected(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	account := f.registered(t, "user@example.com", false, time.Now().UTC())
	require.Equal(t, models.TierClient, account.Tier)

	_, err := f.svc.Promote(context.Background(), account.AccountID, time.Now().UTC())
	assert.ErrorIs(t, err, ErrPhoneValidationRequired)

	stored, err := f.svc.Get(context.Background(), account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, models.TierClient, stored.Tier)
}

func TestPromoteWithVerifiedPhoneNeedsNoCode(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	account := f.registered(t, "user@example.com", true, now)

	account, err := f.svc.ValidatePhone(context.Background(), account.AccountID, derive.PhoneCode(now), now)
	require.NoError(t, err)

	// Opt out, then come back: the verified phone carries over.
	account, err = f.svc.Downgrade(context.Background(), account.AccountID, now)
	require.NoError(t, err)
	require.Equal(t, models.TierClient, account.Tier)
	require.True(t, account.PhoneVerified)

	account, err = f.svc.Promote(context.Background(), account.AccountID, now)
	require.NoError(t, err)
	assert.Equal(t, models.TierPromoter, account.Tier)
}

func TestDowngradeKeepsPhoneVerified(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	account := f.registered(t, "user@example.com", true, now)

	account, err := f.svc.ValidatePhone(context.Background(), account.AccountID, derive.PhoneCode(now), now)
	require.NoError(t, err)
	require.Equal(t, models.TierPromoter, account.Tier)

	account, err = f.svc.Downgrade(context.Background(), account.AccountID, now)
	require.NoError(t, err)

	assert.Equal(t, models.TierClient, account.Tier)
	assert.True(t, account.PhoneVerified)
	assert.True(t, account.EmailVerified)
}

func TestInvalidatePhoneDropsPromoter(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	account := f.registered(t, "user@example.com", true, now)

	account, err := f.svc.ValidatePhone(context.Background(), account.AccountID, derive.PhoneCode(now), now)
	require.NoError(t, err)
	require.Equal(t, models.TierPromoter, account.Tier)

	account, err = f.svc.InvalidatePhone(context.Background(), account.AccountID, now)
	require.NoError(t, err)

	assert.Equal(t, models.TierClient, account.Tier)
	assert.False(t, account.PhoneVerified)
	assert.True(t, account.EmailVerified)
	assert.True(t, account.InvariantHolds())
}

func TestEmailChangeRequiresCodeAgainstNewAddress(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Now().UTC()
	account := f.registered(t, "old@example.com", false, now)

	err := f.svc.RequestEmailChange(context.Background(), account.AccountID, "new@example.com", now)
	require.NoError(t, err)

	// Old address stays authoritative until consumption.
	stored, err := f.svc.Get(context.Background(), account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "old@example.com", stored.Email)

	changed, err := f.svc.ConfirmEmailChange(context.Background(), account.AccountID, "new@example.com", f.codes.notifier.lastValue(), now)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", changed.Email)
	assert.True(t, changed.EmailVerified)
}

func TestEmailChangeRejectsTakenAddress(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Now().UTC()

	f.registered(t, "first@example.com", false, now)
	second := f.registered(t, "second@example.com", false, now)

	err := f.svc.RequestEmailChange(context.Background(), second.AccountID, "first@example.com", now)
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestDeletionFlow(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Now().UTC()
	account := f.registered(t, "user@example.com", false, now)

	require.NoError(t, f.svc.RequestDeletion(context.Background(), account.AccountID, now))

	err := f.svc.ConfirmDeletion(context.Background(), account.AccountID, f.codes.notifier.lastValue(), now)
	assert.NoError(t, err)
}

func TestGetUnknownAccount(t *testing.T) {
	f := newAccountServiceFixture(t, nil)

	_, err := f.svc.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// Invariant sweep: tier == promoter implies phoneVerified after every stored
// mutation, across a whole operation sequence.
func TestPromoterGuardHoldsAcrossSequence(t *testing.T) {
	f := newAccountServiceFixture(t, nil)
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	account := f.registered(t, "user@example.com", true, now)

	steps := []func() (*models.Account, error){
		func() (*models.Account, error) { return f.svc.Promote(context.Background(), account.AccountID, now) },
		func() (*models.Account, error) {
			return f.svc.ValidatePhone(context.Background(), account.AccountID, derive.PhoneCode(now), now)
		},
		func() (*models.Account, error) { return f.svc.Downgrade(context.Background(), account.AccountID, now) },
		func() (*models.Account, error) { return f.svc.Promote(context.Background(), account.AccountID, now) },
		func() (*models.Account, error) { return f.svc.InvalidatePhone(context.Background(), account.AccountID, now) },
		func() (*models.Account, error) { return f.svc.Promote(context.Background(), account.AccountID, now) },
	}

	for _, step := range steps {
		_, _ = step()
		stored, err := f.svc.Get(context.Background(), account.AccountID)
		require.NoError(t, err)
		assert.True(t, stored.InvariantHolds())
	}
}

func storedID(t *testing.T, f *accountServiceFixture, email string) string {
	t.Helper()

	account, err := f.accounts.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return account.AccountID
}
