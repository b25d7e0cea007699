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
	"verification-service/internal/util"
)

type codeServiceFixture struct {
	svc      *CodeService
	store    *fakeCodeStore
	notifier *fakeNotifier
	attempts *fakeAttempts
	sink     *fakeSink
}

func newCodeServiceFixtureWith(t *testing.T, cfg *config.Config) *codeServiceFixture {
	t.Helper()

	f := &codeServiceFixture{
		store:    newFakeCodeStore(),
		notifier: &fakeNotifier{},
		attempts: newFakeAttempts(),
		sink:     &fakeSink{},
	}
	f.svc = NewCodeService(f.store, hashing.NewHasher(cfg), f.notifier, f.attempts, f.sink, nil, cfg)
	return f
}

func newCodeServiceFixture(t *testing.T) *codeServiceFixture {
	t.Helper()
	return newCodeServiceFixtureWith(t, testConfig())
}

func TestIssueThenConsumeAccepted(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)

	code, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)
	assert.NotEmpty(t, code.CodeID)
	assert.Equal(t, now.Add(15*time.Minute), code.ExpiresAt)
	assert.Empty(t, code.ConsumedAt)
	assert.Equal(t, 1, f.notifier.emails)

	value := f.notifier.lastValue()
	require.Len(t, value, 6)

	result, err := f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, value, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeAccepted, result)
}

func TestConsumeSingleUse(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Now().UTC()

	_, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)
	value := f.notifier.lastValue()

	first, err := f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, value, now)
	require.NoError(t, err)
	require.Equal(t, models.ConsumeAccepted, first)

	// Replaying the same correct value must never yield a second Accepted.
	second, err := f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, value, now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeAlreadyConsumed, second)
}

func TestConsumeWrongCode(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Now().UTC()

	_, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)

	result, err := f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, "000000x", now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeWrongCode, result)
}

func TestConsumeNoneIssued(t *testing.T) {
	f := newCodeServiceFixture(t)

	result, err := f.svc.Consume(context.Background(), "nobody@example.com", models.ChannelEmailRegister, "123456x", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeNoneIssued, result)
}

func TestConsumeExpired(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Now().UTC()

	_, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)
	value := f.notifier.lastValue()

	// Correct value, but past expiry: expired wins over wrong.
	result, err := f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, value, now.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeExpired, result)
}

func TestReissueSupersedesPrevious(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Now().UTC()

	_, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)
	firstValue := f.notifier.lastValue()

	_, err = f.svc.Resend(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)
	secondValue := f.notifier.lastValue()

	// The first value is dead after the resend.
	result, err := f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, firstValue, now)
	require.NoError(t, err)
	if firstValue != secondValue {
		assert.Equal(t, models.ConsumeWrongCode, result)
	}

	result, err = f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, secondValue, now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeAccepted, result)
}

func TestChannelsAreIndependent(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Now().UTC()

	_, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)
	registerValue := f.notifier.lastValue()

	_, err = f.svc.Issue(context.Background(), "user@example.com", models.ChannelPasswordReset, now)
	require.NoError(t, err)

	// The register code is still live; the reset issuance touched a
	// different pair.
	result, err := f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, registerValue, now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeAccepted, result)
}

func TestMasterCodeAcceptedOnAnyChannel(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)
	master := derive.MasterCode(now)

	// No code was ever issued; the override still matches.
	result, err := f.svc.Consume(context.Background(), "anyone@example.com", models.ChannelPasswordReset, master, now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeAccepted, result)

	// And it is not single-use.
	result, err = f.svc.Consume(context.Background(), "anyone@example.com", models.ChannelAccountDelete, master, now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeAccepted, result)
}

func TestMasterCodeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Codes.MasterEnabled = false
	f := newCodeServiceFixtureWith(t, cfg)

	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)
	result, err := f.svc.Consume(context.Background(), "anyone@example.com", models.ChannelPasswordReset, derive.MasterCode(now), now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeNoneIssued, result)
}

func TestDerivedPhoneCodeAccepted(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)

	result, err := f.svc.Consume(context.Background(), "+15551234567", models.ChannelPhoneValidate, derive.PhoneCode(now), now)
	require.NoError(t, err)
	assert.Equal(t, models.ConsumeAccepted, result)
}

func TestDerivedPhoneModeIssuesDailyCode(t *testing.T) {
	cfg := testConfig()
	cfg.Codes.PhoneMode = "derived"
	f := newCodeServiceFixtureWith(t, cfg)

	now := time.Date(2025, 12, 19, 10, 0, 0, 0, time.UTC)
	code, err := f.svc.Issue(context.Background(), "+15551234567", models.ChannelPhoneValidate, now)
	require.NoError(t, err)

	assert.Equal(t, derive.PhoneCode(now), f.notifier.lastValue())
	assert.Equal(t, derive.EndOfDay(now), code.ExpiresAt)
	assert.Equal(t, 1, f.notifier.sms)
}

func TestDeletionCodeHasLongExpiry(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Now().UTC()

	code, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelAccountDelete, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), code.ExpiresAt)
}

func TestIssueSurvivesDeliveryFailure(t *testing.T) {
	f := newCodeServiceFixture(t)
	f.notifier.failSends = true
	now := time.Now().UTC()

	code, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)

	stored, err := f.store.GetLatest(context.Background(), "user@example.com", models.ChannelEmailRegister)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, code.CodeID, stored.CodeID)
}

func TestConsumeRejectsEmptyInput(t *testing.T) {
	f := newCodeServiceFixture(t)

	_, err := f.svc.Consume(context.Background(), "", models.ChannelEmailRegister, "123456", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, "", time.Now().UTC())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLockedKeyRejectsConsume(t *testing.T) {
	f := newCodeServiceFixture(t)
	now := time.Now().UTC()

	_, err := f.svc.Issue(context.Background(), "user@example.com", models.ChannelEmailRegister, now)
	require.NoError(t, err)

	key := string(models.ChannelEmailRegister) + ":" + util.SubjectHash("user@example.com")
	f.attempts.locked[key] = true

	_, err = f.svc.Consume(context.Background(), "user@example.com", models.ChannelEmailRegister, f.notifier.lastValue(), now)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}
