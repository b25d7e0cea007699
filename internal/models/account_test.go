package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTierDefaultsToClient(t *testing.T) {
	assert.Equal(t, TierClient, ParseTier("client"))
	assert.Equal(t, TierPendingPromoter, ParseTier("pending_promoter"))
	assert.Equal(t, TierPromoter, ParseTier("promoter"))

	// Unknown or corrupt values never grant promoter status.
	assert.Equal(t, TierClient, ParseTier(""))
	assert.Equal(t, TierClient, ParseTier("admin"))
	assert.Equal(t, TierClient, ParseTier("Promoter"))
}

func TestInvariantHolds(t *testing.T) {
	assert.True(t, (&Account{Tier: TierClient}).InvariantHolds())
	assert.True(t, (&Account{Tier: TierPendingPromoter}).InvariantHolds())
	assert.True(t, (&Account{Tier: TierPromoter, PhoneVerified: true}).InvariantHolds())
	assert.False(t, (&Account{Tier: TierPromoter}).InvariantHolds())
}

func TestMergeAccountStoreWins(t *testing.T) {
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	stored := &Account{
		AccountID: "a1",
		Email:     "stored@example.com",
		Tier:      TierPromoter,
		CreatedAt: created,
	}
	cached := &Account{
		AccountID: "a1",
		Email:     "cached@example.com",
		Phone:     "+15551234567",
		Tier:      TierClient,
	}

	merged := MergeAccount(stored, cached)

	assert.Equal(t, "stored@example.com", merged.Email)
	assert.Equal(t, TierPromoter, merged.Tier)
	assert.Equal(t, created, merged.CreatedAt)
	// Zero fields fill from the cached copy.
	assert.Equal(t, "+15551234567", merged.Phone)
}

func TestMergeAccountNilSides(t *testing.T) {
	account := &Account{AccountID: "a1"}
	assert.Equal(t, account, MergeAccount(nil, account))
	assert.Equal(t, account, MergeAccount(account, nil))
}

func TestVerificationCodeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	code := &VerificationCode{ExpiresAt: now.Add(15 * time.Minute)}

	assert.False(t, code.Expired(now))
	assert.False(t, code.Expired(now.Add(15*time.Minute)))
	assert.True(t, code.Expired(now.Add(15*time.Minute+time.Second)))

	assert.False(t, code.Consumed())
	consumed := now.Add(time.Minute)
	code.ConsumedAt = &consumed
	assert.True(t, code.Consumed())
}

func TestParseChannel(t *testing.T) {
	for _, valid := range []string{"email_register", "email_change", "phone_validate", "password_reset", "account_delete"} {
		c, err := ParseChannel(valid)
		assert.NoError(t, err)
		assert.Equal(t, Channel(valid), c)
	}

	_, err := ParseChannel("sms")
	assert.Error(t, err)

	assert.True(t, ChannelPhoneValidate.IsSMS())
	assert.False(t, ChannelEmailRegister.IsSMS())
}
