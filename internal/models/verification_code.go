package models

import (
	"fmt"
	"time"
)

// Channel is the purpose a verification code was issued for. Codes are
// independent per channel even for the same subject.
type Channel string

const (
	ChannelEmailRegister Channel = "email_register"
	ChannelEmailChange   Channel = "email_change"
	ChannelPhoneValidate Channel = "phone_validate"
	ChannelPasswordReset Channel = "password_reset"
	ChannelAccountDelete Channel = "account_delete"
)

// ParseChannel validates a wire-level channel string.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelEmailRegister, ChannelEmailChange, ChannelPhoneValidate,
		ChannelPasswordReset, ChannelAccountDelete:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

// IsSMS reports whether the channel delivers over SMS rather than email.
func (c Channel) IsSMS() bool {
	return c == ChannelPhoneValidate
}

// VerificationCode is the stored record for the single active code of a
// (subject, channel) pair. The raw value never leaves issuance; only an
// argon2id hash is stored.
type VerificationCode struct {
	CodeID        string     `json:"code_id"`
	Subject       string     `json:"subject"`
	Channel       Channel    `json:"channel"`
	ValueHash     string     `json:"value_hash"`
	ValueSalt     string     `json:"value_salt"`
	PepperVersion int        `json:"pepper_version"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty"`
}

// Expired reports whether the code is past its expiry at the given instant.
func (v *VerificationCode) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// Consumed reports whether the code was already used.
func (v *VerificationCode) Consumed() bool {
	return v.ConsumedAt != nil
}

// ConsumeResult classifies the outcome of a consume attempt. Wrong code,
// expired, none issued, and already consumed are deliberately distinct so
// presentation layers can choose what to collapse.
type ConsumeResult string

const (
	ConsumeAccepted        ConsumeResult = "accepted"
	ConsumeWrongCode       ConsumeResult = "wrong_code"
	ConsumeExpired         ConsumeResult = "expired"
	ConsumeNoneIssued      ConsumeResult = "none_issued"
	ConsumeAlreadyConsumed ConsumeResult = "already_consumed"
)

// AccessSession is the session-scoped grant for the daily access gate. It is
// keyed by an opaque token and is never tied to an account.
type AccessSession struct {
	Token     string    `json:"token"`
	Granted   bool      `json:"granted"`
	GrantedAt time.Time `json:"granted_at"`
}
