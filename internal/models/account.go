package models

import "time"

// Tier is the promoter-status state of an account.
type Tier string

const (
	TierClient          Tier = "client"
	TierPendingPromoter Tier = "pending_promoter"
	TierPromoter        Tier = "promoter"
)

// ParseTier maps a stored string onto a Tier, defaulting to client for
// anything unrecognized so a corrupt row can never grant promoter status.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPendingPromoter:
		return TierPendingPromoter
	case TierPromoter:
		return TierPromoter
	default:
		return TierClient
	}
}

// Account is the verification subsystem's view of a user record. IDs are
// externally assigned; the subsystem mutates only the verification flags,
// the tier, and the email field (after a confirmed change).
type Account struct {
	AccountID      string     `json:"account_id" db:"account_id"`
	AccountBucket  int        `json:"-" db:"account_bucket"`
	Email          string     `json:"email,omitempty" db:"email"`
	Phone          string     `json:"phone,omitempty" db:"phone"`
	EmailVerified  bool       `json:"email_verified" db:"email_verified"`
	PhoneVerified  bool       `json:"phone_verified" db:"phone_verified"`
	Tier           Tier       `json:"tier" db:"tier"`
	PromoterIntent bool       `json:"promoter_intent" db:"promoter_intent"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Invariant: tier == promoter implies phoneVerified. Checked after every
// mutation the state machine applies.
func (a *Account) InvariantHolds() bool {
	return a.Tier != TierPromoter || a.PhoneVerified
}

// MergeAccount combines the authoritative store row with a cached or
// session-scoped copy. Precedence is fixed: the store row wins for every
// field; cached values only fill fields the row left at their zero value.
func MergeAccount(stored, cached *Account) *Account {
	if stored == nil {
		return cached
	}
	if cached == nil {
		return stored
	}

	merged := *stored
	if merged.Email == "" {
		merged.Email = cached.Email
	}
	if merged.Phone == "" {
		merged.Phone = cached.Phone
	}
	if merged.Tier == "" {
		merged.Tier = cached.Tier
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = cached.CreatedAt
	}
	if merged.UpdatedAt == nil {
		merged.UpdatedAt = cached.UpdatedAt
	}
	return &merged
}
