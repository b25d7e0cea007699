package models

import (
	"context"
	"time"
)

// -------------------- STORE INTERFACES --------------------

// AccountStore defines the account persistence operations the subsystem
// consumes. Implementations must provide per-key atomic read-modify-write
// and read-your-writes consistency per account.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*Account, error)
	Put(ctx context.Context, account *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByPhone(ctx context.Context, phone string) (*Account, error)
	HealthCheck(ctx context.Context) error
}

// CodeStore holds the single active verification code per (subject, channel).
// Put supersedes any prior record for the pair; Consume is an atomic
// check-and-set on the consumed flag and must accept at most one caller for
// a given code ID.
type CodeStore interface {
	GetLatest(ctx context.Context, subject string, channel Channel) (*VerificationCode, error)
	Put(ctx context.Context, code *VerificationCode, retention time.Duration) error
	Consume(ctx context.Context, subject string, channel Channel, codeID string, now time.Time) (bool, error)
	Lock(ctx context.Context, subject string, channel Channel, ttl time.Duration) (func(), error)
}

// SessionStore keeps access-gate grants keyed by opaque session tokens.
type SessionStore interface {
	Grant(ctx context.Context, token string, ttl time.Duration) error
	Granted(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string) error
}

// -------------------- COLLABORATOR INTERFACES --------------------

// Notifier delivers codes out of band. Fire-and-forget: a delivery failure
// never rolls back issuance.
type Notifier interface {
	SendEmail(ctx context.Context, address, subject, body string) error
	SendSMS(ctx context.Context, number, body string) error
}

// AttemptCounter records code-submission attempts. The default policy is
// observational only; a positive threshold turns on lockout, which is an
// explicit hardening choice and off unless configured.
type AttemptCounter interface {
	Record(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
	Locked(ctx context.Context, key string) (bool, error)
}

// AuditSink receives verification events for offline analysis. Must never
// block the request path.
type AuditSink interface {
	Record(event AuditEvent)
}

// AuditEvent is one row of the verification audit trail.
type AuditEvent struct {
	At          time.Time
	SubjectHash string
	Channel     string
	Operation   string
	Outcome     string
	RemoteAddr  string
}
