package service

import (
	"context"
	"regexp"
	"sync"
	"time"

	"verification-service/internal/config"
	"verification-service/internal/models"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/util"
)

// In-memory store fakes. They keep the same contracts the Redis and Scylla
// implementations provide: supersede on Put, CAS on Consume, not-found
// sentinels on the account lookups.

type fakeCodeStore struct {
	mu    sync.Mutex
	codes map[string]*models.VerificationCode
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: make(map[string]*models.VerificationCode)}
}

func codeKey(subject string, channel models.Channel) string {
	return string(channel) + "|" + subject
}

func (f *fakeCodeStore) GetLatest(ctx context.Context, subject string, channel models.Channel) (*models.VerificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	code, ok := f.codes[codeKey(subject, channel)]
	if !ok {
		return nil, nil
	}
	copied := *code
	return &copied, nil
}

func (f *fakeCodeStore) Put(ctx context.Context, code *models.VerificationCode, retention time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *code
	f.codes[codeKey(code.Subject, code.Channel)] = &copied
	return nil
}

func (f *fakeCodeStore) Consume(ctx context.Context, subject string, channel models.Channel, codeID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	code, ok := f.codes[codeKey(subject, channel)]
	if !ok || code.CodeID != codeID || code.ConsumedAt != nil {
		return false, nil
	}
	ts := now
	code.ConsumedAt = &ts
	return true, nil
}

func (f *fakeCodeStore) Lock(ctx context.Context, subject string, channel models.Channel, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]*models.Account)}
}

func (f *fakeAccountStore) Get(ctx context.Context, accountID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	account, ok := f.accounts[accountID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (f *fakeAccountStore) Put(ctx context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *account
	f.accounts[account.AccountID] = &copied
	return nil
}

func (f *fakeAccountStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	norm := util.NormalizeSubject(email)
	for _, account := range f.accounts {
		if account.Email == norm {
			copied := *account
			return &copied, nil
		}
	}
	return nil, scylla.ErrNotFound
}

func (f *fakeAccountStore) FindByPhone(ctx context.Context, phone string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	norm := util.NormalizeSubject(phone)
	for _, account := range f.accounts {
		if account.Phone == norm {
			copied := *account
			return &copied, nil
		}
	}
	return nil, scylla.ErrNotFound
}

func (f *fakeAccountStore) HealthCheck(ctx context.Context) error { return nil }

type fakeSessionStore struct {
	mu     sync.Mutex
	grants map[string]bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{grants: make(map[string]bool)}
}

func (f *fakeSessionStore) Grant(ctx context.Context, token string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[token] = true
	return nil
}

func (f *fakeSessionStore) Granted(ctx context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants[token], nil
}

func (f *fakeSessionStore) Revoke(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.grants, token)
	return nil
}

// fakeNotifier captures the last delivery so tests can extract the raw code
// value the same way a recipient would.
type fakeNotifier struct {
	mu        sync.Mutex
	emails    int
	sms       int
	lastBody  string
	failSends bool
}

var codeValuePattern = regexp.MustCompile(`\d{4,8}`)

func (f *fakeNotifier) SendEmail(ctx context.Context, address, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends {
		return context.DeadlineExceeded
	}
	f.emails++
	f.lastBody = body
	return nil
}

func (f *fakeNotifier) SendSMS(ctx context.Context, number, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends {
		return context.DeadlineExceeded
	}
	f.sms++
	f.lastBody = body
	return nil
}

func (f *fakeNotifier) lastValue() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return codeValuePattern.FindString(f.lastBody)
}

type fakeAttempts struct {
	mu     sync.Mutex
	counts map[string]int
	locked map[string]bool
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{counts: make(map[string]int), locked: make(map[string]bool)}
}

func (f *fakeAttempts) Record(ctx context.Context, key string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeAttempts) Reset(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	return nil
}

func (f *fakeAttempts) Locked(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked[key], nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (f *fakeSink) Record(event models.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Codes: config.CodesConfig{
			EmailTTL:       15 * time.Minute,
			DeletionTTL:    24 * time.Hour,
			SMSTTL:         15 * time.Minute,
			Retention:      24 * time.Hour,
			PhoneMode:      "random",
			MasterEnabled:  true,
			GateSessionTTL: 12 * time.Hour,
		},
		Attempts: config.AttemptsConfig{
			Window: 10 * time.Minute,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
		},
	}
}
