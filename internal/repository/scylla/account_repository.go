package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verification-service/internal/bucketing"
	"verification-service/internal/encryption"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

// ErrNotFound is returned when no account exists for the given key.
var ErrNotFound = errors.New("account not found")

// AccountRepository implements models.AccountStore on Scylla. Accounts live
// in a table keyed by (bucket, id); email and phone are envelope-encrypted
// at rest with SHA-256 lookup tables for the find-by operations.
type AccountRepository struct {
	client        *ScyllaClient
	encryptionMgr *encryption.EncryptionManager
	bucketingMgr  *bucketing.BucketingManager
}

func NewAccountRepository(
	client *ScyllaClient,
	encryptionMgr *encryption.EncryptionManager,
	bucketingMgr *bucketing.BucketingManager,
	logger *zap.Logger,
) *AccountRepository {
	return &AccountRepository{
		client:        client,
		encryptionMgr: encryptionMgr,
		bucketingMgr:  bucketingMgr,
	}
}

type accountRow struct {
	bucket         int
	accountID      string
	emailEncrypted string
	emailDEK       string
	emailKeyID     string
	phoneEncrypted string
	phoneDEK       string
	phoneKeyID     string
	emailHash      string
	phoneHash      string
	emailVerified  bool
	phoneVerified  bool
	tier           string
	promoterIntent bool
	createdAt      time.Time
	updatedAt      *time.Time
}

func (r *AccountRepository) Get(ctx context.Context, accountID string) (*models.Account, error) {
	bucket := r.bucketingMgr.AccountBucket(accountID)

	row := &accountRow{}
	query := r.client.Prepared.GetAccountByID.Bind(bucket, accountID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&row.bucket, &row.accountID, &row.emailEncrypted, &row.emailDEK, &row.emailKeyID,
		&row.phoneEncrypted, &row.phoneDEK, &row.phoneKeyID, &row.emailHash, &row.phoneHash,
		&row.emailVerified, &row.phoneVerified, &row.tier, &row.promoterIntent,
		&row.createdAt, &row.updatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		util.Error("Failed to get account",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return r.toAccount(ctx, row)
}

func (r *AccountRepository) Put(ctx context.Context, account *models.Account) error {
	account.AccountBucket = r.bucketingMgr.AccountBucket(account.AccountID)

	row, err := r.toRow(ctx, account)
	if err != nil {
		return err
	}

	// Fetch the previous row so stale lookup entries can be removed when the
	// email or phone changed.
	prev, prevErr := r.Get(ctx, account.AccountID)
	if prevErr != nil && !errors.Is(prevErr, ErrNotFound) {
		return prevErr
	}

	query := r.client.Prepared.UpsertAccount.Bind(
		row.bucket, row.accountID, row.emailEncrypted, row.emailDEK, row.emailKeyID,
		row.phoneEncrypted, row.phoneDEK, row.phoneKeyID, row.emailHash, row.phoneHash,
		row.emailVerified, row.phoneVerified, row.tier, row.promoterIntent,
		row.createdAt, row.updatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	now := time.Now().UTC()
	if row.emailHash != "" {
		lookup := r.client.Prepared.UpsertEmailLookup.Bind(row.emailHash, row.bucket, row.accountID, now).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(lookup, 2); err != nil {
			return fmt.Errorf("failed to upsert email lookup: %w", err)
		}
	}
	if row.phoneHash != "" {
		lookup := r.client.Prepared.UpsertPhoneLookup.Bind(row.phoneHash, row.bucket, row.accountID, now).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(lookup, 2); err != nil {
			return fmt.Errorf("failed to upsert phone lookup: %w", err)
		}
	}

	if prev != nil {
		r.cleanupStaleLookups(ctx, prev, account)
	}

	util.Debug("Account stored",
		zap.String("account_id", account.AccountID),
		zap.String("tier", string(account.Tier)))

	return nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findByLookup(ctx, r.client.Prepared.GetAccountByEmail, util.SubjectHash(email))
}

func (r *AccountRepository) FindByPhone(ctx context.Context, phone string) (*models.Account, error) {
	return r.findByLookup(ctx, r.client.Prepared.GetAccountByPhone, util.SubjectHash(phone))
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}

func (r *AccountRepository) findByLookup(ctx context.Context, stmt *gocql.Query, hash string) (*models.Account, error) {
	var bucket int
	var accountID string

	query := stmt.Bind(hash).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &accountID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve account lookup: %w", err)
	}

	return r.Get(ctx, accountID)
}

func (r *AccountRepository) cleanupStaleLookups(ctx context.Context, prev, next *models.Account) {
	prevEmail, nextEmail := util.SubjectHash(prev.Email), util.SubjectHash(next.Email)
	if prev.Email != "" && prevEmail != nextEmail {
		q := r.client.Prepared.DeleteEmailLookup.Bind(prevEmail).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(q, 1); err != nil {
			util.Warn("Failed to delete stale email lookup", zap.Error(err))
		}
	}

	prevPhone, nextPhone := util.SubjectHash(prev.Phone), util.SubjectHash(next.Phone)
	if prev.Phone != "" && prevPhone != nextPhone {
		q := r.client.Prepared.DeletePhoneLookup.Bind(prevPhone).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(q, 1); err != nil {
			util.Warn("Failed to delete stale phone lookup", zap.Error(err))
		}
	}
}

func (r *AccountRepository) toRow(ctx context.Context, account *models.Account) (*accountRow, error) {
	row := &accountRow{
		bucket:         account.AccountBucket,
		accountID:      account.AccountID,
		emailVerified:  account.EmailVerified,
		phoneVerified:  account.PhoneVerified,
		tier:           string(account.Tier),
		promoterIntent: account.PromoterIntent,
		createdAt:      account.CreatedAt,
		updatedAt:      account.UpdatedAt,
	}

	if account.Email != "" {
		enc, err := r.encryptionMgr.EncryptField(ctx, account.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt email: %w", err)
		}
		row.emailEncrypted = enc.EncryptedValue
		row.emailDEK = enc.EncryptedDEK
		row.emailKeyID = enc.KeyID
		row.emailHash = util.SubjectHash(account.Email)
	}

	if account.Phone != "" {
		enc, err := r.encryptionMgr.EncryptField(ctx, account.Phone)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt phone: %w", err)
		}
		row.phoneEncrypted = enc.EncryptedValue
		row.phoneDEK = enc.EncryptedDEK
		row.phoneKeyID = enc.KeyID
		row.phoneHash = util.SubjectHash(account.Phone)
	}

	return row, nil
}

func (r *AccountRepository) toAccount(ctx context.Context, row *accountRow) (*models.Account, error) {
	account := &models.Account{
		AccountID:      row.accountID,
		AccountBucket:  row.bucket,
		EmailVerified:  row.emailVerified,
		PhoneVerified:  row.phoneVerified,
		Tier:           models.ParseTier(row.tier),
		PromoterIntent: row.promoterIntent,
		CreatedAt:      row.createdAt,
		UpdatedAt:      row.updatedAt,
	}

	if row.emailEncrypted != "" {
		email, err := r.encryptionMgr.DecryptField(ctx, &encryption.EncryptedData{
			EncryptedValue: row.emailEncrypted,
			EncryptedDEK:   row.emailDEK,
			KeyID:          row.emailKeyID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt email: %w", err)
		}
		account.Email = email
	}

	if row.phoneEncrypted != "" {
		phone, err := r.encryptionMgr.DecryptField(ctx, &encryption.EncryptedData{
			EncryptedValue: row.phoneEncrypted,
			EncryptedDEK:   row.phoneDEK,
			KeyID:          row.phoneKeyID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt phone: %w", err)
		}
		account.Phone = phone
	}

	return account, nil
}
