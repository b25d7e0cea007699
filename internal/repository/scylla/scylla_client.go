package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/util"
)

// PreparedStatements holds the statements the account repository uses.
type PreparedStatements struct {
	UpsertAccount      *gocql.Query
	GetAccountByID     *gocql.Query
	UpsertEmailLookup  *gocql.Query
	UpsertPhoneLookup  *gocql.Query
	GetAccountByEmail  *gocql.Query
	GetAccountByPhone  *gocql.Query
	DeleteEmailLookup  *gocql.Query
	DeletePhoneLookup  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.UpsertAccount = s.Session.Query(`
        INSERT INTO accounts (
            account_bucket, account_id, email_encrypted, email_dek, email_key_id,
            phone_encrypted, phone_dek, phone_key_id, email_hash, phone_hash,
            email_verified, phone_verified, tier, promoter_intent,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetAccountByID = s.Session.Query(`
        SELECT account_bucket, account_id, email_encrypted, email_dek, email_key_id,
            phone_encrypted, phone_dek, phone_key_id, email_hash, phone_hash,
            email_verified, phone_verified, tier, promoter_intent,
            created_at, updated_at
        FROM accounts WHERE account_bucket = ? AND account_id = ?`)

	prepared.UpsertEmailLookup = s.Session.Query(`
        INSERT INTO email_to_account (email_hash, account_bucket, account_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.UpsertPhoneLookup = s.Session.Query(`
        INSERT INTO phone_to_account (phone_hash, account_bucket, account_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetAccountByEmail = s.Session.Query(`
        SELECT account_bucket, account_id FROM email_to_account WHERE email_hash = ?`)

	prepared.GetAccountByPhone = s.Session.Query(`
        SELECT account_bucket, account_id FROM phone_to_account WHERE phone_hash = ?`)

	prepared.DeleteEmailLookup = s.Session.Query(`
        DELETE FROM email_to_account WHERE email_hash = ?`)

	prepared.DeletePhoneLookup = s.Session.Query(`
        DELETE FROM phone_to_account WHERE phone_hash = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound {
				return err
			}
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
