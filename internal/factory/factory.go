// Package factory manages the lifecycle of all application dependencies.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"verification-service/internal/audit"
	"verification-service/internal/bucketing"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/encryption"
	"verification-service/internal/hashing"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/notify"
	redisrepo "verification-service/internal/repository/redis"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/service"
	"verification-service/internal/util"
)

// Factory owns every client, repository and service and closes them in
// reverse dependency order.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories and collaborators
	accountRepository *scylla.AccountRepository
	codeStore         *redisrepo.CodeStore
	sessionStore      *redisrepo.SessionStore
	attemptCache      *redisrepo.AttemptCache
	notifier          models.Notifier
	auditSink         models.AuditSink
	collector         *metrics.Collector
	registry          *prometheus.Registry

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeManagers()
	f.initializeRepositories()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("clickhouse_enabled", cfg.ClickHouse.Enabled),
	)

	return f, nil
}

// initializeClients initializes external service clients with health checks.
// Redis and Scylla are critical in production; Kafka and ClickHouse degrade
// to fallbacks.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if c, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = c
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	if c, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = c
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - falling back to log notifier", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	if f.config.ClickHouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers.
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config - PII encryption falls back to local keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
			util.Info("KMS client initialized", util.String("region", f.config.KMS.Region))
		}
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	f.registry = prometheus.NewRegistry()
	f.collector = metrics.NewCollector(f.registry)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
}

func (f *Factory) initializeRepositories() {
	f.accountRepository = scylla.NewAccountRepository(
		f.scyllaClient,
		f.encryptionManager,
		f.bucketingManager,
		util.Get(),
	)

	f.codeStore = redisrepo.NewCodeStore(f.redisClient)
	f.sessionStore = redisrepo.NewSessionStore(f.redisClient)
	f.attemptCache = redisrepo.NewAttemptCache(f.redisClient, f.config)

	if f.kafkaProducer != nil {
		f.notifier = notify.NewKafkaNotifier(f.kafkaProducer, f.config)
	} else {
		f.notifier = notify.NewLogNotifier()
	}

	if f.clickhouseClient != nil {
		f.auditSink = audit.NewClickHouseSink(f.clickhouseClient)
	} else {
		f.auditSink = audit.NopSink{}
	}
}

// ServiceFactory returns the service layer, building it on first use.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.accountRepository,
			f.codeStore,
			f.sessionStore,
			f.hasher,
			f.notifier,
			f.attemptCache,
			f.auditSink,
			f.collector,
			f.config,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// HealthCheck probes every initialized client in parallel.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var mu sync.Mutex
	healthErrors := make(map[string]error)

	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		healthErrors[name] = err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.redisClient == nil {
			record("redis", fmt.Errorf("redis client not initialized"))
		} else if err := f.redisClient.HealthCheck(gctx); err != nil {
			record("redis", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.scyllaClient == nil {
			record("scylla", fmt.Errorf("scylla client not initialized"))
		} else if err := f.scyllaClient.HealthCheck(); err != nil {
			record("scylla", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.HealthCheck(gctx); err != nil {
				record("kafka", err)
			}
		}
		return nil
	})

	g.Go(func() error {
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.HealthCheck(gctx); err != nil {
				record("clickhouse", err)
			}
		}
		return nil
	})

	_ = g.Wait()

	return healthErrors
}

// IsHealthy reports whether the critical dependencies are reachable. Kafka
// and ClickHouse are best-effort and do not fail readiness.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if sink, ok := f.auditSink.(*audit.ClickHouseSink); ok {
			sink.Close()
			util.Info("Audit sink flushed and closed")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Registry() *prometheus.Registry {
	return f.registry
}
