package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration, loaded once at startup from the
// environment (optionally seeded from a .env file).
type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Redis       RedisConfig
	Scylla      ScyllaConfig
	Kafka       KafkaConfig
	ClickHouse  ClickHouseConfig
	KMS         KMSConfig
	Codes       CodesConfig
	Attempts    AttemptsConfig
	Bucketing   BucketingConfig
	Hashing     HashingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers    []string
	EmailTopic string
	SMSTopic   string
}

type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// CodesConfig carries the code-lifecycle policy knobs. PhoneMode selects
// between random SMS codes and the formula-derived daily phone code.
type CodesConfig struct {
	EmailTTL       time.Duration // registration, email change, password reset
	DeletionTTL    time.Duration // account-deletion confirmation
	SMSTTL         time.Duration // random phone codes
	Retention      time.Duration // how long a record outlives its expiry
	PhoneMode      string        // "random" or "derived"
	MasterEnabled  bool
	GateSessionTTL time.Duration
}

// AttemptsConfig controls attempt counting. LockThreshold 0 keeps the legacy
// no-lockout behavior; a positive value is an explicit hardening choice.
type AttemptsConfig struct {
	Window        time.Duration
	LockThreshold int
	LockDuration  time.Duration
}

type BucketingConfig struct {
	AccountBuckets int
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

var loaded *Config

// LoadConfig reads the environment into a Config. A .env file is honored
// when present but never required.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "verification"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			EmailTopic: getEnv("KAFKA_EMAIL_TOPIC", "notifications.email"),
			SMSTopic:   getEnv("KAFKA_SMS_TOPIC", "notifications.sms"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "verification"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "eu-west-1"),
		},
		Codes: CodesConfig{
			EmailTTL:       getEnvDuration("CODES_EMAIL_TTL", 15*time.Minute),
			DeletionTTL:    getEnvDuration("CODES_DELETION_TTL", 24*time.Hour),
			SMSTTL:         getEnvDuration("CODES_SMS_TTL", 15*time.Minute),
			Retention:      getEnvDuration("CODES_RETENTION", 24*time.Hour),
			PhoneMode:      getEnv("CODES_PHONE_MODE", "random"),
			MasterEnabled:  getEnvBool("CODES_MASTER_ENABLED", true),
			GateSessionTTL: getEnvDuration("GATE_SESSION_TTL", 12*time.Hour),
		},
		Attempts: AttemptsConfig{
			Window:        getEnvDuration("ATTEMPTS_WINDOW", 10*time.Minute),
			LockThreshold: getEnvInt("ATTEMPTS_LOCK_THRESHOLD", 0),
			LockDuration:  getEnvDuration("ATTEMPTS_LOCK_DURATION", 15*time.Minute),
		},
		Bucketing: BucketingConfig{
			AccountBuckets: getEnvInt("ACCOUNT_BUCKETS", 128),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 4),
			Pepper:            getEnv("HASHING_PEPPER", ""),
		},
	}

	loaded = cfg
	return cfg
}

// Get returns the last loaded config, loading it on first use.
func Get() *Config {
	if loaded == nil {
		return LoadConfig()
	}
	return loaded
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
