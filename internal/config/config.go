package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// Config is the full, immutable service configuration. It is constructed
// once by Load at process start and passed explicitly to every component;
// there is no global accessor.
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Elastic    ElasticConfig
	KMS        KMSConfig
	Gateway    GatewayConfig
	Encryption EncryptionConfig
	OTP        OTPConfig
	RateLimit  RateLimitConfig
	Bucketing  BucketingConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
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
	AuditTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type GatewayConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

type EncryptionConfig struct {
	// MasterKey is the base64-encoded 32-byte key used to wrap DEKs when
	// KMS is disabled and to derive search-hash keys.
	MasterKey string
}

type OTPConfig struct {
	TTL               time.Duration
	MaxAttempts       int
	MaxResends        int
	ResendMinInterval time.Duration
}

// WindowLimit is one (window, ceiling) pair for a rate-limit purpose.
type WindowLimit struct {
	Window time.Duration
	Max    int
}

type RateLimitConfig struct {
	// FailOpen admits a request when the limiter's own storage check
	// errors. Default is fail-closed.
	FailOpen    bool
	SendIP      WindowLimit
	SendPhone   WindowLimit
	VerifyIP    WindowLimit
	VerifyPhone WindowLimit
}

type BucketingConfig struct {
	PhoneBuckets int
	EventBuckets int
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Load reads configuration from .env (if present) and the process
// environment. Validation collects every missing or malformed required
// value and returns them in a single error, so operators fix one
// deployment instead of replaying startup failures.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:        util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:         util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:        util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    util.GetEnv("SERVER_AUTOCERT_DIR", "/var/lib/otp-service/certs"),
			Email:          util.GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			RequestTimeout: util.GetEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "otp_service"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			AuditTopic: util.GetEnv("KAFKA_AUDIT_TOPIC", "otp-audit-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "otp_audit"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elastic: ElasticConfig{
			URL:        util.GetEnv("ELASTIC_URL", "http://localhost:9200"),
			Username:   util.GetEnv("ELASTIC_USERNAME", ""),
			Password:   util.GetEnv("ELASTIC_PASSWORD", ""),
			AuditIndex: util.GetEnv("ELASTIC_AUDIT_INDEX", "otp-audit"),
		},
		KMS: KMSConfig{
			Enabled: util.GetEnvBool("KMS_ENABLED", false),
			KeyID:   util.GetEnv("KMS_KEY_ID", ""),
			Region:  util.GetEnv("KMS_REGION", "ap-southeast-1"),
		},
		Gateway: GatewayConfig{
			BaseURL:   util.GetEnv("SMS_GATEWAY_BASE_URL", ""),
			APIKey:    util.GetEnv("SMS_GATEWAY_API_KEY", ""),
			APISecret: util.GetEnv("SMS_GATEWAY_API_SECRET", ""),
			Timeout:   util.GetEnvDuration("SMS_GATEWAY_TIMEOUT", 30*time.Second),
		},
		Encryption: EncryptionConfig{
			MasterKey: util.GetEnv("ENCRYPTION_MASTER_KEY", ""),
		},
		OTP: OTPConfig{
			TTL:               util.GetEnvDuration("OTP_TTL", 5*time.Minute),
			MaxAttempts:       util.GetEnvInt("OTP_MAX_ATTEMPTS", 3),
			MaxResends:        util.GetEnvInt("OTP_MAX_RESENDS", 3),
			ResendMinInterval: util.GetEnvDuration("OTP_RESEND_MIN_INTERVAL", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			FailOpen: util.GetEnvBool("RATE_LIMIT_FAIL_OPEN", false),
			SendIP: WindowLimit{
				Window: util.GetEnvDuration("RATE_LIMIT_SEND_IP_WINDOW", time.Minute),
				Max:    util.GetEnvInt("RATE_LIMIT_SEND_IP_MAX", 5),
			},
			SendPhone: WindowLimit{
				Window: util.GetEnvDuration("RATE_LIMIT_SEND_PHONE_WINDOW", 5*time.Minute),
				Max:    util.GetEnvInt("RATE_LIMIT_SEND_PHONE_MAX", 3),
			},
			VerifyIP: WindowLimit{
				Window: util.GetEnvDuration("RATE_LIMIT_VERIFY_IP_WINDOW", time.Minute),
				Max:    util.GetEnvInt("RATE_LIMIT_VERIFY_IP_MAX", 10),
			},
			VerifyPhone: WindowLimit{
				Window: util.GetEnvDuration("RATE_LIMIT_VERIFY_PHONE_WINDOW", 15*time.Minute),
				Max:    util.GetEnvInt("RATE_LIMIT_VERIFY_PHONE_MAX", 5),
			},
		},
		Bucketing: BucketingConfig{
			PhoneBuckets: util.GetEnvInt("BUCKETING_PHONE_BUCKETS", 64),
			EventBuckets: util.GetEnvInt("BUCKETING_EVENT_BUCKETS", 16),
		},
	}

	if problems := cfg.validate(); len(problems) > 0 {
		return nil, fmt.Errorf("configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}

	return cfg, nil
}

// validate returns every configuration problem at once rather than
// failing on the first.
func (c *Config) validate() []string {
	var problems []string

	if c.Gateway.BaseURL == "" {
		problems = append(problems, "SMS_GATEWAY_BASE_URL is required")
	}
	if c.Gateway.APIKey == "" {
		problems = append(problems, "SMS_GATEWAY_API_KEY is required")
	}
	if c.Encryption.MasterKey == "" {
		problems = append(problems, "ENCRYPTION_MASTER_KEY is required")
	} else if key, err := base64.StdEncoding.DecodeString(c.Encryption.MasterKey); err != nil {
		problems = append(problems, "ENCRYPTION_MASTER_KEY must be base64-encoded")
	} else if len(key) != 32 {
		problems = append(problems, fmt.Sprintf("ENCRYPTION_MASTER_KEY must decode to 32 bytes, got %d", len(key)))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		problems = append(problems, "KMS_KEY_ID is required when KMS_ENABLED=true")
	}
	if c.OTP.TTL <= 0 {
		problems = append(problems, "OTP_TTL must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		problems = append(problems, "OTP_MAX_ATTEMPTS must be positive")
	}
	if c.OTP.MaxResends < 0 {
		problems = append(problems, "OTP_MAX_RESENDS must not be negative")
	}
	if c.OTP.ResendMinInterval < 0 {
		problems = append(problems, "OTP_RESEND_MIN_INTERVAL must not be negative")
	}
	for name, wl := range map[string]WindowLimit{
		"RATE_LIMIT_SEND_IP":      c.RateLimit.SendIP,
		"RATE_LIMIT_SEND_PHONE":   c.RateLimit.SendPhone,
		"RATE_LIMIT_VERIFY_IP":    c.RateLimit.VerifyIP,
		"RATE_LIMIT_VERIFY_PHONE": c.RateLimit.VerifyPhone,
	} {
		if wl.Window <= 0 {
			problems = append(problems, name+"_WINDOW must be positive")
		}
		if wl.Max <= 0 {
			problems = append(problems, name+"_MAX must be positive")
		}
	}
	if c.Bucketing.PhoneBuckets <= 0 {
		problems = append(problems, "BUCKETING_PHONE_BUCKETS must be positive")
	}
	if c.Bucketing.EventBuckets <= 0 {
		problems = append(problems, "BUCKETING_EVENT_BUCKETS must be positive")
	}
	if c.Server.EnableTLS && c.Server.AutoCert && c.Server.Domain == "" {
		problems = append(problems, "SERVER_DOMAIN is required when SERVER_AUTO_CERT=true")
	}

	return problems
}

// MasterKeyBytes returns the decoded master key. Load has already
// validated the encoding and length.
func (c *Config) MasterKeyBytes() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.Encryption.MasterKey)
	return key
}
