// Package factory manages the lifecycle of all application dependencies:
// clients, managers, repositories, and the OTP service itself.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/audit"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/bucketing"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/client"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/encryption"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/gateway"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/hashing"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/limiter"
	redisrepo "github.com/ryukenshin546-a11y/Sms-sub001/internal/repository/redis"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/repository/scylla"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/service"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/tls"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.BucketingManager

	// Wired components
	sessionRepository *scylla.SessionRepository
	verifiedPhoneRepo *scylla.VerifiedPhoneRepository
	sessionCache      *redisrepo.SessionCache
	rateLimiter       *limiter.RedisLimiter
	auditLogger       *audit.Logger
	gatewayClient     gateway.Client
	otpService        *service.OTPService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency.
// Kafka is the only degradable client: the audit fan-out skips it when
// the producer is unavailable. Everything else is required.
func NewFactory() (*Factory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.wireComponents()

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_available", factory.kafkaProducer != nil),
	)

	return factory, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if redisClient, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		}
	}

	if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		}
	}

	// Audit still reaches ClickHouse and Elasticsearch without Kafka.
	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if esClient, err := client.NewElasticsearchClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
	}

	if chClient, err := client.NewClickHouseClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
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

func (f *Factory) initializeManagers() error {
	hasher, err := hashing.NewHasher(f.config.MasterKeyBytes())
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	kmsClient, err := client.NewKMSClient(f.config)
	if err != nil {
		return fmt.Errorf("kms: %w", err)
	}

	f.encryptionManager, err = encryption.NewManager(f.config, kmsClient)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}

	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	return nil
}

func (f *Factory) wireComponents() {
	f.sessionRepository = scylla.NewSessionRepository(f.scyllaClient)
	f.verifiedPhoneRepo = scylla.NewVerifiedPhoneRepository(f.scyllaClient)
	f.sessionCache = redisrepo.NewSessionCache(f.redisClient)

	rateLimitCache := redisrepo.NewRateLimitCache(f.redisClient)
	f.rateLimiter = limiter.NewRedisLimiter(rateLimitCache, f.config)

	f.auditLogger = audit.NewLogger(f.clickhouseClient, f.kafkaProducer, f.esClient, f.bucketingManager, f.config)
	f.gatewayClient = gateway.NewHTTPClient(f.config)

	f.otpService = service.NewOTPService(
		f.sessionRepository,
		f.verifiedPhoneRepo,
		f.sessionCache,
		f.gatewayClient,
		f.rateLimiter,
		f.auditLogger,
		f.encryptionManager,
		f.hasher,
		f.bucketingManager,
		f.config,
	)
}

// HealthCheck runs every client's check and returns a per-dependency
// error map. Kafka absence is reported but does not make the service
// unhealthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
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

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) OTPService() *service.OTPService {
	return f.otpService
}

func (f *Factory) AuditLogger() *audit.Logger {
	return f.auditLogger
}
