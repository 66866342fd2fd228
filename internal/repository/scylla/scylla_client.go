package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
	"github.com/ryukenshin546-a11y/Sms-sub001/internal/util"
)

// PreparedStatements holds the statements used by the repositories.
// The conditional updates are lightweight transactions: each one applies
// only when the stored row still matches its IF clause, which is what
// keeps concurrent verifies and resends from double-applying.
type PreparedStatements struct {
	CreateSession       *gocql.Query
	CreateRefToSession  *gocql.Query
	GetSessionByID      *gocql.Query
	GetSessionIDByOTPID *gocql.Query
	IncrementAttempts   *gocql.Query
	TransitionStatus    *gocql.Query
	ApplyResend         *gocql.Query
	CreateVerifiedPhone *gocql.Query
	GetVerifiedPhone    *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

// sessionRetentionSeconds keeps rows queryable long after the OTP
// expires so expired sessions still answer verify attempts with the
// right status instead of NOT_FOUND.
const sessionRetentionSeconds = 86400

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_TLS_CA_FILE", "/root/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", "/root/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", "/root/certs/server.key"),
			EnableHostVerification: true,
		}
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
		util.Any("nodes", scyllaConfig.Nodes),
		util.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateSession = s.Session.Query(fmt.Sprintf(`
        INSERT INTO otp_sessions (
            session_id, phone_bucket, phone_encrypted, phone_key_id, phone_hash,
            user_id, otp_id, reference_code, status, expires_at,
            verification_attempts, max_attempts, resend_count, max_resends,
            last_resend_at, verified_at, request_id, client_ip, user_agent,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        USING TTL %d`, sessionRetentionSeconds))

	prepared.CreateRefToSession = s.Session.Query(fmt.Sprintf(`
        INSERT INTO otp_ref_to_session (otp_id, session_id, reference_code, created_at)
        VALUES (?, ?, ?, ?)
        USING TTL %d`, sessionRetentionSeconds))

	prepared.GetSessionByID = s.Session.Query(`
        SELECT session_id, phone_bucket, phone_encrypted, phone_key_id, phone_hash,
            user_id, otp_id, reference_code, status, expires_at,
            verification_attempts, max_attempts, resend_count, max_resends,
            last_resend_at, verified_at, request_id, client_ip, user_agent,
            created_at, updated_at
        FROM otp_sessions WHERE session_id = ?`)

	prepared.GetSessionIDByOTPID = s.Session.Query(`
        SELECT session_id FROM otp_ref_to_session WHERE otp_id = ?`)

	prepared.IncrementAttempts = s.Session.Query(`
        UPDATE otp_sessions SET verification_attempts = ?, updated_at = ?
        WHERE session_id = ?
        IF verification_attempts = ? AND status = 'pending'`)

	prepared.TransitionStatus = s.Session.Query(`
        UPDATE otp_sessions SET status = ?, verified_at = ?, updated_at = ?
        WHERE session_id = ?
        IF status = 'pending'`)

	prepared.ApplyResend = s.Session.Query(`
        UPDATE otp_sessions SET resend_count = ?, otp_id = ?, reference_code = ?,
            expires_at = ?, last_resend_at = ?, verification_attempts = 0, updated_at = ?
        WHERE session_id = ?
        IF resend_count = ? AND status = 'pending'`)

	prepared.CreateVerifiedPhone = s.Session.Query(`
        INSERT INTO verified_phones (
            phone_hash, phone_encrypted, phone_key_id, user_id,
            source_session_id, verified_at, method, is_active
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetVerifiedPhone = s.Session.Query(`
        SELECT phone_hash, phone_encrypted, phone_key_id, user_id,
            source_session_id, verified_at, method, is_active
        FROM verified_phones WHERE phone_hash = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
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
			if err == gocql.ErrNotFound || i == 2 {
				return err
			}
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}
