package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SMS_GATEWAY_BASE_URL", "https://sms.example.com")
	t.Setenv("SMS_GATEWAY_API_KEY", "key-1")
	t.Setenv("ENCRYPTION_MASTER_KEY",
		base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, ":8080", cfg.GetServerAddress())

	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 3, cfg.OTP.MaxResends)
	assert.Equal(t, 60*time.Second, cfg.OTP.ResendMinInterval)

	assert.False(t, cfg.RateLimit.FailOpen, "fail-closed is the default")
	assert.Equal(t, 3, cfg.RateLimit.SendPhone.Max)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.SendPhone.Window)

	assert.Len(t, cfg.MasterKeyBytes(), 32)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OTP_TTL", "3m")
	t.Setenv("OTP_MAX_ATTEMPTS", "5")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "true")
	t.Setenv("SCYLLA_NODES", "node1:9042,node2:9042")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 3*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, []string{"node1:9042", "node2:9042"}, cfg.Scylla.Nodes)
}

func TestLoadCollectsAllProblems(t *testing.T) {
	t.Setenv("SMS_GATEWAY_BASE_URL", "")
	t.Setenv("SMS_GATEWAY_API_KEY", "")
	t.Setenv("ENCRYPTION_MASTER_KEY", "")
	t.Setenv("OTP_TTL", "0s")

	_, err := Load()
	require.Error(t, err)
	// One startup failure reports every problem, not only the first.
	assert.Contains(t, err.Error(), "SMS_GATEWAY_BASE_URL")
	assert.Contains(t, err.Error(), "SMS_GATEWAY_API_KEY")
	assert.Contains(t, err.Error(), "ENCRYPTION_MASTER_KEY")
	assert.Contains(t, err.Error(), "OTP_TTL")
}

func TestLoadRejectsBadMasterKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENCRYPTION_MASTER_KEY", "not-base64!!!")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")

	t.Setenv("ENCRYPTION_MASTER_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoadRequiresKMSKeyWhenEnabled(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KMS_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KMS_KEY_ID")

	t.Setenv("KMS_KEY_ID", "arn:aws:kms:ap-southeast-1:000000000000:key/test")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.KMS.Enabled)
}
