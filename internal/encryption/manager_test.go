package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Encryption: config.EncryptionConfig{
			MasterKey: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		},
	}
}

func TestNewManagerValidation(t *testing.T) {
	cfg := &config.Config{
		Encryption: config.EncryptionConfig{
			MasterKey: base64.StdEncoding.EncodeToString([]byte("short")),
		},
	}
	_, err := NewManager(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.KMS.Enabled = true
	_, err = NewManager(cfg, nil)
	assert.Error(t, err, "KMS mode requires a KMS client")
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	data, err := m.EncryptField(context.Background(), "66812345678")
	require.NoError(t, err)
	assert.Equal(t, "local-master", data.KeyID)
	assert.NotEmpty(t, data.EncryptedValue)
	assert.NotEmpty(t, data.EncryptedDEK)
	assert.NotContains(t, data.EncryptedValue, "66812345678")

	plain, err := m.DecryptField(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "66812345678", plain)
}

func TestDecryptSurvivesCacheClearAndRestart(t *testing.T) {
	cfg := testConfig()
	m1, err := NewManager(cfg, nil)
	require.NoError(t, err)

	data, err := m1.EncryptField(context.Background(), "66812345678")
	require.NoError(t, err)

	m1.ClearCache()
	plain, err := m1.DecryptField(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "66812345678", plain)

	// A fresh manager with the same master key unwraps the DEK cold.
	m2, err := NewManager(cfg, nil)
	require.NoError(t, err)
	plain, err = m2.DecryptField(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "66812345678", plain)
}

func TestEachFieldGetsAFreshDEK(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	a, err := m.EncryptField(context.Background(), "66812345678")
	require.NoError(t, err)
	b, err := m.EncryptField(context.Background(), "66812345678")
	require.NoError(t, err)

	assert.NotEqual(t, a.EncryptedDEK, b.EncryptedDEK)
	assert.NotEqual(t, a.EncryptedValue, b.EncryptedValue)
}

func TestSerializeDeserialize(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	data, err := m.EncryptField(context.Background(), "66812345678")
	require.NoError(t, err)

	stored, err := data.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(stored)
	require.NoError(t, err)

	plain, err := m.DecryptField(context.Background(), restored)
	require.NoError(t, err)
	assert.Equal(t, "66812345678", plain)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize("not json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestDecryptWithWrongMasterKeyFails(t *testing.T) {
	m1, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	data, err := m1.EncryptField(context.Background(), "66812345678")
	require.NoError(t, err)

	other := &config.Config{
		Encryption: config.EncryptionConfig{
			MasterKey: base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210")),
		},
	}
	m2, err := NewManager(other, nil)
	require.NoError(t, err)

	_, err = m2.DecryptField(context.Background(), data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestTamperedCiphertextFails(t *testing.T) {
	m, err := NewManager(testConfig(), nil)
	require.NoError(t, err)

	data, err := m.EncryptField(context.Background(), "66812345678")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	data.EncryptedValue = base64.StdEncoding.EncodeToString(raw)

	_, err = m.DecryptField(context.Background(), data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}
