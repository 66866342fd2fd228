package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/ryukenshin546-a11y/Sms-sub001/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// localKeyID marks DEKs wrapped under the configured master key rather
// than KMS. Decryption routes on this value.
const localKeyID = "local-master"

// EncryptedData is the envelope stored in the phone_encrypted column.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manager performs envelope encryption: each field is sealed under a
// fresh AES-256-GCM DEK, and the DEK is wrapped by KMS when enabled or
// by the master key otherwise. Decrypted DEKs are cached keyed by their
// wrapped form.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	masterKey []byte
	keyCache  sync.Map
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) (*Manager, error) {
	masterKey := cfg.MasterKeyBytes()
	if len(masterKey) != 32 {
		return nil, errors.New("master key must decode to 32 bytes")
	}
	if cfg.KMS.Enabled && kmsClient == nil {
		return nil, errors.New("KMS enabled but no KMS client provided")
	}
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
		masterKey: masterKey,
	}, nil
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.KMS.Enabled {
		return m.generateLocalKey()
	}

	input := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		plaintext:  result.Plaintext,
		ciphertext: result.CiphertextBlob,
		keyID:      m.config.KMS.KeyID,
	}, nil
}

// generateLocalKey wraps a fresh DEK under the master key so the stored
// envelope never contains key material in the clear.
func (m *Manager) generateLocalKey() (*dataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	wrapped, err := sealWithKey(m.masterKey, key)
	if err != nil {
		return nil, err
	}

	return &dataKey{
		plaintext:  key,
		ciphertext: wrapped,
		keyID:      localKeyID,
	}, nil
}

// EncryptField seals plaintext under a fresh DEK and returns the full
// envelope ready for storage.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	sealed, err := sealWithKey(dk.plaintext, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	cacheKey := base64.StdEncoding.EncodeToString(dk.ciphertext)
	m.keyCache.Store(cacheKey, dk.plaintext)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK:   cacheKey,
		KeyID:          dk.keyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField unwraps the DEK (cache, KMS, or master key depending on
// how it was wrapped) and opens the value.
func (m *Manager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	cacheKey := data.EncryptedDEK
	if cached, ok := m.keyCache.Load(cacheKey); ok {
		return openWithKeyB64(cached.([]byte), data.EncryptedValue)
	}

	wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var plaintextDEK []byte
	if data.KeyID == localKeyID {
		plaintextDEK, err = openWithKey(m.masterKey, wrapped)
		if err != nil {
			return "", fmt.Errorf("%w: failed to unwrap DEK: %v", ErrDecryptionFailed, err)
		}
	} else {
		if m.kmsClient == nil {
			return "", fmt.Errorf("%w: KMS-wrapped DEK but KMS is not configured", ErrDecryptionFailed)
		}
		result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	}

	m.keyCache.Store(cacheKey, plaintextDEK)

	return openWithKeyB64(plaintextDEK, data.EncryptedValue)
}

// Serialize renders the envelope for the phone_encrypted text column.
func (data *EncryptedData) Serialize() (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(b), nil
}

func Deserialize(stored string) (*EncryptedData, error) {
	var data EncryptedData
	if err := json.Unmarshal([]byte(stored), &data); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}
	return &data, nil
}

func sealWithKey(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openWithKeyB64(key []byte, encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := openWithKey(key, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func openWithKey(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// ClearCache drops all cached DEKs.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
