package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Purpose labels keep derived keys independent per use. Changing a label
// invalidates every hash derived under it.
const (
	PurposePhoneSearch = "phone-search"
	PurposeEventKey    = "event-key"
)

// currentPepperVersion tags new hashes so the pepper can be rotated
// without breaking lookups on existing rows.
const currentPepperVersion = "v1"

// Hasher produces deterministic, keyed search hashes. Determinism is
// required: phone_hash is the partition key for session lookup, so the
// same phone must always hash to the same value under a given pepper
// version.
type Hasher struct {
	keys map[string][]byte
}

// NewHasher derives one HMAC key per purpose from the master key via
// HKDF-SHA256. The master key itself is never used directly.
func NewHasher(masterKey []byte) (*Hasher, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(masterKey))
	}

	h := &Hasher{keys: make(map[string][]byte)}
	for _, purpose := range []string{PurposePhoneSearch, PurposeEventKey} {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, masterKey, nil, []byte("otp-hash/"+purpose+"/"+currentPepperVersion))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", purpose, err)
		}
		h.keys[purpose] = key
	}
	return h, nil
}

// SearchHash returns the versioned search hash for value under purpose,
// formatted as "<version>:<hex>". Lookups must use the same purpose.
func (h *Hasher) SearchHash(purpose, value string) (string, error) {
	key, ok := h.keys[purpose]
	if !ok {
		return "", fmt.Errorf("unknown hash purpose %q", purpose)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return currentPepperVersion + ":" + hex.EncodeToString(mac.Sum(nil)), nil
}

// HashPhone is the search hash used as the sessions partition key.
func (h *Hasher) HashPhone(normalizedPhone string) (string, error) {
	return h.SearchHash(PurposePhoneSearch, normalizedPhone)
}

// VersionOf extracts the pepper version prefix from a stored hash.
func VersionOf(storedHash string) string {
	if i := strings.IndexByte(storedHash, ':'); i > 0 {
		return storedHash[:i]
	}
	return ""
}
