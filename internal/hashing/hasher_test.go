package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewHasherRejectsShortKey(t *testing.T) {
	_, err := NewHasher([]byte("too short"))
	assert.Error(t, err)
}

func TestHashPhoneIsDeterministic(t *testing.T) {
	h1, err := NewHasher(testKey())
	require.NoError(t, err)
	h2, err := NewHasher(testKey())
	require.NoError(t, err)

	a, err := h1.HashPhone("66812345678")
	require.NoError(t, err)
	b, err := h2.HashPhone("66812345678")
	require.NoError(t, err)

	// Partition-key lookups depend on this holding across process
	// restarts.
	assert.Equal(t, a, b)
}

func TestHashesDifferAcrossInputs(t *testing.T) {
	h, err := NewHasher(testKey())
	require.NoError(t, err)

	a, _ := h.HashPhone("66812345678")
	b, _ := h.HashPhone("66812345679")
	assert.NotEqual(t, a, b)
}

func TestPurposesAreIndependent(t *testing.T) {
	h, err := NewHasher(testKey())
	require.NoError(t, err)

	phone, err := h.SearchHash(PurposePhoneSearch, "66812345678")
	require.NoError(t, err)
	event, err := h.SearchHash(PurposeEventKey, "66812345678")
	require.NoError(t, err)
	assert.NotEqual(t, phone, event)
}

func TestUnknownPurpose(t *testing.T) {
	h, err := NewHasher(testKey())
	require.NoError(t, err)

	_, err = h.SearchHash("nope", "value")
	assert.Error(t, err)
}

func TestHashFormatAndVersion(t *testing.T) {
	h, err := NewHasher(testKey())
	require.NoError(t, err)

	hash, err := h.HashPhone("66812345678")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "v1:"))
	assert.Len(t, hash, len("v1:")+64)

	assert.Equal(t, "v1", VersionOf(hash))
	assert.Equal(t, "", VersionOf("no-version-prefix"))
	assert.Equal(t, "", VersionOf(""))
}

func TestDifferentMasterKeysProduceDifferentHashes(t *testing.T) {
	h1, err := NewHasher(testKey())
	require.NoError(t, err)
	h2, err := NewHasher([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	a, _ := h1.HashPhone("66812345678")
	b, _ := h2.HashPhone("66812345678")
	assert.NotEqual(t, a, b)
}
