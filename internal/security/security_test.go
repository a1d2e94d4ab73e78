package security

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(SpoolKeySize)
	require.NoError(t, err)
	assert.Len(t, key, SpoolKeySize)

	other, err := GenerateKey(SpoolKeySize)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(key, other), "two generated keys should differ")
}

func TestGenerateKey_RejectsSmallSizes(t *testing.T) {
	_, err := GenerateKey(MinKeySize - 1)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	master, err := GenerateKey(SpoolKeySize)
	require.NoError(t, err)

	a, err := DeriveKey(master, nil, []byte("info"), SpoolKeySize)
	require.NoError(t, err)
	b, err := DeriveKey(master, nil, []byte("info"), SpoolKeySize)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same inputs must derive the same key")

	c, err := DeriveKey(master, nil, []byte("other"), SpoolKeySize)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "different info must derive different keys")
}

func TestDeriveKey_WeakMasterRejected(t *testing.T) {
	_, err := DeriveKey([]byte("tiny"), nil, nil, SpoolKeySize)
	assert.ErrorIs(t, err, ErrWeakKey)
}

func TestSpoolKey_SeparatesSessions(t *testing.T) {
	master, err := GenerateKey(SpoolKeySize)
	require.NoError(t, err)

	a, err := SpoolKey(master, "sess-1")
	require.NoError(t, err)
	b, err := SpoolKey(master, "sess-2")
	require.NoError(t, err)

	assert.Len(t, a, SpoolKeySize)
	assert.NotEqual(t, a, b, "sessions must not share spool keys")
	assert.NotEqual(t, a, master)
}

func TestAuthenticateAndVerify(t *testing.T) {
	key, err := GenerateKey(SpoolKeySize)
	require.NoError(t, err)
	data := []byte("spooled submission payload")

	tag := Authenticate(key, data)
	assert.Len(t, tag, 32)
	assert.True(t, VerifyTag(key, data, tag))

	mutated := append([]byte(nil), data...)
	mutated[0] ^= 0x01
	assert.False(t, VerifyTag(key, mutated, tag))

	wrongKey, err := GenerateKey(SpoolKeySize)
	require.NoError(t, err)
	assert.False(t, VerifyTag(wrongKey, data, tag))
}

func TestWipe(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	Wipe(key)
	assert.Equal(t, []byte{0, 0, 0, 0}, key)
}

func TestValidateKeyStrength(t *testing.T) {
	key, err := GenerateKey(SpoolKeySize)
	require.NoError(t, err)
	assert.NoError(t, ValidateKeyStrength(key))

	assert.True(t, errors.Is(ValidateKeyStrength([]byte("short")), ErrWeakKey))
	assert.True(t, errors.Is(ValidateKeyStrength(bytes.Repeat([]byte{0xAA}, 32)), ErrWeakKey),
		"a constant key has no variation")
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	// One token per hour: after the burst is spent no refill arrives
	// within the test.
	r := NewRateLimiter(1.0/3600, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow(), "burst operation %d", i)
	}
	assert.False(t, r.Allow(), "burst exhausted")

	r.Reset()
	assert.True(t, r.Allow(), "reset restores capacity")
}

func TestSessionRateLimiter_IsolatesSessions(t *testing.T) {
	s := NewSessionRateLimiter(1.0/3600, 1)

	assert.True(t, s.Allow("sess-1"))
	assert.False(t, s.Allow("sess-1"))
	assert.True(t, s.Allow("sess-2"), "sessions have independent buckets")

	s.Forget("sess-1")
	assert.True(t, s.Allow("sess-1"), "forgotten session starts fresh")
}
