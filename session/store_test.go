package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignedValueRoundTrip(t *testing.T) {
	signed := signValue("session-id", testSecret)
	require.True(t, strings.HasPrefix(signed, "session-id."))
	require.False(t, strings.HasSuffix(signed, "="), "signature padding must be stripped")

	v, ok := unsignValue(signed, []string{testSecret})
	require.True(t, ok)
	require.Equal(t, "session-id", v)
}

func TestUnsignValueSecretRotation(t *testing.T) {
	signed := signValue("session-id", "old-secret")

	v, ok := unsignValue(signed, []string{"new-secret", "old-secret"})
	require.True(t, ok)
	require.Equal(t, "session-id", v)

	_, ok = unsignValue(signed, []string{"new-secret"})
	require.False(t, ok)
}

func TestUnsignValueRejectsTampering(t *testing.T) {
	signed := signValue("session-id", testSecret)
	tampered := strings.Replace(signed, "session-id", "other-id", 1)

	_, ok := unsignValue(tampered, []string{testSecret})
	require.False(t, ok)

	_, ok = unsignValue("no-separator", []string{testSecret})
	require.False(t, ok)
}

func TestHashedStoreKeying(t *testing.T) {
	inner := NewMemoryStore()
	hs := &hashedStore{inner: inner}

	longID := strings.Repeat("x", maxPlainKeyLen+1)
	shortID := "legacy-id"

	require.NoError(t, hs.Set(longID, &Record{Data: map[string]any{"a": 1}}))

	t.Run("long identifiers are hashed", func(t *testing.T) {
		_, err := inner.Get(longID)
		require.ErrorIs(t, err, ErrNotFound)

		rec, err := inner.Get(hashKey(longID))
		require.NoError(t, err)
		require.EqualValues(t, 1, rec.Data["a"])

		rec, err = hs.Get(longID)
		require.NoError(t, err)
		require.EqualValues(t, 1, rec.Data["a"])
	})

	t.Run("short identifiers pass through on read", func(t *testing.T) {
		require.NoError(t, inner.Set(shortID, &Record{Data: map[string]any{"b": 2}}))

		rec, err := hs.Get(shortID)
		require.NoError(t, err)
		require.EqualValues(t, 2, rec.Data["b"])

		require.NoError(t, hs.Destroy(shortID))
		_, err = inner.Get(shortID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("destroy hashes long identifiers", func(t *testing.T) {
		require.NoError(t, hs.Destroy(longID))
		_, err := inner.Get(hashKey(longID))
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHashDataIsOrderInsensitive(t *testing.T) {
	a := hashData(map[string]any{"x": 1, "y": "z"})
	b := hashData(map[string]any{"y": "z", "x": 1})
	require.Equal(t, a, b)

	c := hashData(map[string]any{"x": 2, "y": "z"})
	require.NotEqual(t, a, c)
}
