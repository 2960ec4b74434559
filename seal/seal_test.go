package seal

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestNewKey(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		k1, err := NewKey("test-secret")
		require.NoError(err)
		k2, err := NewKey("test-secret")
		require.NoError(err)
		assert.Equal(k1, k2)

		k3, err := NewKey("other-secret")
		require.NoError(err)
		assert.NotEqual(k1, k3)
	})
	t.Run("missing-secret", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewKey("")
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingSecret))
	})
}

func TestEncrypt(t *testing.T) {
	t.Parallel()
	key, err := NewKey("test-secret")
	require.NoError(t, err)

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := testPayload{Name: "alice", Count: 3}
		token, maxAge, err := Encrypt(want, key, Duration{Absolute: 1 * time.Hour})
		require.NoError(err)
		assert.Equal(3600, maxAge)
		// compact JWE: five dot-separated segments
		assert.Equal(5, len(strings.Split(token, ".")))

		var got testPayload
		require.True(Decrypt(token, key, 1*time.Hour, &got))
		assert.Equal(want, got)
	})
	t.Run("missing-payload", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, _, err := Encrypt(nil, key, Duration{Absolute: time.Hour})
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("zero-duration", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, _, err := Encrypt(testPayload{}, key, Duration{})
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidDuration))
	})
}

func TestDecrypt(t *testing.T) {
	t.Parallel()
	key, err := NewKey("test-secret")
	require.NoError(t, err)
	payload := testPayload{Name: "bob", Count: 1}

	t.Run("expired-exp-claim", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		// a one nanosecond ceiling truncates to the issuance second, so the
		// token is already past its exp when opened
		token, _, err := Encrypt(payload, key, Duration{Absolute: time.Nanosecond})
		require.NoError(err)
		var got testPayload
		assert.False(Decrypt(token, key, time.Hour, &got))
		assert.Empty(got.Name)
	})
	t.Run("max-token-age-elapsed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		// the token itself is valid for an hour, but the caller only accepts
		// payloads younger than a nanosecond
		token, _, err := Encrypt(payload, key, Duration{Absolute: time.Hour})
		require.NoError(err)
		var got testPayload
		assert.False(Decrypt(token, key, time.Nanosecond, &got))
		assert.Empty(got.Name)
	})
	t.Run("tampered", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token, _, err := Encrypt(payload, key, Duration{Absolute: time.Hour})
		require.NoError(err)
		segments := strings.Split(token, ".")
		// flip a character in the ciphertext segment
		ct := []byte(segments[3])
		if ct[0] == 'A' {
			ct[0] = 'B'
		} else {
			ct[0] = 'A'
		}
		segments[3] = string(ct)
		var got testPayload
		assert.False(Decrypt(strings.Join(segments, "."), key, time.Hour, &got))
	})
	t.Run("truncated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token, _, err := Encrypt(payload, key, Duration{Absolute: time.Hour})
		require.NoError(err)
		var got testPayload
		assert.False(Decrypt(token[:len(token)-6], key, time.Hour, &got))
	})
	t.Run("wrong-key", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token, _, err := Encrypt(payload, key, Duration{Absolute: time.Hour})
		require.NoError(err)
		otherKey, err := NewKey("other-secret")
		require.NoError(err)
		var got testPayload
		assert.False(Decrypt(token, otherKey, time.Hour, &got))
	})
	t.Run("malformed", func(t *testing.T) {
		assert := assert.New(t)
		var got testPayload
		assert.False(Decrypt("", key, time.Hour, &got))
		assert.False(Decrypt("not-a-jwe", key, time.Hour, &got))
	})
}
