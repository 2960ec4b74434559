// Package seal provides authenticated encryption of small structured payloads
// into compact JWE tokens suitable for storage in browser cookies.  Every
// token carries reserved iat/exp claims added by the codec, so a sealed value
// expires on its own even if the transport cookie outlives its Max-Age.
//
// All decryption failures (malformed input, tampering, truncation, key
// mismatch, expiry) are reported uniformly as "no value".  None of them should
// ever be distinguishable to a client.
package seal

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

var (
	ErrMissingSecret    = errors.New("missing secret")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Key is the symmetric key used to seal and open tokens.  It is derived once
// per secret and reused; rotating the secret invalidates every outstanding
// token, which is accepted rather than mitigated.
type Key [sha256.Size]byte

// NewKey derives a Key from an application secret.
func NewKey(secret string) (Key, error) {
	const op = "seal.NewKey"
	if secret == "" {
		return Key{}, fmt.Errorf("%s: %w", op, ErrMissingSecret)
	}
	return sha256.Sum256([]byte(secret)), nil
}

// Duration describes the two expiry ceilings applied to sealed state: a fixed
// Absolute ceiling from issuance and an optional sliding Inactivity window.
type Duration struct {
	Absolute   time.Duration
	Inactivity time.Duration
}

// Encrypt seals the payload into a compact JWE (dir + A256GCM) with reserved
// iat and exp claims computed from d.Absolute.  The returned maxAge (whole
// seconds of d.Absolute) is the value callers must apply to the transport
// cookie so the cookie's lifetime and the payload's cryptographic expiry never
// diverge.  The payload must marshal to a JSON object.
func Encrypt(payload interface{}, k Key, d Duration) (token string, maxAge int, err error) {
	const op = "seal.Encrypt"
	if payload == nil {
		return "", 0, fmt.Errorf("%s: missing payload: %w", op, ErrInvalidParameter)
	}
	if d.Absolute <= 0 {
		return "", 0, fmt.Errorf("%s: absolute duration not greater than zero: %w", op, ErrInvalidDuration)
	}
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: k[:]},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", 0, fmt.Errorf("%s: unable to create encrypter: %w", op, err)
	}
	now := time.Now()
	reserved := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(d.Absolute)),
	}
	raw, err := jwt.Encrypted(enc).Claims(reserved).Claims(payload).CompactSerialize()
	if err != nil {
		return "", 0, fmt.Errorf("%s: unable to seal payload: %w", op, err)
	}
	return raw, int(d.Absolute.Seconds()), nil
}

// Decrypt opens a sealed token into v and reports whether a usable value was
// found.  The payload's own exp claim is rechecked here even though the
// transport cookie should already have expired, and a payload older than
// maxTokenAge is treated as absent regardless of its exp.  On any failure v is
// left unmodified and Decrypt returns false; no error variants are surfaced.
func Decrypt(token string, k Key, maxTokenAge time.Duration, v interface{}) bool {
	if token == "" {
		return false
	}
	parsed, err := jwt.ParseEncrypted(token)
	if err != nil {
		return false
	}
	var reserved jwt.Claims
	if err := parsed.Claims(k[:], &reserved); err != nil {
		return false
	}
	if reserved.IssuedAt == nil || reserved.Expiry == nil {
		return false
	}
	now := time.Now()
	if !now.Before(reserved.Expiry.Time()) {
		return false
	}
	if maxTokenAge > 0 && !now.Before(reserved.IssuedAt.Time().Add(maxTokenAge)) {
		return false
	}
	if v != nil {
		if err := parsed.Claims(k[:], v); err != nil {
			return false
		}
	}
	return true
}
