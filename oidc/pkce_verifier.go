package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/rpflow/oidc/internal/base62"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// PKCE code challenge methods as defined by RFC 7636.
	S256 ChallengeMethod = "S256" // SHA-256

	// RFC 7636 requires 43 <= len(verifier) <= 128
	verifierLen = 43
)

// CodeVerifier represents an OAuth PKCE code verifier.
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier
	Verifier() string

	// Challenge returns the code challenge derived from the verifier
	Challenge() string

	// Method returns the code challenge method
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface.
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new S256Verifier with a fresh random verifier and
// its derived challenge.
func NewCodeVerifier() (*S256Verifier, error) {
	const op = "oidc.NewCodeVerifier"
	data, err := base62.Random(verifierLen)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data: %w", op, ErrIdGeneratorFailed)
	}
	v := &S256Verifier{
		verifier: data,
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(S256, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy a S256Verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier.  Supported
// ChallengeMethods: S256
func CreateCodeChallenge(m ChallengeMethod, v CodeVerifier) (string, error) {
	// currently, only the S256 method is supported
	const op = "oidc.CreateCodeChallenge"
	if m != S256 {
		return "", fmt.Errorf("%s: %q: %w", op, m, ErrUnsupportedChallengeMethod)
	}
	h := sha256.New()
	_, _ = h.Write([]byte(v.Verifier())) // hash documents that Write will never return an error
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
