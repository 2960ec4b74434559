package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// AccessToken is an oauth access_token.
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token.
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token.
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// IdToken is an oidc id_token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// Claims retrieves the IdToken claims.
func (t IdToken) Claims(claims interface{}) error {
	const op = "oidc.(IdToken).Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}

// RefreshToken is an oauth refresh_token.
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token.
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token.
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token.
// The token's signature is NOT verified; see Provider for verified use.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parsed, err := jwt.ParseSigned(rawToken)
	if err != nil {
		return fmt.Errorf("%s: unable to parse jwt: %w", op, err)
	}
	if err := parsed.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("%s: unable to retrieve claims: %w", op, err)
	}
	return nil
}

const expirySkew = 10 * time.Second

// TokenSet is the set of tokens returned from a successful code exchange or
// refresh grant.  The set is opaque to the flow core except for its
// presence/absence and ExpiresIn, which determines refresh eligibility.
//
// TokenSet marshals with its real values so it can be persisted as session
// data; use String() (fmt %s/%v) when logging, which redacts every token.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	IdToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`

	// issuedAt is only known for sets produced by this process's exchange or
	// refresh; round-tripped sets have a zero issuedAt and are never
	// considered expired here.
	issuedAt time.Time
}

// String redacts all token material.
func (t *TokenSet) String() string {
	redacted := struct {
		AccessToken  AccessToken
		TokenType    string
		IdToken      IdToken
		RefreshToken RefreshToken
		ExpiresIn    int64
	}{
		AccessToken(t.AccessToken),
		t.TokenType,
		IdToken(t.IdToken),
		RefreshToken(t.RefreshToken),
		t.ExpiresIn,
	}
	b, err := json.Marshal(redacted)
	if err != nil {
		return "[REDACTED: token set]"
	}
	return string(b)
}

// Expired reports whether the access token's lifetime has elapsed, with a
// small skew.  Supports the WithExpirySkew option.
func (t *TokenSet) Expired(opt ...Option) bool {
	if t == nil || t.issuedAt.IsZero() || t.ExpiresIn == 0 {
		return false
	}
	opts := getTokenOpts(opt...)
	expiry := t.issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	return expiry.Round(0).Before(time.Now().Add(opts.withExpirySkew))
}

// Valid reports whether the set holds a usable, unexpired access token.
func (t *TokenSet) Valid() bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired()
}

// fromOAuth2Token converts the oauth2 package's token into a TokenSet,
// lifting the id_token out of the extra fields.
func fromOAuth2Token(t *oauth2.Token, now time.Time) *TokenSet {
	set := &TokenSet{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		issuedAt:     now,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		set.IdToken = idToken
	}
	if !t.Expiry.IsZero() {
		if remaining := int64(t.Expiry.Sub(now).Seconds()); remaining > 0 {
			set.ExpiresIn = remaining
		}
	}
	return set
}

// tokenOptions is the set of available options for TokenSet functions.
type tokenOptions struct {
	withExpirySkew time.Duration
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: expirySkew,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed
// in.
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
