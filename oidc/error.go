package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIdGeneratorFailed          = errors.New("id generation failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
	ErrMissingTransaction         = errors.New("missing transaction state")
	ErrResponseStateInvalid       = errors.New("response state and transaction state are not equal")
	ErrResponseError              = errors.New("authorization response error")
	ErrMissingIdToken             = errors.New("id_token is missing")
	ErrIdTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrMissingRefreshToken        = errors.New("refresh_token is missing")
	ErrEndpointNotConfigured      = errors.New("endpoint is not configured")
)
