package callback

import (
	"errors"
	"net/http"

	"github.com/hashicorp/rpflow/oidc"
)

// SuccessResponseFunc is used by AuthCode to create a http response when the
// callback is successful.
//
// The function state parameter will contain the state that was returned as
// part of a successful authentication response.  The oidc.TokenSet is the
// result of a successful token exchange with the provider; callers typically
// persist it into a session here.  The function should use the
// http.ResponseWriter to send back whatever content (headers, html, JSON,
// etc) it wishes to the client that originated the flow.
type SuccessResponseFunc func(state string, t *oidc.TokenSet, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by AuthCode to create a http response when the
// callback fails.
//
// errorCode is the OAuth-style error code the failure maps to (see
// ErrorCode), suitable for surfacing to the browser; e is the underlying
// error.
type ErrorResponseFunc func(state string, errorCode string, e error, w http.ResponseWriter, req *http.Request)

// ErrorCode maps a callback failure to the OAuth-style error code surfaced
// to the browser.  Failures caused by the inbound request (a missing or
// consumed transaction, a state or issuer mismatch, a provider error
// response) report invalid_request; everything else is the relying party's
// problem and reports server_error.
func ErrorCode(e error) string {
	switch {
	case errors.Is(e, oidc.ErrMissingTransaction),
		errors.Is(e, oidc.ErrResponseStateInvalid),
		errors.Is(e, oidc.ErrResponseError),
		errors.Is(e, oidc.ErrInvalidIssuer),
		errors.Is(e, oidc.ErrInvalidParameter):
		return "invalid_request"
	default:
		return "server_error"
	}
}
