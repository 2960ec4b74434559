// Package oidc implements the relying-party side of the OpenID Connect
// authorization code flow with PKCE.  It provides:
//
//   - Config: resolved provider metadata (endpoints, supported features)
//     treated as immutable shared state, safe for concurrent reads.
//
//   - Transaction: the short-lived, encrypted per-attempt state (expected
//     state, PKCE verifier, optional nonce) carried in one cookie per
//     in-flight login attempt, keyed by the state value itself.
//
//   - Provider: the flow engine.  Authenticate builds authorization redirect
//     URLs (with optional JAR and PAR extensions), Callback validates and
//     consumes transaction state before exchanging the authorization code,
//     RefreshToken performs the refresh grant, and EndSession builds the
//     provider logout URL.
//
// All operations are request-scoped: callers pass the request's cookie
// capability and parameters explicitly.  Nothing here retries or imposes
// timeouts on outbound calls; transport policy belongs to the caller.
package oidc
