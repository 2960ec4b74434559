package oidc

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rpflow/oidc/internal/base62"
	"github.com/hashicorp/rpflow/seal"
)

const (
	// TxnCookiePrefix prefixes the name of every transaction cookie.  The
	// full cookie name is the prefix concatenated with the attempt's state
	// value, which lets multiple in-flight attempts from one browser coexist
	// without cross-clobbering.
	TxnCookiePrefix = "txn_"

	// DefaultTransactionDuration is the absolute lifetime of transaction
	// state when no other duration is configured.
	DefaultTransactionDuration = 3600 * time.Second

	// stateLen is the length of generated state and nonce values.
	stateLen = 30
)

// Cookies is the capability a Transaction needs to read and write the
// request's cookies.  Implementations are request-scoped and need not be
// concurrently safe.
type Cookies interface {
	// Get returns the named cookie's value, if present.
	Get(name string) (string, bool)

	// Set adds or replaces the named cookie with the given max age in
	// seconds.
	Set(name string, value string, maxAge int)

	// Delete expires the named cookie immediately.
	Delete(name string)

	// Names returns the names of every cookie on the request.
	Names() []string
}

// HTTPCookies implements Cookies over a net/http request/response pair.
// Cookies are written HttpOnly with Path=/ and SameSite=Lax, which is
// required for the cookie to be sent on the provider's callback redirect.
type HTTPCookies struct {
	W http.ResponseWriter
	R *http.Request
}

var _ Cookies = (*HTTPCookies)(nil)

// Get implements the Cookies.Get() interface function.
func (c *HTTPCookies) Get(name string) (string, bool) {
	ck, err := c.R.Cookie(name)
	if err != nil {
		return "", false
	}
	return ck.Value, true
}

// Set implements the Cookies.Set() interface function.
func (c *HTTPCookies) Set(name string, value string, maxAge int) {
	http.SetCookie(c.W, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// Delete implements the Cookies.Delete() interface function.  The cookie is
// expired with Max-Age=0 and a null value.
func (c *HTTPCookies) Delete(name string) {
	http.SetCookie(c.W, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Names implements the Cookies.Names() interface function.
func (c *HTTPCookies) Names() []string {
	cookies := c.R.Cookies()
	names := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		names = append(names, ck.Name)
	}
	return names
}

// TransactionState is the short-lived state for one authorization attempt:
// everything needed to validate the callback leg of the flow.  It lives
// encrypted in the attempt's cookie; there is no server-side copy.
type TransactionState struct {
	// ExpectedState is the state value the callback response must carry.
	ExpectedState string `json:"expected_state"`

	// ExpectedNonce is the nonce bound into the id_token.  Only present when
	// the provider doesn't support PKCE, where it's needed to bind the
	// attempt; otherwise it's redundant and omitted to minimize cookie size.
	ExpectedNonce string `json:"expected_nonce,omitempty"`

	// CodeVerifier is the PKCE verifier whose derived challenge was sent on
	// the authorization request.
	CodeVerifier string `json:"code_verifier"`
}

// Transaction manages the per-attempt cookie for one request.  One instance
// is created per inbound request, bound to that request's state value (from a
// query parameter for callbacks, generated otherwise).
type Transaction struct {
	cookies  Cookies
	key      seal.Key
	duration time.Duration
	state    string
	logger   hclog.Logger
}

// NewTransaction creates a transaction manager bound to the request's
// cookies.  requestState is the state value found on the current request's
// query, if any; when empty a fresh state is generated, which supports
// resumable/idempotent link flows where the caller supplies one.
//
// Supported options: WithTransactionDuration, WithLogger
func NewTransaction(cookies Cookies, key seal.Key, requestState string, opt ...Option) (*Transaction, error) {
	const op = "oidc.NewTransaction"
	if cookies == nil {
		return nil, fmt.Errorf("%s: missing cookies: %w", op, ErrNilParameter)
	}
	opts := getTxnOpts(opt...)
	state := requestState
	if state == "" {
		var err error
		state, err = base62.Random(stateLen)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate state: %w", op, ErrIdGeneratorFailed)
		}
	}
	return &Transaction{
		cookies:  cookies,
		key:      key,
		duration: opts.withDuration,
		state:    state,
		logger:   opts.withLogger,
	}, nil
}

// State returns the state value this transaction is bound to.
func (t *Transaction) State() string { return t.state }

// Create mints fresh transaction state for an authorization attempt: a new
// PKCE verifier with its derived challenge, the attempt's state, and (when
// the provider config reports no PKCE support) a nonce.  The state is sealed
// into the cookie named by the transaction prefix and the state value, and
// the authorization request parameters it produced are returned.
func (t *Transaction) Create(c *Config) (url.Values, error) {
	const op = "oidc.(Transaction).Create"
	if c == nil {
		return nil, fmt.Errorf("%s: missing config: %w", op, ErrNilParameter)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	parameters := url.Values{}
	parameters.Set("code_challenge", verifier.Challenge())
	parameters.Set("code_challenge_method", string(verifier.Method()))
	parameters.Set("state", t.state)

	ts := TransactionState{
		ExpectedState: t.state,
		CodeVerifier:  verifier.Verifier(),
	}
	if !c.SupportsPKCE {
		nonce, err := base62.Random(stateLen)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate nonce: %w", op, ErrIdGeneratorFailed)
		}
		ts.ExpectedNonce = nonce
		parameters.Set("nonce", nonce)
	}

	token, maxAge, err := seal.Encrypt(ts, t.key, seal.Duration{Absolute: t.duration})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to seal transaction state: %w", op, err)
	}
	t.cookies.Set(TxnCookiePrefix+t.state, token, maxAge)
	t.logger.Debug("created transaction state", "state", t.state)

	return parameters, nil
}

// Get looks up and opens the transaction state for the request's state value.
// A missing cookie, an expired payload, and a tampered payload are all
// reported uniformly as not found.
func (t *Transaction) Get() (*TransactionState, bool) {
	raw, ok := t.cookies.Get(TxnCookiePrefix + t.state)
	if !ok {
		return nil, false
	}
	var ts TransactionState
	if !seal.Decrypt(raw, t.key, t.duration, &ts) {
		return nil, false
	}
	return &ts, true
}

// Clear deletes every cookie whose name contains the transaction prefix, not
// just the one matching the current state.  The name match is a contains
// check so cookies carrying a __Secure- or __Host- name prefix are swept
// too.  The sweep bounds cookie growth from abandoned attempts (repeated or
// concurrent sign-in clicks).
func (t *Transaction) Clear() {
	for _, name := range t.cookies.Names() {
		if !strings.Contains(name, TxnCookiePrefix) {
			continue
		}
		t.cookies.Delete(name)
	}
	t.logger.Debug("cleared transaction state", "state", t.state)
}

// txnOptions is the set of available options for Transaction functions.
type txnOptions struct {
	withDuration time.Duration
	withLogger   hclog.Logger
}

// txnDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func txnDefaults() txnOptions {
	return txnOptions{
		withDuration: DefaultTransactionDuration,
		withLogger:   hclog.NewNullLogger(),
	}
}

// getTxnOpts gets the transaction defaults and applies the opt overrides
// passed in.
func getTxnOpts(opt ...Option) txnOptions {
	opts := txnDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTransactionDuration provides an optional absolute lifetime for
// transaction state.  Supported by: Transaction, Provider.
func WithTransactionDuration(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *txnOptions:
			v.withDuration = d
		case *providerOptions:
			v.withTransactionDuration = d
		}
	}
}
