package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/rpflow/oidc/internal/strutils"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Alg represents asymmetric signing algorithms.
type Alg string

const (
	// JOSE asymmetric signing algorithm values as defined by RFC 7518.
	//
	// See: https://tools.ietf.org/html/rfc7518#section-3.1
	RS256 Alg = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Alg = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Alg = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 Alg = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Alg = "ES384" // ECDSA using P-384 and SHA-384
	ES512 Alg = "ES512" // ECDSA using P-521 and SHA-512
	PS256 Alg = "PS256" // RSASSA-PSS using SHA-256 and MGF1 with SHA-256
	PS384 Alg = "PS384" // RSASSA-PSS using SHA-384 and MGF1 with SHA-384
	PS512 Alg = "PS512" // RSASSA-PSS using SHA-512 and MGF1 with SHA-512
	EdDSA Alg = "EdDSA" // Ed25519 using SHA-512
)

var supportedAlgorithms = map[Alg]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	EdDSA: true,
}

// Config represents provider metadata which has already been resolved
// (discovery mechanics are up to the caller).  Once constructed it is treated
// as immutable shared read-only state and is safe for concurrent reads
// without locking.
type Config struct {
	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// AuthURL is the provider's authorization endpoint.
	AuthURL string

	// TokenURL is the provider's token endpoint.
	TokenURL string

	// JWKSURL is the provider's key set endpoint.  Optional; when set,
	// id_tokens returned from the code exchange are signature-verified.
	JWKSURL string

	// EndSessionURL is the provider's logout endpoint.  Optional; required
	// only by Provider.EndSession.
	EndSessionURL string

	// PushedAuthURL is the provider's pushed authorization request endpoint.
	// Optional; required only when the WithPAR option is used.
	PushedAuthURL string

	// SupportsPKCE reports whether the provider advertises S256 among its
	// supported code challenge methods.  When false, a nonce is added to
	// authorization requests to bind the id_token to the attempt instead.
	SupportsPKCE bool

	// Scopes is a list of default oidc scopes to request of the provider.
	// The required "openid" scope is requested by default and doesn't need to
	// be part of this optional list.
	Scopes []string

	// SupportedSigningAlgs is a list of supported id_token signing
	// algorithms.  Optional; defaults to RS256.
	SupportedSigningAlgs []Alg

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string
}

// NewConfig composes a new config for a provider.
//
// Supported options: WithScopes, WithProviderCA, WithSupportedSigningAlgs,
// WithJWKSURL, WithEndSessionURL, WithPushedAuthURL, WithoutPKCE
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, authURL string, tokenURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		AuthURL:              authURL,
		TokenURL:             tokenURL,
		JWKSURL:              opts.withJWKSURL,
		EndSessionURL:        opts.withEndSessionURL,
		PushedAuthURL:        opts.withPushedAuthURL,
		SupportsPKCE:         !opts.withoutPKCE,
		Scopes:               opts.withScopes,
		SupportedSigningAlgs: opts.withSupportedSigningAlgs,
		ProviderCA:           opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  All violations are reported, not just
// the first one found.  It verifies the issuer and endpoint URLs parse, but
// not that they are reachable.
func (c *Config) Validate() error {
	const op = "oidc.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter))
	}
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidIssuer))
	} else {
		u, err := url.Parse(c.Issuer)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("%s: issuer %q is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer))
		case !strutils.StrListContains([]string{"https", "http"}, u.Scheme):
			result = multierror.Append(result, fmt.Errorf("%s: issuer %q schema is not http or https: %w", op, c.Issuer, ErrInvalidIssuer))
		}
	}
	for _, endpoint := range []struct {
		name  string
		value string
	}{
		{"authorization endpoint", c.AuthURL},
		{"token endpoint", c.TokenURL},
	} {
		if endpoint.value == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s is empty: %w", op, endpoint.name, ErrInvalidParameter))
			continue
		}
		if _, err := url.Parse(endpoint.value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %s %q is invalid: %w", op, endpoint.name, endpoint.value, ErrInvalidParameter))
		}
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("%s: unsupported algorithm %q: %w", op, a, ErrInvalidParameter))
		}
	}
	return result.ErrorOrNil()
}

// HTTPClient returns an http.Client for the provider.  The returned client
// uses a pooled transport (so it can reuse connections) with the config's
// optional CA cert, otherwise the installed system CA chain.  No timeouts are
// imposed; transport policy belongs to the caller.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "oidc.(Config).HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()

	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value successfully: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options for Config functions.
type configOptions struct {
	withScopes               []string
	withProviderCA           string
	withSupportedSigningAlgs []Alg
	withJWKSURL              string
	withEndSessionURL        string
	withPushedAuthURL        string
	withoutPKCE              bool
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the config defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the provider's config.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *authenticateOptions:
			v.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithSupportedSigningAlgs provides an optional list of signing algorithms
// accepted for id_token verification.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithJWKSURL provides an optional key set endpoint for the provider's
// config, enabling id_token signature verification.
func WithJWKSURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withJWKSURL = u
		}
	}
}

// WithEndSessionURL provides an optional logout endpoint for the provider's
// config.
func WithEndSessionURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEndSessionURL = u
		}
	}
}

// WithPushedAuthURL provides an optional pushed authorization request
// endpoint for the provider's config.
func WithPushedAuthURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPushedAuthURL = u
		}
	}
}

// WithoutPKCE marks the provider as not supporting the S256 code challenge
// method.  Authorization requests will carry a nonce instead, which is
// otherwise redundant and omitted to minimize cookie size.
func WithoutPKCE() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withoutPKCE = true
		}
	}
}
