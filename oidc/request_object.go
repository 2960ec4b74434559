package oidc

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/rpflow/oidc/internal/base62"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// requestObjectTyp is the JOSE typ header for JWT-secured authorization
// requests (RFC 9101).
const requestObjectTyp = "oauth-authz-req+jwt"

// requestObjectLifetime bounds the validity of a signed request object; the
// provider rejects it after this window.
const requestObjectLifetime = 5 * time.Minute

// requestObjectSigner signs authorization request parameters into a request
// object JWT.
type requestObjectSigner struct {
	alg   Alg
	key   crypto.PrivateKey
	keyID string
}

// WithJAR enables JWT-secured authorization requests: Authenticate wraps the
// request parameters into a request object signed with the given key.
func WithJAR(alg Alg, key crypto.PrivateKey, keyID string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withJAR = &requestObjectSigner{
				alg:   alg,
				key:   key,
				keyID: keyID,
			}
		}
	}
}

// sign wraps the authorization parameters into a signed request object.  The
// parameters become top-level claims, alongside the iss/aud/exp/jti claims
// RFC 9101 requires of the request object itself.
func (s *requestObjectSigner) sign(params url.Values, c *Config, now time.Time) (string, error) {
	const op = "oidc.(requestObjectSigner).sign"
	if s.key == nil {
		return "", fmt.Errorf("%s: missing signing key: %w", op, ErrNilParameter)
	}
	signerOpts := (&jose.SignerOptions{}).WithType(requestObjectTyp)
	if s.keyID != "" {
		signerOpts.WithHeader("kid", s.keyID)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(s.alg), Key: s.key},
		signerOpts,
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	jti, err := base62.Random(20)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate jti: %w", op, ErrIdGeneratorFailed)
	}

	claims := map[string]interface{}{}
	for name := range params {
		// resource is the only repeatable parameter we emit; it becomes a
		// JSON array claim
		if name == "resource" && len(params[name]) > 1 {
			claims[name] = params[name]
			continue
		}
		claims[name] = params.Get(name)
	}
	claims["iss"] = c.ClientID
	claims["aud"] = c.Issuer
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(requestObjectLifetime))
	claims["jti"] = jti

	signed, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign request object: %w", op, err)
	}
	return signed, nil
}

// pushAuthorizationRequest submits the authorization parameters to the
// provider's pushed authorization endpoint (RFC 9126) and returns the
// request_uri to redirect with.
func (p *Provider) pushAuthorizationRequest(ctx context.Context, params url.Values) (string, error) {
	const op = "oidc.(Provider).pushAuthorizationRequest"
	if p.config.PushedAuthURL == "" {
		return "", fmt.Errorf("%s: pushed authorization endpoint %w", op, ErrEndpointNotConfigured)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.PushedAuthURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(string(p.config.ClientSecret)))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: push to provider failed: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%s: unable to read provider response: %w", op, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: provider returned %d: %s: %w", op, resp.StatusCode, string(body), ErrResponseError)
	}
	var par struct {
		RequestURI string `json:"request_uri"`
		ExpiresIn  int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &par); err != nil {
		return "", fmt.Errorf("%s: unable to decode provider response: %w", op, err)
	}
	if par.RequestURI == "" {
		return "", fmt.Errorf("%s: provider response is missing request_uri: %w", op, ErrResponseError)
	}
	return par.RequestURI, nil
}
