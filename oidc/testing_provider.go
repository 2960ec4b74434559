package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local server that supports test provider capabilities
// which make writing tests much easier.  It implements the authorization,
// token, pushed authorization and JWKS endpoints of a code-flow provider.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedRefreshToken string
	replyExpiresIn       int64
	replySubject         string
	customClaims         map[string]interface{}
	omitIDToken          bool
	omitRefreshToken     bool

	// recorded from the most recent authorization request, so tests can
	// assert on what the relying party sent and so /token can verify PKCE
	lastAuthRequest   url.Values
	recordedChallenge string
	recordedNonce     string

	// pushed authorization requests, keyed by the request_uri issued for them
	pushedRequests map[string]url.Values

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random port; the
// server is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                    t,
		expectedAuthCode:     "test-auth-code",
		expectedRefreshToken: "test-refresh-token",
		replyExpiresIn:       3600,
		replySubject:         "alice@example.com",
		pushedRequests:       map[string]url.Values{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(ioutil.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// SetClientCreds is for configuring the client information required for the
// code flow.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedRefreshToken configures the refresh token the /token endpoint
// accepts for the refresh grant, and the one it hands out.
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetReplyExpiresIn configures the expires_in value (seconds) the /token
// endpoint returns.
func (p *TestProvider) SetReplyExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = seconds
}

// SetCustomClaims lets you set additional claims to embed in issued
// id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// OmitIDTokens forces an error state where the /token endpoint does not
// return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens makes the /token endpoint leave out the refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// Addr returns the current base URL for the test provider's running
// webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// LastAuthRequest returns the parameters of the most recent authorization
// request the provider received.
func (p *TestProvider) LastAuthRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuthRequest
}

// PushedRequest returns the pushed authorization request stored under the
// given request_uri, if one exists.
func (p *TestProvider) PushedRequest(requestURI string) (url.Values, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.pushedRequests[requestURI]
	return v, ok
}

// TestConfig returns a provider config wired to the test provider's
// endpoints and CA cert.
func (p *TestProvider) TestConfig(t *testing.T, opt ...Option) *Config {
	t.Helper()
	require := require.New(t)
	p.mu.Lock()
	clientID, clientSecret := p.clientID, p.clientSecret
	p.mu.Unlock()
	if clientID == "" {
		clientID = "test-client-id"
		clientSecret = "test-client-secret"
		p.SetClientCreds(clientID, clientSecret)
	}

	opt = append([]Option{
		WithProviderCA(p.caCert),
		WithJWKSURL(p.Addr() + "/certs"),
		WithEndSessionURL(p.Addr() + "/logout"),
		WithPushedAuthURL(p.Addr() + "/par"),
		WithSupportedSigningAlgs(ES256),
	}, opt...)
	c, err := NewConfig(
		p.Addr(),
		clientID,
		ClientSecret(clientSecret),
		p.Addr()+"/auth",
		p.Addr()+"/token",
		opt...,
	)
	require.NoError(err)
	return c
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, params url.Values, errorCode, errorMessage string) {
	redirectURI := params.Get("redirect_uri") +
		"?state=" + url.QueryEscape(params.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		params := req.URL.Query()
		if requestURI := params.Get("request_uri"); requestURI != "" {
			pushed, ok := p.pushedRequests[requestURI]
			if !ok {
				p.writeAuthErrorResponse(w, req, params, "invalid_request_uri", "")
				return
			}
			params = pushed
		}
		p.lastAuthRequest = params

		if params.Get("response_type") != "code" && params.Get("request") == "" {
			p.writeAuthErrorResponse(w, req, params, "unsupported_response_type", "")
			return
		}
		state := params.Get("state")
		if state == "" && params.Get("request") == "" {
			p.writeAuthErrorResponse(w, req, params, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := params.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, params, "invalid_request", "missing redirect_uri parameter")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, params, "access_denied", "")
			return
		}
		p.recordedChallenge = params.Get("code_challenge")
		p.recordedNonce = params.Get("nonce")

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode) +
			"&iss=" + url.QueryEscape(p.Addr())

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/par":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return
		}
		requestURI := "urn:ietf:params:oauth:request_uri:" + p.expectedAuthCode
		p.pushedRequests[requestURI] = req.PostForm

		w.WriteHeader(http.StatusCreated)
		_ = p.writeJSON(w, map[string]interface{}{
			"request_uri": requestURI,
			"expires_in":  60,
		})

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := p.writeJSON(w, p.jwks); err != nil {
			return
		}

	case "/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch req.FormValue("grant_type") {
		case "authorization_code":
			if req.FormValue("code") != p.expectedAuthCode {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
			if p.recordedChallenge != "" {
				verifier := req.FormValue("code_verifier")
				sum := sha256.Sum256([]byte(verifier))
				if base64.RawURLEncoding.EncodeToString(sum[:]) != p.recordedChallenge {
					_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "code_verifier does not match the challenge")
					return
				}
			}
		case "refresh_token":
			if req.FormValue("refresh_token") != p.expectedRefreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		}

		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(time.Now().Add(time.Duration(p.replyExpiresIn) * time.Second)),
			Audience:  jwt.Audience{p.clientID},
		}
		privateClaims := map[string]interface{}{}
		if p.recordedNonce != "" {
			privateClaims["nonce"] = p.recordedNonce
		}
		for k, v := range p.customClaims {
			privateClaims[k] = v
		}
		jwtData := TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)

		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
		}{
			AccessToken:  jwtData,
			TokenType:    "Bearer",
			ExpiresIn:    p.replyExpiresIn,
			RefreshToken: p.expectedRefreshToken,
			IDToken:      jwtData,
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		if p.omitRefreshToken {
			reply.RefreshToken = ""
		}
		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key: pub,
			},
		},
	}
}
