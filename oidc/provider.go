package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rpflow/oidc/internal/strutils"
	"github.com/hashicorp/rpflow/seal"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// Prompt is a sign-in prompt value, as defined by OIDC Core.
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// Provider is the authorization flow engine: it builds authorization redirect
// URLs, exchanges authorization codes for tokens, performs refresh-token and
// end-session operations, and forwards requests to protected resources.  It
// holds no per-request state; every operation takes the request's cookie
// capability and parameters explicitly, so one Provider is safe to share
// across concurrent requests.
type Provider struct {
	config *Config
	key    seal.Key
	client *http.Client
	logger hclog.Logger
	now    func() time.Time

	txnDuration time.Duration
	usePAR      bool
	jar         *requestObjectSigner

	// backgroundCtx is the context used for background activities, like the
	// remote key set refreshing its keys.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

// NewProvider creates a Provider from the resolved provider config and the
// application secret the state encryption key is derived from.  A missing
// secret is a configuration error and fails here, before any flow begins.
//
// See Provider.Done() which must be called to release provider resources.
//
// Supported options: WithTransactionDuration, WithPAR, WithJAR, WithLogger,
// WithNow
func NewProvider(c *Config, secret string, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	key, err := seal.NewKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to derive encryption key: %w", op, err)
	}
	opts := getProviderOpts(opt...)
	if opts.withPAR && c.PushedAuthURL == "" {
		return nil, fmt.Errorf("%s: PAR requested but pushed authorization endpoint %w", op, ErrEndpointNotConfigured)
	}

	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		config:              c,
		key:                 key,
		client:              client,
		logger:              opts.withLogger,
		now:                 opts.withNowFunc,
		txnDuration:         opts.withTransactionDuration,
		usePAR:              opts.withPAR,
		jar:                 opts.withJAR,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}, nil
}

// Done with the provider's background resources and must be called for every
// Provider created.
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's resolved configuration.
func (p *Provider) Config() *Config { return p.config }

// Authenticate begins an authorization attempt: it mints fresh transaction
// state (setting the attempt's txn cookie) and returns the authorization URL
// to redirect the user to.  When JAR is enabled the request parameters are
// wrapped in a signed request object; when PAR is enabled the (possibly
// JAR-wrapped) parameters are pushed to the provider and the returned URL
// carries only client_id and request_uri.
//
// Supported options: WithState, WithScopes, WithPrompts, WithLoginHint,
// WithIDTokenHint, WithMaxAuthAge, WithResources, WithAuthorizationDetails,
// WithResponseMode, WithUILocales
func (p *Provider) Authenticate(ctx context.Context, cookies Cookies, redirectURL string, opt ...Option) (*url.URL, error) {
	const op = "oidc.(Provider).Authenticate"
	if cookies == nil {
		return nil, fmt.Errorf("%s: missing cookies: %w", op, ErrNilParameter)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: missing redirect URL: %w", op, ErrInvalidParameter)
	}
	opts := getAuthenticateOpts(opt...)

	tx, err := NewTransaction(cookies, p.key, opts.withState, WithTransactionDuration(p.txnDuration), WithLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	params, err := tx.Create(p.config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	params.Set("client_id", p.config.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURL)
	params.Set("scope", p.requestScopes(opts.withScopes))

	if len(opts.withPrompts) > 0 {
		prompts := make([]string, 0, len(opts.withPrompts))
		for _, prompt := range opts.withPrompts {
			prompts = append(prompts, string(prompt))
		}
		params.Set("prompt", strings.Join(prompts, " "))
	}
	if opts.withLoginHint != "" {
		params.Set("login_hint", opts.withLoginHint)
	}
	if opts.withIDTokenHint != "" {
		params.Set("id_token_hint", opts.withIDTokenHint)
	}
	if opts.withMaxAuthAge >= 0 {
		params.Set("max_age", strconv.FormatInt(opts.withMaxAuthAge, 10))
	}
	if opts.withResponseMode != "" {
		params.Set("response_mode", opts.withResponseMode)
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, locale := range opts.withUILocales {
			locales = append(locales, locale.String())
		}
		params.Set("ui_locales", strings.Join(locales, " "))
	}
	// resource is a repeatable parameter, one value per requested resource
	// indicator
	for _, resource := range opts.withResources {
		params.Add("resource", resource)
	}
	if len(opts.withAuthorizationDetails) > 0 {
		encoded, err := json.Marshal(opts.withAuthorizationDetails)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to encode authorization details: %w", op, err)
		}
		params.Set("authorization_details", string(encoded))
	}

	// JAR first, so that PAR (if also enabled) submits the JAR-wrapped
	// parameters
	if p.jar != nil {
		signed, err := p.jar.sign(params, p.config, p.now())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		params = url.Values{
			"client_id": {p.config.ClientID},
			"request":   {signed},
		}
	}
	if p.usePAR {
		requestURI, err := p.pushAuthorizationRequest(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		params = url.Values{
			"client_id":   {p.config.ClientID},
			"request_uri": {requestURI},
		}
	}

	authURL, err := url.Parse(p.config.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("%s: authorization endpoint %q is invalid: %w", op, p.config.AuthURL, ErrInvalidParameter)
	}
	authURL.RawQuery = params.Encode()
	p.logger.Debug("built authorization URL", "state", tx.State(), "par", p.usePAR, "jar", p.jar != nil)
	return authURL, nil
}

// CallbackRequest carries the authorization response parameters consumed
// from the callback request's query (or form body).
type CallbackRequest struct {
	Code             string
	State            string
	Iss              string
	Error            string
	ErrorDescription string
}

// CallbackRequestFromValues builds a CallbackRequest from parsed request
// values.
func CallbackRequestFromValues(v url.Values) CallbackRequest {
	return CallbackRequest{
		Code:             v.Get("code"),
		State:            v.Get("state"),
		Iss:              v.Get("iss"),
		Error:            v.Get("error"),
		ErrorDescription: v.Get("error_description"),
	}
}

// Callback validates and consumes the transaction state for the callback's
// state value, then exchanges the authorization code for a token set using
// the transaction's PKCE verifier.  The transaction cookies are cleared on
// every exit path: success, validation failure, or exchange failure.  A
// missing or invalid transaction, a provider error response, a state or
// issuer mismatch, and an exchange failure all terminate the callback without
// ever establishing a session.
//
// Supported options: WithResources
func (p *Provider) Callback(ctx context.Context, cookies Cookies, redirectURL string, cb CallbackRequest, opt ...Option) (tokens *TokenSet, err error) {
	const op = "oidc.(Provider).Callback"
	if cookies == nil {
		return nil, fmt.Errorf("%s: missing cookies: %w", op, ErrNilParameter)
	}
	opts := getAuthenticateOpts(opt...)

	tx, err := NewTransaction(cookies, p.key, cb.State, WithTransactionDuration(p.txnDuration), WithLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// unconditional cleanup: the transaction is consumed regardless of
	// outcome, to prevent replay and cookie accumulation
	defer tx.Clear()

	if cb.Error != "" {
		return nil, fmt.Errorf("%s: %q (%s): %w", op, cb.Error, cb.ErrorDescription, ErrResponseError)
	}
	ts, ok := tx.Get()
	if !ok {
		return nil, fmt.Errorf("%s: no transaction state found for the response state: %w", op, ErrMissingTransaction)
	}
	if ts.ExpectedState != cb.State {
		return nil, fmt.Errorf("%s: %w", op, ErrResponseStateInvalid)
	}
	if cb.Code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if cb.Iss != "" && cb.Iss != p.config.Issuer {
		return nil, fmt.Errorf("%s: response iss %q does not match the configured issuer: %w", op, cb.Iss, ErrInvalidIssuer)
	}

	exchangeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", ts.CodeVerifier),
	}
	for _, resource := range opts.withResources {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("resource", resource))
	}

	oauth2Config := p.oauth2Config(redirectURL)
	oidcCtx := HTTPClientContext(ctx, p.client)
	oauth2Token, err := oauth2Config.Exchange(oidcCtx, cb.Code, exchangeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	tokens = fromOAuth2Token(oauth2Token, p.now())
	if ts.ExpectedNonce != "" && tokens.IdToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	if tokens.IdToken != "" {
		if err := p.verifyIDToken(ctx, IdToken(tokens.IdToken), ts.ExpectedNonce); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	p.logger.Debug("completed code exchange", "state", cb.State)
	return tokens, nil
}

// EndSession builds the provider's end-session (logout) redirect URL.
//
// Supported options: WithIDTokenHint, WithPostLogoutRedirectURL
func (p *Provider) EndSession(opt ...Option) (*url.URL, error) {
	const op = "oidc.(Provider).EndSession"
	if p.config.EndSessionURL == "" {
		return nil, fmt.Errorf("%s: end session endpoint %w", op, ErrEndpointNotConfigured)
	}
	opts := getAuthenticateOpts(opt...)

	endSessionURL, err := url.Parse(p.config.EndSessionURL)
	if err != nil {
		return nil, fmt.Errorf("%s: end session endpoint %q is invalid: %w", op, p.config.EndSessionURL, ErrInvalidParameter)
	}
	params := endSessionURL.Query()
	params.Set("client_id", p.config.ClientID)
	if opts.withIDTokenHint != "" {
		params.Set("id_token_hint", opts.withIDTokenHint)
	}
	if opts.withPostLogoutRedirectURL != "" {
		params.Set("post_logout_redirect_uri", opts.withPostLogoutRedirectURL)
	}
	endSessionURL.RawQuery = params.Encode()
	return endSessionURL, nil
}

// RefreshToken performs a refresh-token grant, returning the new token set.
// Callers holding a session typically pass the session's stored refresh
// token.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken RefreshToken) (*TokenSet, error) {
	const op = "oidc.(Provider).RefreshToken"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	oauth2Config := p.oauth2Config("")
	oidcCtx := HTTPClientContext(ctx, p.client)

	// a token source seeded with only a refresh token refreshes immediately
	src := oauth2Config.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(refreshToken)})
	oauth2Token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to refresh token with provider: %w", op, err)
	}
	p.logger.Debug("completed refresh grant")
	return fromOAuth2Token(oauth2Token, p.now()), nil
}

// FetchProtectedResource forwards the inbound request to a resource server,
// replacing the Authorization header with a bearer token.  The response is
// returned as-is; the caller owns the body.
func (p *Provider) FetchProtectedResource(ctx context.Context, req *http.Request, resource string, token AccessToken) (*http.Response, error) {
	const op = "oidc.(Provider).FetchProtectedResource"
	if req == nil {
		return nil, fmt.Errorf("%s: missing request: %w", op, ErrNilParameter)
	}
	if token == "" {
		return nil, fmt.Errorf("%s: missing access token: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(resource)
	if err != nil {
		return nil, fmt.Errorf("%s: resource url %q is invalid: %w", op, resource, ErrInvalidParameter)
	}
	out := req.Clone(ctx)
	out.URL = u
	out.Host = u.Host
	out.RequestURI = "" // client requests must not set RequestURI
	out.Header.Set("Authorization", "Bearer "+string(token))
	resp, err := p.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%s: resource request failed: %w", op, err)
	}
	return resp, nil
}

// VerifyIDToken will verify the inbound id_token.  When the config has a
// JWKS endpoint, it verifies the token has been signed by the provider and
// validates the issuer and audience.  In either case it validates the nonce
// when one is expected.
func (p *Provider) verifyIDToken(ctx context.Context, t IdToken, nonce string) error {
	const op = "oidc.(Provider).verifyIDToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if p.config.JWKSURL == "" {
		// no key set to verify against; the nonce claim still binds the
		// id_token to this attempt
		if nonce == "" {
			return nil
		}
		var claims struct {
			Nonce string `json:"nonce"`
		}
		if err := t.Claims(&claims); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if claims.Nonce != nonce {
			return fmt.Errorf("%s: %w", op, ErrInvalidNonce)
		}
		return nil
	}

	verified, err := p.idTokenVerifier().Verify(HTTPClientContext(ctx, p.client), string(t))
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, err, ErrIdTokenVerificationFailed)
	}
	if nonce != "" && verified.Nonce != nonce {
		return fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	return nil
}

// idTokenVerifier lazily builds the verifier, sharing the remote key set
// across requests so provider keys are fetched at most once per process.
func (p *Provider) idTokenVerifier() *oidc.IDTokenVerifier {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifier == nil {
		algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
		for _, a := range p.config.SupportedSigningAlgs {
			algs = append(algs, string(a))
		}
		keySet := oidc.NewRemoteKeySet(HTTPClientContext(p.backgroundCtx, p.client), p.config.JWKSURL)
		p.verifier = oidc.NewVerifier(p.config.Issuer, keySet, &oidc.Config{
			ClientID:             p.config.ClientID,
			SupportedSigningAlgs: algs,
		})
	}
	return p.verifier
}

// requestScopes combines the config's scopes with the per-request ones,
// always leading with the required "openid" scope.
func (p *Provider) requestScopes(requestScopes []string) string {
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	scopes = append(scopes, requestScopes...)
	return strings.Join(strutils.RemoveDuplicatesStable(scopes, false), " ")
}

func (p *Provider) oauth2Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.config.AuthURL,
			TokenURL:  p.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// providerOptions is the set of available options for Provider functions.
type providerOptions struct {
	withLogger              hclog.Logger
	withNowFunc             func() time.Time
	withTransactionDuration time.Duration
	withPAR                 bool
	withJAR                 *requestObjectSigner
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger:              hclog.NewNullLogger(),
		withNowFunc:             time.Now,
		withTransactionDuration: DefaultTransactionDuration,
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides
// passed in.
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// authenticateOptions is the set of available options for the flow
// operations.
type authenticateOptions struct {
	withState                 string
	withScopes                []string
	withPrompts               []Prompt
	withLoginHint             string
	withIDTokenHint           string
	withMaxAuthAge            int64
	withResources             []string
	withAuthorizationDetails  []json.RawMessage
	withResponseMode          string
	withUILocales             []language.Tag
	withPostLogoutRedirectURL string
}

func authenticateDefaults() authenticateOptions {
	return authenticateOptions{
		withMaxAuthAge: -1,
	}
}

func getAuthenticateOpts(opt ...Option) authenticateOptions {
	opts := authenticateDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithState provides an optional state value for the authorization request,
// supporting resumable flows where the caller received one on the inbound
// request.  When omitted a fresh state is generated.
func WithState(s string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withState = s
		}
	}
}

// WithPrompts provides an optional list of prompts for the authorization
// request.
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withPrompts = prompts
		}
	}
}

// WithLoginHint provides an optional login hint for the authorization
// request.
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withLoginHint = hint
		}
	}
}

// WithIDTokenHint provides an optional id_token hint.  Supported by:
// Authenticate, EndSession.
func WithIDTokenHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withIDTokenHint = hint
		}
	}
}

// WithMaxAuthAge provides an optional max_age (in seconds) for the
// authorization request.
func WithMaxAuthAge(seconds int64) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withMaxAuthAge = seconds
		}
	}
}

// WithResources provides optional resource indicators.  The resource
// parameter is repeatable; one parameter is added per resource.  Supported
// by: Authenticate, Callback.
func WithResources(resources ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withResources = resources
		}
	}
}

// WithAuthorizationDetails provides optional RAR authorization details,
// JSON-encoded as an array on the authorization request.
func WithAuthorizationDetails(details ...json.RawMessage) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withAuthorizationDetails = details
		}
	}
}

// WithResponseMode provides an optional response_mode for the authorization
// request.
func WithResponseMode(mode string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withResponseMode = mode
		}
	}
}

// WithUILocales provides an optional list of locales for the authorization
// request.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withUILocales = locales
		}
	}
}

// WithPostLogoutRedirectURL provides an optional post-logout redirect for
// EndSession.
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withPostLogoutRedirectURL = u
		}
	}
}

// WithPAR enables pushed authorization requests: Authenticate submits the
// request parameters to the provider's pushed authorization endpoint and
// redirects with the returned request_uri.
func WithPAR() Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withPAR = true
		}
	}
}
