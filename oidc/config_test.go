package oidc

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	testIssuer := "https://example-issuer.com"
	testAuthURL := testIssuer + "/auth"
	testTokenURL := testIssuer + "/token"

	tests := []struct {
		name         string
		issuer       string
		clientID     string
		clientSecret ClientSecret
		authURL      string
		tokenURL     string
		opt          []Option
		wantErr      bool
		wantIsErr    error
	}{
		{
			name:         "valid-minimal",
			issuer:       testIssuer,
			clientID:     "client-id",
			clientSecret: "client-secret",
			authURL:      testAuthURL,
			tokenURL:     testTokenURL,
		},
		{
			name:         "valid-with-options",
			issuer:       testIssuer,
			clientID:     "client-id",
			clientSecret: "client-secret",
			authURL:      testAuthURL,
			tokenURL:     testTokenURL,
			opt: []Option{
				WithScopes("profile", "email"),
				WithSupportedSigningAlgs(ES256, RS256),
				WithJWKSURL(testIssuer + "/certs"),
				WithEndSessionURL(testIssuer + "/logout"),
				WithPushedAuthURL(testIssuer + "/par"),
				WithoutPKCE(),
			},
		},
		{
			name:         "missing-client-id",
			issuer:       testIssuer,
			clientSecret: "client-secret",
			authURL:      testAuthURL,
			tokenURL:     testTokenURL,
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:         "missing-issuer",
			clientID:     "client-id",
			clientSecret: "client-secret",
			authURL:      testAuthURL,
			tokenURL:     testTokenURL,
			wantErr:      true,
			wantIsErr:    ErrInvalidIssuer,
		},
		{
			name:         "bad-issuer-scheme",
			issuer:       "ldap://example-issuer.com",
			clientID:     "client-id",
			clientSecret: "client-secret",
			authURL:      testAuthURL,
			tokenURL:     testTokenURL,
			wantErr:      true,
			wantIsErr:    ErrInvalidIssuer,
		},
		{
			name:         "missing-auth-url",
			issuer:       testIssuer,
			clientID:     "client-id",
			clientSecret: "client-secret",
			tokenURL:     testTokenURL,
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:         "missing-token-url",
			issuer:       testIssuer,
			clientID:     "client-id",
			clientSecret: "client-secret",
			authURL:      testAuthURL,
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
		{
			name:         "unsupported-alg",
			issuer:       testIssuer,
			clientID:     "client-id",
			clientSecret: "client-secret",
			authURL:      testAuthURL,
			tokenURL:     testTokenURL,
			opt:          []Option{WithSupportedSigningAlgs("HS256")},
			wantErr:      true,
			wantIsErr:    ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.issuer, tt.clientID, tt.clientSecret, tt.authURL, tt.tokenURL, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.Equal(tt.issuer, got.Issuer)
			assert.Equal(tt.clientID, got.ClientID)
		})
	}
}

func TestConfig_Validate_AggregatesViolations(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	// every violation is reported, not just the first one found
	c := &Config{}
	err := c.Validate()
	assert.Error(err)
	assert.ErrorIs(err, ErrInvalidParameter)
	assert.ErrorIs(err, ErrInvalidIssuer)
}

func TestConfig_PKCEDefault(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	c, err := NewConfig("https://example-issuer.com", "client-id", "client-secret",
		"https://example-issuer.com/auth", "https://example-issuer.com/token")
	require.NoError(err)
	assert.True(c.SupportsPKCE)

	c, err = NewConfig("https://example-issuer.com", "client-id", "client-secret",
		"https://example-issuer.com/auth", "https://example-issuer.com/token", WithoutPKCE())
	require.NoError(err)
	assert.False(c.SupportsPKCE)
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	t.Run("valid-ca", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		c := tp.TestConfig(t)
		client, err := c.HTTPClient()
		require.NoError(err)
		require.NotNil(client)

		// the configured CA must be sufficient to reach the provider
		resp, err := client.Get(tp.Addr() + "/certs")
		require.NoError(err)
		defer resp.Body.Close()
	})
	t.Run("invalid-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := testTxnConfig(t)
		c.ProviderCA = "not a pem block"
		client, err := c.HTTPClient()
		require.Error(err)
		assert.Nil(client)
		assert.ErrorIs(err, ErrInvalidCACert)
	})
}

func TestClientSecret_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	secret := ClientSecret("super-secret")
	assert.Equal(RedactedClientSecret, secret.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", secret))

	raw, err := json.Marshal(secret)
	require.NoError(err)
	assert.Equal(fmt.Sprintf("%q", RedactedClientSecret), string(raw))
}
