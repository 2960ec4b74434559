package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestGenerateKeys will generate a test ECDSA P-256 pub/priv key pair
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	{
		derBytes, err := x509.MarshalECPrivateKey(privateKey)
		require.NoError(err)

		pemBlock := &pem.Block{
			Type:  "EC PRIVATE KEY",
			Bytes: derBytes,
		}
		priv = string(pem.EncodeToMemory(pemBlock))
	}
	{
		derBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
		require.NoError(err)

		pemBlock := &pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: derBytes,
		}
		pub = string(pem.EncodeToMemory(pemBlock))
	}

	return pub, priv
}

// TestSignJWT will bundle the provided claims into a test signed JWT. The provided key
// must be ECDSA.
func TestSignJWT(t *testing.T, ecdsaPrivKeyPEM string, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	require := require.New(t)
	var key *ecdsa.PrivateKey
	block, _ := pem.Decode([]byte(ecdsaPrivKeyPEM))
	if block != nil {
		var err error
		key, err = x509.ParseECPrivateKey(block.Bytes)
		require.NoError(err)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).
		Claims(claims).
		Claims(privateClaims).
		CompactSerialize()
	require.NoError(err)

	return raw
}

// testCookies is an in-memory Cookies implementation for tests: Set/Delete
// take effect immediately, so a Get after a Set observes the new value the
// way a browser would across the redirect.
type testCookies struct {
	values map[string]string
}

func newTestCookies() *testCookies {
	return &testCookies{values: map[string]string{}}
}

func (c *testCookies) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c *testCookies) Set(name, value string, maxAge int) {
	c.values[name] = value
}

func (c *testCookies) Delete(name string) {
	delete(c.values, name)
}

func (c *testCookies) Names() []string {
	names := make([]string, 0, len(c.values))
	for name := range c.values {
		names = append(names, name)
	}
	return names
}

// testRecordedCookies additionally records the max-age passed to Set, for
// asserting cookie lifetimes.
type testRecordedCookies struct {
	*testCookies
	maxAges map[string]int
}

func newTestRecordedCookies() *testRecordedCookies {
	return &testRecordedCookies{
		testCookies: newTestCookies(),
		maxAges:     map[string]int{},
	}
}

func (c *testRecordedCookies) Set(name, value string, maxAge int) {
	c.testCookies.Set(name, value, maxAge)
	c.maxAges[name] = maxAge
}

// testNewProvider creates a new Provider wired to the given TestProvider.
// It is helpful internally, but intentionally not exported.
func testNewProvider(t *testing.T, tp *TestProvider, opt ...Option) *Provider {
	t.Helper()
	require := require.New(t)

	p, err := NewProvider(tp.TestConfig(t), "test-secret-"+t.Name(), opt...)
	require.NoError(err)
	t.Cleanup(p.Done)
	return p
}

var _ Cookies = (*testCookies)(nil)
var _ Cookies = (*testRecordedCookies)(nil)
