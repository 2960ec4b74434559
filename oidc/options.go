package oidc

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional hclog.Logger.  Supported by: Provider,
// Transaction.  Token material is never logged; see the redacted token types.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *providerOptions:
			v.withLogger = l
		case *txnOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional func to determine the current time, which is
// handy for tests.  Supported by: Provider.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withNowFunc = now
		}
	}
}

// WithExpirySkew provides an optional expiry skew duration for: TokenSet
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*tokenOptions); ok {
			o.withExpirySkew = d
		}
	}
}
