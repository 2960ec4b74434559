package session

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

type managerOptions struct {
	withCookieName string
	withAbsolute   time.Duration
	withInactivity time.Duration
	withLogger     hclog.Logger
	withNowFunc    func() time.Time
}

func managerDefaults() managerOptions {
	return managerOptions{
		withCookieName: DefaultCookieName,
		withAbsolute:   DefaultAbsoluteDuration,
		withInactivity: DefaultInactivityDuration,
		withLogger:     hclog.NewNullLogger(),
		withNowFunc:    time.Now,
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type cookieStoreOptions struct {
	withDataCookieName string
	withAbsolute       time.Duration
}

func cookieStoreDefaults() cookieStoreOptions {
	return cookieStoreOptions{
		withDataCookieName: DefaultDataCookieName,
		withAbsolute:       DefaultAbsoluteDuration,
	}
}

func getCookieStoreOpts(opt ...Option) cookieStoreOptions {
	opts := cookieStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCookieName provides an optional name for the session cookie.
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withCookieName = name
		}
	}
}

// WithDataCookieName provides an optional name for the CookieStore's payload
// cookie.
func WithDataCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieStoreOptions); ok {
			o.withDataCookieName = name
		}
	}
}

// WithAbsoluteDuration provides an optional absolute session lifetime,
// measured from the session's first issuance.  Supported by: Manager,
// CookieStore.
func WithAbsoluteDuration(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *managerOptions:
			v.withAbsolute = d
		case *cookieStoreOptions:
			v.withAbsolute = d
		}
	}
}

// WithInactivityDuration provides an optional inactivity window; a session
// not read for this long expires even though its absolute lifetime remains.
func WithInactivityDuration(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withInactivity = d
		}
	}
}

// WithLogger provides an optional hclog.Logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func to determine the current time, which is
// handy for tests.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withNowFunc = now
		}
	}
}
