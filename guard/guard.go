// Package guard provides the request-time authentication policy: it resolves
// the request's session (refreshing expired tokens when a refresh function
// is supplied) and either admits the request with the session data on the
// context, or turns it away. JSON callers get a structured 401; everyone
// else is redirected into the sign-in flow.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/rpflow/oidc"
	"github.com/hashicorp/rpflow/session"
)

// Data is the session payload the default refresh function operates on.
// Applications with richer payloads supply their own type and RefreshFunc.
type Data struct {
	Tokens *oidc.TokenSet `json:"tokens"`
}

// RefreshFunc replaces an expired session payload, typically by performing a
// refresh-token grant.  Returning nil (with no error) deletes the session.
type RefreshFunc[T any] func(ctx context.Context, expired *T) (*T, error)

// SessionFactory builds the per-request session manager from the request's
// cookie capability.
type SessionFactory[T any] func(c session.Cookies) (*session.Manager[T], error)

// Guard is an http middleware enforcing an authenticated session.
type Guard[T any] struct {
	provider    *oidc.Provider
	sessions    SessionFactory[T]
	redirectURL string
	refresh     RefreshFunc[T]
	logger      hclog.Logger
	authOpts    []oidc.Option
}

// New creates a Guard.  redirectURL is the relying party's callback URL,
// passed through to the sign-in flow when an unauthenticated browser is
// redirected.  refresh may be nil, in which case expired sessions are simply
// treated as absent.
//
// Supported options: WithLogger, WithAuthenticateOptions
func New[T any](p *oidc.Provider, sessions SessionFactory[T], redirectURL string, refresh RefreshFunc[T], opt ...Option) (*Guard[T], error) {
	const op = "guard.New"
	if p == nil {
		return nil, fmt.Errorf("%s: missing provider: %w", op, oidc.ErrNilParameter)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%s: missing session factory: %w", op, oidc.ErrNilParameter)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: missing redirect URL: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getGuardOpts(opt...)
	return &Guard[T]{
		provider:    p,
		sessions:    sessions,
		redirectURL: redirectURL,
		refresh:     refresh,
		logger:      opts.withLogger,
		authOpts:    opts.withAuthOptions,
	}, nil
}

// Handler wraps next, admitting only requests with a live session.  The
// session data is available to next via FromContext.
func (g *Guard[T]) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		data := g.resolve(ctx, w, r)
		if data != nil {
			next.ServeHTTP(w, r.WithContext(newContext(ctx, data)))
			return
		}

		if acceptsJSON(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}

		loginURL, err := g.provider.Authenticate(ctx, &oidc.HTTPCookies{W: w, R: r}, g.redirectURL, g.authOpts...)
		if err != nil {
			g.logger.Error("unable to begin sign-in flow", "err", err)
			http.Redirect(w, r, "/?error=server_error", http.StatusFound)
			return
		}
		http.Redirect(w, r, loginURL.String(), http.StatusFound)
	})
}

// resolve loads (and possibly refreshes) the request's session.  Any failure
// reads as "no session"; the sign-in redirect is the recovery path, not an
// error page.
func (g *Guard[T]) resolve(ctx context.Context, w http.ResponseWriter, r *http.Request) *T {
	mgr, err := g.sessions(session.HTTPCookies{W: w, R: r})
	if err != nil {
		g.logger.Error("unable to create session manager", "err", err)
		return nil
	}
	data, err := mgr.Get(ctx, g.refresh)
	if err != nil {
		g.logger.Debug("session resolution failed", "err", err)
		return nil
	}
	return data
}

func acceptsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// RefreshWith returns the RefreshFunc for the default Data payload: it
// performs a refresh-token grant with the session's stored refresh token.
// A missing refresh token, a failed grant, or a new token set without a
// positive remaining lifetime all yield nil, deleting the session and
// sending the browser back through sign-in.
func RefreshWith(p *oidc.Provider) RefreshFunc[Data] {
	return func(ctx context.Context, expired *Data) (*Data, error) {
		if expired == nil || expired.Tokens == nil || expired.Tokens.RefreshToken == "" {
			return nil, nil
		}
		tokens, err := p.RefreshToken(ctx, oidc.RefreshToken(expired.Tokens.RefreshToken))
		if err != nil {
			return nil, nil
		}
		if tokens.ExpiresIn <= 0 {
			return nil, nil
		}
		return &Data{Tokens: tokens}, nil
	}
}

type contextKey struct{}

func newContext(ctx context.Context, data interface{}) context.Context {
	return context.WithValue(ctx, contextKey{}, data)
}

// FromContext returns the session data the Guard attached to the request
// context.
func FromContext[T any](ctx context.Context) (*T, bool) {
	data, ok := ctx.Value(contextKey{}).(*T)
	return data, ok
}

// Option defines a common functional options type
type Option func(interface{})

type guardOptions struct {
	withLogger      hclog.Logger
	withAuthOptions []oidc.Option
}

func guardDefaults() guardOptions {
	return guardOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getGuardOpts(opt ...Option) guardOptions {
	opts := guardDefaults()
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithLogger provides an optional hclog.Logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*guardOptions); ok {
			o.withLogger = l
		}
	}
}

// WithAuthenticateOptions provides options passed through to the sign-in
// flow when an unauthenticated browser is redirected (scopes, prompts and
// the like).
func WithAuthenticateOptions(opt ...oidc.Option) Option {
	return func(o interface{}) {
		if o, ok := o.(*guardOptions); ok {
			o.withAuthOptions = opt
		}
	}
}
