package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/hashicorp/rpflow/seal"
)

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "sid"

	// DefaultAbsoluteDuration is the default absolute session lifetime,
	// measured from first issuance.
	DefaultAbsoluteDuration = 7 * 24 * time.Hour

	// DefaultInactivityDuration is the default inactivity window; a session
	// not read for this long expires.
	DefaultInactivityDuration = 24 * time.Hour
)

// cookiePayload is the sealed content of the session cookie.  Origin anchors
// the absolute ceiling; Touched is the last valid read or write and anchors
// the inactivity ceiling.
type cookiePayload struct {
	ID      string `json:"sid"`
	Origin  int64  `json:"origin"`
	Touched int64  `json:"touched"`
}

// Manager resolves the current request's session: the sealed session cookie
// carries the session id, and the payload lives in the backing Store under
// that id.  A Manager is constructed per request with that request's cookie
// capability and is not safe for concurrent use.
type Manager[T any] struct {
	cookies    Cookies
	store      Store
	key        seal.Key
	name       string
	absolute   time.Duration
	inactivity time.Duration
	logger     hclog.Logger
	now        func() time.Time

	current *cookiePayload
}

// NewManager creates a session manager for one request.
//
// Supported options: WithCookieName, WithAbsoluteDuration,
// WithInactivityDuration, WithLogger, WithNow
func NewManager[T any](cookies Cookies, store Store, key seal.Key, opt ...Option) (*Manager[T], error) {
	const op = "session.NewManager"
	if cookies == nil {
		return nil, fmt.Errorf("%s: missing cookies: %w", op, ErrNilParameter)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: missing store: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	if opts.withAbsolute <= 0 || opts.withInactivity <= 0 {
		return nil, fmt.Errorf("%s: durations must be greater than zero: %w", op, ErrInvalidParameter)
	}
	return &Manager[T]{
		cookies:    cookies,
		store:      store,
		key:        key,
		name:       opts.withCookieName,
		absolute:   opts.withAbsolute,
		inactivity: opts.withInactivity,
		logger:     opts.withLogger,
		now:        opts.withNowFunc,
	}, nil
}

// ID returns the current session id, or "" when no session has been resolved
// yet on this request.
func (m *Manager[T]) ID() string {
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// Get resolves the request's session and returns its data, or nil when the
// session carries none.  A request arriving with no usable session cookie is
// issued a fresh anonymous session id, so a stable id exists before any
// login.  A valid read slides the inactivity window forward.
//
// When the session has expired and onExpired is non-nil, it is invoked with
// the last-known (possibly nil) data: returning a replacement rewrites the
// session under the same id with a fresh lifetime; returning nil, or
// returning an error, deletes the session.  With no callback, expiry simply
// yields no session.
func (m *Manager[T]) Get(ctx context.Context, onExpired func(context.Context, *T) (*T, error)) (*T, error) {
	const op = "session.(Manager).Get"
	now := m.now()

	p, ok := m.load()
	if !ok {
		fresh, err := m.issue(now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		m.current = fresh
		return nil, nil
	}
	m.current = &p

	data, err := m.read(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	expired := now.Unix() >= p.Touched+int64(m.inactivity.Seconds()) ||
		now.Unix() >= p.Origin+int64(m.absolute.Seconds())
	if !expired {
		p.Touched = now.Unix()
		if err := m.writeCookie(&p, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		m.current = &p
		return data, nil
	}

	if onExpired == nil {
		if err := m.Delete(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, nil
	}
	replacement, err := onExpired(ctx, data)
	if err != nil {
		// the session is unusable either way
		_ = m.Delete(ctx)
		return nil, fmt.Errorf("%s: expiry callback failed: %w", op, err)
	}
	if replacement == nil {
		if err := m.Delete(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, nil
	}
	p.Origin = now.Unix()
	p.Touched = now.Unix()
	if err := m.write(ctx, &p, replacement, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.current = &p
	m.logger.Debug("rewrote expired session", "id", p.ID)
	return replacement, nil
}

// Update attaches data to the browser's session.  The data is written under
// a freshly allocated session id and the id the browser arrived with is
// discarded, so a login can never land in a storage slot an attacker seeded
// beforehand.  Existing data is replaced, not merged.
func (m *Manager[T]) Update(ctx context.Context, data T) error {
	const op = "session.(Manager).Update"
	now := m.now()

	if m.current == nil {
		if p, ok := m.load(); ok {
			m.current = &p
		}
	}
	if m.current != nil {
		if err := m.store.Delete(ctx, m.current.ID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrIdGeneratorFailed)
	}
	p := cookiePayload{ID: id, Origin: now.Unix(), Touched: now.Unix()}
	if err := m.write(ctx, &p, &data, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.current = &p
	return nil
}

// Delete removes the session cookie and the backing storage entry for the
// current session id, if any.
func (m *Manager[T]) Delete(ctx context.Context) error {
	const op = "session.(Manager).Delete"
	if m.current == nil {
		if p, ok := m.load(); ok {
			m.current = &p
		}
	}
	if m.current != nil {
		if err := m.store.Delete(ctx, m.current.ID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	m.cookies.Delete(m.name)
	m.current = nil
	return nil
}

// load opens the inbound session cookie; any failure reads as "no session".
func (m *Manager[T]) load() (cookiePayload, bool) {
	token, ok := m.cookies.Get(m.name)
	if !ok {
		return cookiePayload{}, false
	}
	var p cookiePayload
	if !seal.Decrypt(token, m.key, m.absolute, &p) {
		return cookiePayload{}, false
	}
	if p.ID == "" {
		return cookiePayload{}, false
	}
	return p, true
}

// issue mints a fresh anonymous session: a new id and cookie, no stored
// data.
func (m *Manager[T]) issue(now time.Time) (*cookiePayload, error) {
	const op = "session.(Manager).issue"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrIdGeneratorFailed)
	}
	p := &cookiePayload{ID: id, Origin: now.Unix(), Touched: now.Unix()}
	if err := m.writeCookie(p, now); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Manager[T]) read(ctx context.Context, id string) (*T, error) {
	raw, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		// the payload shape changed across deploys; the record reads as
		// absent rather than failing every request carrying the old shape
		m.logger.Debug("dropping undecodable session record", "id", id)
		return nil, nil
	}
	return &data, nil
}

func (m *Manager[T]) write(ctx context.Context, p *cookiePayload, data *T, now time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, p.ID, raw, m.remaining(p, now)); err != nil {
		return err
	}
	return m.writeCookie(p, now)
}

// remaining is the time left before the session's absolute ceiling.
func (m *Manager[T]) remaining(p *cookiePayload, now time.Time) time.Duration {
	return time.Unix(p.Origin, 0).Add(m.absolute).Sub(now)
}

// writeCookie seals the payload into the session cookie.  The sealed value
// stays decryptable until the absolute ceiling, while the cookie's Max-Age
// is the lesser of the inactivity window and the remaining absolute
// lifetime.
func (m *Manager[T]) writeCookie(p *cookiePayload, now time.Time) error {
	remaining := m.remaining(p, now)
	if remaining <= 0 {
		return fmt.Errorf("session lifetime exhausted: %w", ErrInvalidParameter)
	}
	token, maxAge, err := seal.Encrypt(p, m.key, seal.Duration{Absolute: remaining, Inactivity: m.inactivity})
	if err != nil {
		return err
	}
	if inactivity := int(m.inactivity.Seconds()); inactivity < maxAge {
		maxAge = inactivity
	}
	m.cookies.Set(m.name, token, maxAge)
	return nil
}
