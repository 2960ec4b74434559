package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/rpflow/seal"
)

// DefaultDataCookieName is the cookie that carries the sealed session
// payload for cookie-only deployments.
const DefaultDataCookieName = "sid_data"

// CookieStore is a Store for deployments with no server-side storage: the
// session payload itself is sealed into a second cookie alongside the
// session cookie.  Like the Manager, a CookieStore is constructed per
// request with that request's cookie capability.
//
// The payload is bound to the session id it was stored under, so a record
// from one session can never be replayed into another.
type CookieStore struct {
	cookies Cookies
	key     seal.Key
	name    string
	maxAge  time.Duration
}

type cookieRecord struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// NewCookieStore creates a CookieStore sealing payloads with the given key.
//
// Supported options: WithDataCookieName, WithAbsoluteDuration
func NewCookieStore(cookies Cookies, key seal.Key, opt ...Option) (*CookieStore, error) {
	const op = "session.NewCookieStore"
	if cookies == nil {
		return nil, fmt.Errorf("%s: missing cookies: %w", op, ErrNilParameter)
	}
	opts := getCookieStoreOpts(opt...)
	return &CookieStore{
		cookies: cookies,
		key:     key,
		name:    opts.withDataCookieName,
		maxAge:  opts.withAbsolute,
	}, nil
}

func (s *CookieStore) Get(ctx context.Context, id string) ([]byte, error) {
	token, ok := s.cookies.Get(s.name)
	if !ok {
		return nil, nil
	}
	var rec cookieRecord
	if !seal.Decrypt(token, s.key, s.maxAge, &rec) {
		return nil, nil
	}
	if rec.ID != id {
		return nil, nil
	}
	return rec.Data, nil
}

func (s *CookieStore) Set(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	const op = "session.(CookieStore).Set"
	token, maxAge, err := seal.Encrypt(cookieRecord{ID: id, Data: data}, s.key, seal.Duration{Absolute: ttl})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.cookies.Set(s.name, token, maxAge)
	return nil
}

func (s *CookieStore) Delete(ctx context.Context, id string) error {
	s.cookies.Delete(s.name)
	return nil
}

var _ Store = (*CookieStore)(nil)
