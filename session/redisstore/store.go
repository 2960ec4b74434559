// Package redisstore provides a session.Store backed by Redis, for
// deployments where session records must survive process restarts and be
// shared across nodes.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys within the Redis keyspace.
const DefaultKeyPrefix = "sess:"

// Store is a session.Store keeping one Redis string per session id, expiring
// via the key's TTL.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the key prefix session ids are stored under.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store on the given client.  The client's lifecycle belongs
// to the caller.
func New(client redis.UniversalClient, opt ...Option) (*Store, error) {
	const op = "redisstore.New"
	if client == nil {
		return nil, fmt.Errorf("%s: missing redis client", op)
	}
	s := &Store{
		client: client,
		prefix: DefaultKeyPrefix,
	}
	for _, o := range opt {
		o(s)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	const op = "redisstore.(Store).Get"
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	const op = "redisstore.(Store).Set"
	if err := s.client.Set(ctx, s.prefix+id, data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	const op = "redisstore.(Store).Delete"
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
