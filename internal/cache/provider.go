// Package cache provides the byte-level cache used for catalog snapshots
// and dashboard counters.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the minimal cache surface the engine needs: keyed byte blobs
// with a TTL. Implementations must be safe for concurrent use.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals an absent key. Callers treat a miss as "compute and
// backfill", never as a failure.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider satisfies Provider without storing anything. It is the
// default when no Valkey address is configured.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }
