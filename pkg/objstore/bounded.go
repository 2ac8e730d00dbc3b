package objstore

import (
	"context"
)

// Limiter bounds the execution of a blocking call. Satisfied by
// workpool.Pool; declared here so the store does not depend on the pool
// package.
type Limiter interface {
	Do(ctx context.Context, op func() error) error
}

// Bounded wraps inner so every operation runs through the limiter. This is
// how lifecycle controllers route all store round trips onto the shared
// blocking-call pool.
func Bounded(inner Store, lim Limiter) Store {
	return &boundedStore{inner: inner, lim: lim}
}

type boundedStore struct {
	inner Store
	lim   Limiter
}

func (b *boundedStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	return b.lim.Do(ctx, func() error { return b.inner.Put(ctx, bucket, key, body) })
}

func (b *boundedStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var out []byte
	err := b.lim.Do(ctx, func() error {
		var err error
		out, err = b.inner.Get(ctx, bucket, key)
		return err
	})
	return out, err
}

func (b *boundedStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	var ok bool
	err := b.lim.Do(ctx, func() error {
		var err error
		ok, err = b.inner.Exists(ctx, bucket, key)
		return err
	})
	return ok, err
}

func (b *boundedStore) Delete(ctx context.Context, bucket, key string) error {
	return b.lim.Do(ctx, func() error { return b.inner.Delete(ctx, bucket, key) })
}
