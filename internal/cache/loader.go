package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/resumemate/backend/pkg/logger"
)

// Remote is a slower shared tier behind the in-process cache.
type Remote interface {
	Get(ctx context.Context, key string, dst any) (storedAt time.Time, ok bool, err error)
	Set(ctx context.Context, key string, value any, storedAt time.Time, ttl time.Duration) error
}

// Loader reads through a Cache, an optional Remote tier and finally the
// load function. Concurrent misses on one key share a single load, and
// nothing is written to either tier unless the load succeeded.
type Loader[V any] struct {
	local   *Cache[V]
	remote  Remote
	timeout time.Duration
	group   singleflight.Group
}

type LoaderOption[V any] func(*Loader[V])

func WithRemote[V any](r Remote) LoaderOption[V] {
	return func(l *Loader[V]) { l.remote = r }
}

// WithLoadTimeout bounds a shared load once it is detached from the
// caller that started it.
func WithLoadTimeout[V any](d time.Duration) LoaderOption[V] {
	return func(l *Loader[V]) { l.timeout = d }
}

func NewLoader[V any](local *Cache[V], opts ...LoaderOption[V]) *Loader[V] {
	l := &Loader[V]{local: local, timeout: time.Minute}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader[V]) Cache() *Cache[V] { return l.local }

// Get returns the cached value for key or computes it with load. The
// boolean is true when the value came from a cache tier.
func (l *Loader[V]) Get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, bool, error) {
	var zero V
	if v, ok := l.local.Get(key); ok {
		return v, true, nil
	}

	ch := l.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.fill(flightCtx, key, load)
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		out, ok := res.Val.(filled[V])
		if !ok {
			return zero, false, fmt.Errorf("cache %s: unexpected value type %T", l.local.Name(), res.Val)
		}
		return out.value, out.cached, nil
	}
}

type filled[V any] struct {
	value  V
	cached bool
}

func (l *Loader[V]) fill(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (filled[V], error) {
	gen := l.local.Generation()
	if v, ok := l.local.Get(key); ok {
		return filled[V]{value: v, cached: true}, nil
	}

	if l.remote != nil {
		var v V
		storedAt, ok, err := l.remote.Get(ctx, key, &v)
		switch {
		case err != nil:
			logger.Warn("Remote cache read failed",
				zap.String("cache", l.local.Name()),
				zap.Error(err),
			)
		case ok && l.local.Fresh(storedAt):
			l.local.SetIfGeneration(gen, key, v, storedAt)
			return filled[V]{value: v, cached: true}, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return filled[V]{}, err
	}

	storedAt := l.local.Now()
	if !l.local.SetIfGeneration(gen, key, v, storedAt) {
		logger.Debug("Discarded load from before a cache clear",
			zap.String("cache", l.local.Name()),
		)
		return filled[V]{value: v}, nil
	}
	if l.remote != nil {
		if err := l.remote.Set(ctx, key, v, storedAt, l.local.TTL()); err != nil {
			logger.Warn("Remote cache write failed",
				zap.String("cache", l.local.Name()),
				zap.Error(err),
			)
		}
	}
	return filled[V]{value: v}, nil
}
