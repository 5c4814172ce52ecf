// Package flight coalesces concurrent loads of the same key into a single
// operation whose result is shared by every caller.
//
// Unlike golang.org/x/sync/singleflight, a Group counts the callers waiting
// on each operation. A caller whose context ends detaches without affecting
// the others; the operation itself is cancelled only when the last waiter
// detaches before it settles.
package flight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/semaphore"

	"github.com/jmgilman/go/imagecache/internal/cacheerr"
)

// Func is the operation run once per key. The context it receives is
// independent of any single caller.
type Func[V any] func(ctx context.Context) (V, error)

// call is one in-flight operation.
type call[V any] struct {
	done    chan struct{} // closed once val and err are set
	val     V
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Group deduplicates operations by key. The zero value is not usable; use
// New.
type Group[V any] struct {
	mu    sync.Mutex
	calls map[string]*call[V]

	timeout time.Duration
	sem     *semaphore.Weighted
}

// Option configures a Group.
type Option func(*options)

type options struct {
	timeout       time.Duration
	maxConcurrent int64
}

// WithTimeout bounds each operation. The deadline starts once the operation
// is admitted, so time spent queued behind WithMaxConcurrent is excluded.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMaxConcurrent caps how many operations run at once across all keys.
// Non-positive values leave the group unbounded.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		o.maxConcurrent = int64(n)
	}
}

// New creates a Group.
func New[V any](opts ...Option) *Group[V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := &Group[V]{
		calls:   make(map[string]*call[V]),
		timeout: o.timeout,
	}
	if o.maxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(o.maxConcurrent)
	}
	return g
}

// Do returns the result of fn for key. If an operation for key is already
// in flight the caller joins it instead of starting another; shared reports
// whether that happened.
//
// When ctx ends first, Do returns a CANCELLED or TIMEOUT error for this
// caller only.
func (g *Group[V]) Do(ctx context.Context, key string, fn Func[V]) (val V, shared bool, err error) {
	g.mu.Lock()
	c, shared := g.calls[key]
	if !shared {
		c = g.start(ctx, key, fn)
	}
	c.waiters++
	g.mu.Unlock()

	val, err = g.wait(ctx, key, c)
	return val, shared, err
}

// Join attaches to the operation in flight for key without ever starting
// one. joined is false when nothing is in flight.
func (g *Group[V]) Join(ctx context.Context, key string) (val V, joined bool, err error) {
	g.mu.Lock()
	c, ok := g.calls[key]
	if !ok {
		g.mu.Unlock()
		return val, false, nil
	}
	c.waiters++
	g.mu.Unlock()

	val, err = g.wait(ctx, key, c)
	return val, true, err
}

// InFlight returns the number of keys with an operation in flight.
func (g *Group[V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Waiters returns the number of callers attached to the operation for key.
func (g *Group[V]) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		return c.waiters
	}
	return 0
}

// start registers a new call and launches fn. Caller holds g.mu.
func (g *Group[V]) start(ctx context.Context, key string, fn Func[V]) *call[V] {
	// Keep request scoped values such as trace spans but not the caller's
	// cancellation.
	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call[V]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	g.calls[key] = c

	go g.run(opCtx, key, c, fn)
	return c
}

func (g *Group[V]) run(ctx context.Context, key string, c *call[V], fn Func[V]) {
	defer c.cancel()

	var (
		val V
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.CodeInternal, "operation for %q panicked: %v", key, r)
		}
		g.settle(key, c, val, err)
	}()

	if g.sem != nil {
		if acqErr := g.sem.Acquire(ctx, 1); acqErr != nil {
			err = contextError(acqErr, key)
			return
		}
		defer g.sem.Release(1)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	val, err = fn(ctx)
	if err != nil && errors.GetCode(err) == errors.CodeUnknown && ctx.Err() != nil {
		err = contextError(ctx.Err(), key)
	}
}

// settle publishes the result. Removal from the registry and the broadcast
// happen under one lock so a new caller either joins this call before it
// settles or starts a fresh one after.
func (g *Group[V]) settle(key string, c *call[V], val V, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.calls[key] == c {
		delete(g.calls, key)
	}
	c.val, c.err = val, err
	close(c.done)
}

func (g *Group[V]) wait(ctx context.Context, key string, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-c.done:
		// Settled while we were acquiring the lock.
		return c.val, c.err
	default:
	}

	c.waiters--
	if c.waiters == 0 {
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		c.cancel()
	}

	var zero V
	return zero, contextError(ctx.Err(), key)
}

func contextError(err error, key string) error {
	if pe := cacheerr.FromContext(err, fmt.Sprintf("fetch of %q abandoned", key)); pe != nil {
		return errors.WithContext(pe, "key", key)
	}
	return err
}
