package matches

import (
	"context"
	"sync"

	"github.com/unimatch/match-engine/internal/domain/matching"
)

// flightGroup runs at most one compute per key inside the process. Unlike a
// plain singleflight, the shared compute runs on its own context: a caller that
// gives up detaches without cancelling it, and the compute is cancelled only
// once every waiter has left.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	done    chan struct{}
	results []matching.MatchResult
	err     error
	waiters int
	cancel  context.CancelFunc
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*flightCall)}
}

// Do returns the result of fn for key, joining a compute already in flight.
// shared reports whether the caller joined an existing compute.
func (g *flightGroup) Do(
	ctx context.Context,
	key string,
	fn func(context.Context) ([]matching.MatchResult, error),
) (results []matching.MatchResult, shared bool, err error) {
	g.mu.Lock()
	c, shared := g.calls[key]
	if !shared {
		cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &flightCall{done: make(chan struct{}), cancel: cancel}
		g.calls[key] = c
		go g.run(cctx, key, c, fn)
	}
	c.waiters++
	g.mu.Unlock()

	select {
	case <-c.done:
		return c.results, shared, c.err
	case <-ctx.Done():
		g.leave(key, c)
		return nil, shared, ctx.Err()
	}
}

func (g *flightGroup) run(ctx context.Context, key string, c *flightCall, fn func(context.Context) ([]matching.MatchResult, error)) {
	defer func() {
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		c.cancel()
		close(c.done)
	}()

	c.results, c.err = fn(ctx)
}

// leave detaches a waiter. The last waiter cancels the compute and forgets the
// key so that a later caller starts afresh instead of joining a dying compute.
func (g *flightGroup) leave(key string, c *flightCall) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c.waiters--
	if c.waiters > 0 {
		return
	}
	c.cancel()
	if g.calls[key] == c {
		delete(g.calls, key)
	}
}

// inFlight returns the number of keys being computed.
func (g *flightGroup) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
