package broker

import (
	"errors"
	"sync"
)

// Group tracks every handle created for one client subscription.
type Group struct {
	bridge *Bridge

	mu      sync.Mutex
	handles []Handle
	closed  bool
}

// NewGroup returns an empty Group bound to the bridge.
func (b *Bridge) NewGroup() *Group {
	return &Group{bridge: b}
}

// Subscribe registers handler on the bridge and records the handle.
func (g *Group) Subscribe(filter string, qos byte, handler Handler) (Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return Handle{}, ErrClosed
	}
	h, err := g.bridge.Subscribe(filter, qos, handler)
	if err != nil {
		return Handle{}, err
	}
	g.handles = append(g.handles, h)
	return h, nil
}

// Len returns the number of handles held.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// Close releases every handle. Errors are joined; every handle is
// attempted regardless. Close is idempotent.
func (g *Group) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := g.bridge.Unsubscribe(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
