// Package local provides an in-process transport pair. Both sides live in
// the same process; Call and Notify dispatch directly into the remote
// peer's handlers. Used for wiring single-process deployments and tests.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/syncache/transport"
)

// Peer is one end of an in-process channel.
type Peer struct {
	mu       sync.RWMutex
	handlers map[string]transport.Handler
	remote   *Peer
}

var (
	_ transport.Caller   = (*Peer)(nil)
	_ transport.Notifier = (*Peer)(nil)
	_ transport.Listener = (*Peer)(nil)
)

// Pair returns two connected peers.
func Pair() (*Peer, *Peer) {
	a := &Peer{handlers: make(map[string]transport.Handler)}
	b := &Peer{handlers: make(map[string]transport.Handler)}
	a.remote = b
	b.remote = a
	return a, b
}

func (p *Peer) Listen(method string, h transport.Handler) error {
	if h == nil {
		return fmt.Errorf("local transport: nil handler for %q", method)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.handlers[method]; dup {
		return fmt.Errorf("local transport: method %q already registered", method)
	}
	p.handlers[method] = h
	return nil
}

func (p *Peer) Call(ctx context.Context, method string, body []byte) ([]byte, error) {
	h, err := p.remote.handler(method)
	if err != nil {
		return nil, err
	}
	return h(ctx, body)
}

// Notify dispatches synchronously and discards the result.
func (p *Peer) Notify(ctx context.Context, method string, body []byte) error {
	h, err := p.remote.handler(method)
	if err != nil {
		return err
	}
	_, err = h(ctx, body)
	return err
}

func (p *Peer) handler(method string) (transport.Handler, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[method]
	if !ok {
		return nil, fmt.Errorf("local transport: no handler for %q", method)
	}
	return h, nil
}
