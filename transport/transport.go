// Package transport defines the asynchronous RPC channel boundary between
// the two cache peers. The channel is assumed reliable, ordered and
// asynchronous; timeouts and reconnects live below this interface, not in
// the cache core.
package transport

import "context"

// Handler serves one method. The returned bytes become the response body of
// a Call; for a Notify they are discarded.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

// Listener registers method handlers. Registering a method twice is an
// error.
type Listener interface {
	Listen(method string, h Handler) error
}

// Caller performs a request/response exchange with the remote peer.
type Caller interface {
	Call(ctx context.Context, method string, body []byte) ([]byte, error)
}

// Notifier performs a fire-and-forget call; no response is expected.
type Notifier interface {
	Notify(ctx context.Context, method string, body []byte) error
}
