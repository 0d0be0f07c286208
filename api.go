package syncache

import (
	"context"
)

// Object is a raw cached record. Every object entering a cache must yield a
// non-null identifier under the configured accessor.
type Object = map[string]any

// Side selects which endpoint variant a registry constructs.
type Side int

const (
	HostSide Side = iota
	ClientSide
)

func (s Side) String() string {
	if s == HostSide {
		return "host"
	}
	return "client"
}

// Role is the minimum-privilege ladder used by permission gates.
type Role int8

const (
	RoleNone Role = iota
	RoleUser
	RoleAdmin
)

// User is the identity reported by an Access oracle.
type User struct {
	ID   int64
	Name string
	Role Role
}

// Access is the role/permission oracle consumed by host endpoints and the
// RPC gate.
type Access interface {
	CurrentUser() *User
	HasRole(min Role) bool
}

// ErrorSink is the shared error-handling collaborator. Endpoint read
// failures are reported here by default instead of being thrown at
// unrelated code paths.
type ErrorSink interface {
	HandleError(err error)
}

type NopSink struct{}

func (NopSink) HandleError(error) {}

// HostClient is the client->host procedure set reachable over the RPC
// channel. rpc.Client is the production implementation.
type HostClient interface {
	FetchObject(ctx context.Context, cache string, input any) (Object, error)
	FetchObjects(ctx context.Context, cache string, input any) ([]Object, error)
	CreateObject(ctx context.Context, cache string, values Object) (int64, error)
	UpdateObject(ctx context.Context, cache string, values Object) error
	DeleteObject(ctx context.Context, cache string, id int64) error
}

// Pusher is the host->client push set. Pushes are fire-and-forget from the
// host's perspective.
type Pusher interface {
	ApplyChanges(ctx context.Context, cache string, objects []Object) error
	RemoveFromCache(ctx context.Context, cache string, id int64) error
}

type NopPusher struct{}

func (NopPusher) ApplyChanges(context.Context, string, []Object) error { return nil }
func (NopPusher) RemoveFromCache(context.Context, string, int64) error { return nil }

// Query is the trusted store query produced by host-side compilation.
// Untrusted client input never reaches the store uncompiled.
type Query struct {
	ID    *int64
	Where map[string]any
	Limit int
}

// ByID builds an identifier point query.
func ByID(id int64) Query { return Query{ID: &id} }

// ObjectStore is the swappable persistence interface behind a host
// endpoint. Find returns (nil, nil) on a miss; Update and Destroy of a
// missing row return an error.
type ObjectStore interface {
	Find(ctx context.Context, table string, q Query) (Object, error)
	FindAll(ctx context.Context, table string, q Query) ([]Object, error)
	Create(ctx context.Context, table string, values Object) (int64, error)
	Update(ctx context.Context, table string, id int64, values Object) error
	Destroy(ctx context.Context, table string, id int64) error
	Close(ctx context.Context) error
}

// WrapFunc converts a raw record into its configured rich instance shape.
// When nil, raw data passes through unchanged.
type WrapFunc func(raw Object) Object

// IndexSpec declares a secondary index over a cache.
type IndexSpec struct {
	Name    string
	KeyPath []string // all but the last are navigation levels
	Unique  bool
}

// Subscription declares a cross-cache event wiring resolved during the
// registry's second install pass.
type Subscription struct {
	Cache   string
	Event   string
	Handler EventHandler
}

// Descriptor is the declarative configuration of one cache. It is resolved
// at install time; missing identifier accessors fail fast there.
type Descriptor struct {
	// Name is unique across the registry.
	Name string
	// Table is the store table backing the host endpoint. Defaults to Name.
	Table string

	// IDProperty names the identifier property; Install derives the
	// accessor pair from it. Alternatively set IDGetter/IDSetter directly.
	IDProperty string
	IDGetter   func(Object) (int64, bool)
	IDSetter   func(Object, int64)

	Wrap       WrapFunc
	Indexes    []IndexSpec
	ManualInit bool

	// Host-side overrides. Defaults: writes require WriteRole (RoleUser
	// when zero); single reads require a numeric identifier input; list
	// reads require empty input.
	WriteRole        Role
	HasWrite         func(a Access) bool
	CompileReadQuery func(a Access, input any) (Query, error)
	CompileListQuery func(a Access, input any) (Query, error)
	OnReadObject     func(a Access, obj Object) (Object, error)
	OnReadObjects    func(a Access, objs []Object) ([]Object, error)

	// Client-side hooks, invoked after local storage mutation.
	OnAdded        func(obj Object)
	OnRemoved      func(obj Object)
	OnCacheChanged func()

	Watch []Subscription
}

// Endpoint is the read contract shared by both sides of a cache. Concrete
// types (*HostCache, *ClientCache) expose the mutation API.
type Endpoint interface {
	Name() string
	Side() Side

	// ReadObject resolves a single object through the authoritative path.
	ReadObject(ctx context.Context, input any) (Object, error)
	// ReadObjects resolves an object set through the authoritative path.
	ReadObjects(ctx context.Context, input any) ([]Object, error)
	// GetObjectNow is a synchronous cache-only read; it never performs IO.
	GetObjectNow(id int64) (Object, bool)

	// On subscribes h to a named event. Unknown event names are an error.
	On(event string, h EventHandler) error
}
