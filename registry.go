package syncache

import (
	"fmt"
	"sync"
)

// Owner is the component a cache attaches to. Attaching under a name the
// owner already holds is a configuration error.
type Owner interface {
	Has(name string) bool
	Attach(name string, ep Endpoint)
}

// CacheSet is a ready-made Owner for components without their own attachment
// scheme.
type CacheSet struct {
	m map[string]Endpoint
}

func (s *CacheSet) Has(name string) bool {
	_, ok := s.m[name]
	return ok
}

func (s *CacheSet) Attach(name string, ep Endpoint) {
	if s.m == nil {
		s.m = make(map[string]Endpoint)
	}
	s.m[name] = ep
}

// Cache returns an attached endpoint by name, or nil.
func (s *CacheSet) Cache(name string) Endpoint { return s.m[name] }

// RegistryOptions configures a per-process, per-side registry.
// Host side requires Store and Access; client side requires Host.
type RegistryOptions struct {
	Side   Side
	Logger Logger
	Errors ErrorSink

	// host side
	Store  ObjectStore
	Access Access
	Push   Pusher

	// client side
	Host HostClient
}

// Registry owns every endpoint instance of one side. It is populated during
// initialization; caches are not unregistered at runtime.
type Registry struct {
	side Side
	log  Logger
	sink ErrorSink

	store  ObjectStore
	access Access
	push   Pusher
	host   HostClient

	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	r := &Registry{
		side:      opts.Side,
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
		sink:      coalesce[ErrorSink](opts.Errors, NopSink{}),
		store:     opts.Store,
		access:    opts.Access,
		push:      coalesce[Pusher](opts.Push, NopPusher{}),
		host:      opts.Host,
		endpoints: make(map[string]Endpoint),
	}
	switch opts.Side {
	case HostSide:
		if r.store == nil {
			return nil, fmt.Errorf("syncache: host registry requires a store")
		}
		if r.access == nil {
			return nil, fmt.Errorf("syncache: host registry requires an access oracle")
		}
	case ClientSide:
		if r.host == nil {
			return nil, fmt.Errorf("syncache: client registry requires a host client")
		}
	default:
		return nil, fmt.Errorf("syncache: unknown side %d", opts.Side)
	}
	return r, nil
}

func (r *Registry) Side() Side { return r.side }

// Install validates the descriptor, builds the endpoint variant for this
// registry's side, registers it by name and attaches it to the owner.
// Duplicate names and owner collisions fail loudly: they indicate a
// programming error, not a runtime condition.
func (r *Registry) Install(owner Owner, desc Descriptor) (Endpoint, error) {
	resolved, err := resolveDescriptor(desc)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.Has(resolved.Name) {
		return nil, fmt.Errorf("syncache %q: owning component already holds a property with this name", resolved.Name)
	}

	r.mu.Lock()
	if _, dup := r.endpoints[resolved.Name]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("syncache %q: cache already registered", resolved.Name)
	}
	r.mu.Unlock()

	var ep Endpoint
	switch r.side {
	case HostSide:
		ep = newHostCache(resolved, r.store, r.access, r.push, r.log, r.sink)
	case ClientSide:
		cc, err := newClientCache(resolved, r.host, r.log, r.sink)
		if err != nil {
			return nil, err
		}
		ep = cc
	}

	r.mu.Lock()
	if _, dup := r.endpoints[resolved.Name]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("syncache %q: cache already registered", resolved.Name)
	}
	r.endpoints[resolved.Name] = ep
	r.mu.Unlock()

	if owner != nil {
		owner.Attach(resolved.Name, ep)
	}
	r.log.Debug("cache installed", Fields{"cache": resolved.Name, "side": r.side.String()})
	return ep, nil
}

// InstallAll runs the bulk install pass over descs, skipping manual-init
// descriptors, then a second pass wiring declared subscriptions. Every
// referenced cache and event name must exist.
func (r *Registry) InstallAll(owner Owner, descs []Descriptor) error {
	installed := make([]Descriptor, 0, len(descs))
	for _, desc := range descs {
		if desc.ManualInit {
			continue
		}
		if _, err := r.Install(owner, desc); err != nil {
			return err
		}
		installed = append(installed, desc)
	}

	for _, desc := range installed {
		for _, sub := range desc.Watch {
			target, ok := r.Endpoint(sub.Cache)
			if !ok {
				return fmt.Errorf("syncache %q: subscription references unknown cache %q", desc.Name, sub.Cache)
			}
			if err := target.On(sub.Event, sub.Handler); err != nil {
				return fmt.Errorf("syncache %q: %w", desc.Name, err)
			}
		}
	}
	return nil
}

// Endpoint returns a registered endpoint by name.
func (r *Registry) Endpoint(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Client returns a registered client endpoint by name.
func (r *Registry) Client(name string) (*ClientCache, bool) {
	ep, ok := r.Endpoint(name)
	if !ok {
		return nil, false
	}
	cc, ok := ep.(*ClientCache)
	return cc, ok
}

// Host returns a registered host endpoint by name.
func (r *Registry) Host(name string) (*HostCache, bool) {
	ep, ok := r.Endpoint(name)
	if !ok {
		return nil, false
	}
	hc, ok := ep.(*HostCache)
	return hc, ok
}

// ApplyChanges is the inbound push entry point on the client side. An
// unknown cache name is a reported error, not fatal.
func (r *Registry) ApplyChanges(cache string, objects []Object) {
	cc, ok := r.Client(cache)
	if !ok {
		err := errInvalid(cache, "applyChanges push for unknown cache")
		r.log.Error("push dropped", Fields{"cache": cache, "err": err})
		r.sink.HandleError(err)
		return
	}
	_ = cc.ApplyChanges(objects)
}

// RemoveFromCache is the inbound push entry point for deletions.
func (r *Registry) RemoveFromCache(cache string, id int64) {
	cc, ok := r.Client(cache)
	if !ok {
		err := errInvalid(cache, "removeFromCache push for unknown cache")
		r.log.Error("push dropped", Fields{"cache": cache, "err": err})
		r.sink.HandleError(err)
		return
	}
	cc.RemoveFromCache(id)
}
