package syncache

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/syncache/internal/util"
)

// ClientCache is the local materialized view of one cache. It keeps a list
// and an id map over the same object instances (two views, never diverging
// copies) plus optional secondary indices, and applies mutations
// optimistically with compensating rollback on host rejection.
//
// Objects returned from a ClientCache are shared with its storage: a held
// reference observes in-place merges. Mutate only through UpdateObject.
type ClientCache struct {
	endpoint
	host HostClient

	mu       sync.Mutex
	list     []Object
	byID     map[int64]Object
	indices  *IndexSet
	nUpdates uint64
}

func newClientCache(desc Descriptor, host HostClient, log Logger, sink ErrorSink) (*ClientCache, error) {
	c := &ClientCache{
		endpoint: newEndpointBase(desc, ClientSide, log, sink),
		host:     host,
		byID:     make(map[int64]Object),
	}
	if len(desc.Indexes) > 0 {
		set, err := newIndexSet(desc.Indexes, desc.IDGetter, log)
		if err != nil {
			return nil, err
		}
		c.indices = set
	}
	return c, nil
}

// NUpdates is a monotonic counter of merge operations, useful for staleness
// checks by consumers.
func (c *ClientCache) NUpdates() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nUpdates
}

// Index returns a configured secondary index by name.
func (c *ClientCache) Index(name string) (*Index, bool) {
	if c.indices == nil {
		return nil, false
	}
	return c.indices.Index(name)
}

// GetObjectNow is a pure local read. It never blocks and never performs IO.
func (c *ClientCache) GetObjectNow(id int64) (Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.byID[id]
	return obj, ok
}

// GetObjectsNow returns a snapshot of the local list. The contained objects
// are the live cache instances.
func (c *ClientCache) GetObjectsNow() []Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Object, len(c.list))
	copy(out, c.list)
	return out
}

// GetObject prefers the local cache and falls back to the network path.
func (c *ClientCache) GetObject(ctx context.Context, input any) (Object, error) {
	if id, ok := c.resolveID(input); ok {
		if obj, hit := c.GetObjectNow(id); hit {
			return obj, nil
		}
	}
	return c.ReadObject(ctx, input)
}

// GetObjects returns the local list once it has been populated at least
// once, otherwise resolves through the host.
func (c *ClientCache) GetObjects(ctx context.Context, input any) ([]Object, error) {
	c.mu.Lock()
	warm := c.nUpdates > 0
	c.mu.Unlock()
	if warm {
		return c.GetObjectsNow(), nil
	}
	return c.ReadObjects(ctx, input)
}

// ReadObject issues a request to the paired host endpoint and merges the
// result into local storage. Failures route through the error path and are
// returned, never thrown.
func (c *ClientCache) ReadObject(ctx context.Context, input any) (Object, error) {
	c.events.emit(Event{Name: EventSendingReadQuery, Input: input})
	raw, err := c.host.FetchObject(ctx, c.desc.Name, input)
	if err != nil {
		cerr := c.classifyReadFailure(err, input)
		c.reportError(cerr)
		return nil, cerr
	}
	if _, err := c.applyChanges([]Object{raw}, input); err != nil {
		c.reportError(err)
		return nil, err
	}
	if id, ok := c.idOf(raw); ok {
		if obj, hit := c.GetObjectNow(id); hit {
			return obj, nil
		}
	}
	return raw, nil
}

func (c *ClientCache) ReadObjects(ctx context.Context, input any) ([]Object, error) {
	c.events.emit(Event{Name: EventSendingReadQuery, Input: input})
	raw, err := c.host.FetchObjects(ctx, c.desc.Name, input)
	if err != nil {
		cerr := c.classifyReadFailure(err, input)
		c.reportError(cerr)
		return nil, cerr
	}
	if _, err := c.applyChanges(raw, input); err != nil {
		c.reportError(err)
		return nil, err
	}
	// return the local instances for the ids the host answered with
	out := make([]Object, 0, len(raw))
	c.mu.Lock()
	for _, rec := range raw {
		if id, ok := c.idOf(rec); ok {
			if obj, hit := c.byID[id]; hit {
				out = append(out, obj)
			}
		}
	}
	c.mu.Unlock()
	return out, nil
}

// classifyReadFailure preserves host-raised kinds and defaults everything
// else to not-found. The wire envelope carries kind and message only, so the
// caller's input is re-attached here for handlers inspecting the failure.
func (c *ClientCache) classifyReadFailure(err error, input any) error {
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Input != nil {
			return err
		}
		withInput := *ce
		withInput.Input = input
		if withInput.Cache == "" {
			withInput.Cache = c.desc.Name
		}
		return &withInput
	}
	return errNotFound(c.desc.Name, input, err)
}

// ApplyChanges merges a host-pushed or locally produced record set into the
// cache. It is the public face of the central merge algorithm.
func (c *ClientCache) ApplyChanges(objects []Object) error {
	_, err := c.applyChanges(objects, nil)
	if err != nil {
		c.reportError(err)
	}
	return err
}

// applyChanges is the central merge. Incoming records partition into "new"
// (unknown id) and "changed" (any property differs under loose deep
// equality); identical records are dropped and never reach storage or
// observers. Known objects keep stable identity: properties are merged onto
// the existing instance in place.
func (c *ClientCache) applyChanges(data []Object, input any) ([]Object, error) {
	c.mu.Lock()
	var fresh []Object
	var changed []Object
	for _, rec := range data {
		id, ok := c.idOf(rec)
		if !ok {
			c.mu.Unlock()
			// a record without an id is a defect, not a recoverable condition
			return nil, errInternal(c.desc.Name, "change set record yields no identifier")
		}
		cur, known := c.byID[id]
		if !known {
			fresh = append(fresh, rec)
			continue
		}
		for k, v := range rec {
			if !util.Equal(v, cur[k]) {
				changed = append(changed, rec)
				break
			}
		}
	}
	c.mu.Unlock()

	delta := make([]Object, 0, len(fresh)+len(changed))
	delta = append(delta, fresh...)
	delta = append(delta, changed...)
	if len(delta) == 0 {
		return nil, nil
	}

	// observers see the to-be-applied delta before storage mutates
	c.events.emit(Event{Name: EventUpdating, Objects: delta, Input: input})

	// wrapping fires events, so it happens outside the storage lock
	wrapped := make([]Object, len(fresh))
	for i, rec := range fresh {
		wrapped[i] = c.wrapObject(rec)
	}

	applied := make([]Object, 0, len(delta))
	var added []Object

	c.mu.Lock()
	for _, obj := range wrapped {
		id, ok := c.idOf(obj)
		if !ok {
			continue
		}
		if cur, raced := c.byID[id]; raced {
			// another merge inserted it between phases; treat as a change
			c.mergeLocked(cur, obj)
			applied = append(applied, cur)
			continue
		}
		c.list = append(c.list, obj)
		c.byID[id] = obj
		if c.indices != nil {
			c.indices.Add(obj)
		}
		added = append(added, obj)
		applied = append(applied, obj)
	}
	for _, rec := range changed {
		id, ok := c.idOf(rec)
		if !ok {
			continue
		}
		// an updating handler may have evicted or replaced the object
		// between phases; merge only onto the currently registered instance
		cur, known := c.byID[id]
		if !known {
			continue
		}
		c.mergeLocked(cur, rec)
		applied = append(applied, cur)
	}
	if len(applied) > 0 {
		c.nUpdates++
	}
	c.mu.Unlock()

	if len(applied) == 0 {
		return nil, nil
	}

	for _, obj := range added {
		if c.desc.OnAdded != nil {
			c.desc.OnAdded(obj)
		}
	}
	if c.desc.OnCacheChanged != nil {
		c.desc.OnCacheChanged()
	}
	c.events.emit(Event{Name: EventUpdated, Objects: applied})
	return applied, nil
}

// mergeLocked shallow-copies every incoming property onto the existing
// object and re-keys the indices for it. Caller holds c.mu.
func (c *ClientCache) mergeLocked(existing, incoming Object) {
	if c.indices != nil {
		c.indices.Remove(existing)
	}
	for k, v := range incoming {
		existing[k] = v
	}
	if c.indices != nil {
		c.indices.Add(existing)
	}
}

// RemoveFromCache drops an object from list, map and all indices. Accepts
// either an object or a bare numeric identifier; unknown ids are a no-op
// and return nil.
func (c *ClientCache) RemoveFromCache(objectOrID any) Object {
	id, ok := c.resolveID(objectOrID)
	if !ok {
		return nil
	}

	c.mu.Lock()
	obj, known := c.byID[id]
	if !known {
		c.mu.Unlock()
		return nil
	}
	delete(c.byID, id)
	// linear scan is fine; caches are expected small
	for i := range c.list {
		if oid, ok := c.idOf(c.list[i]); ok && oid == id {
			c.list = append(c.list[:i], c.list[i+1:]...)
			break
		}
	}
	if c.indices != nil {
		c.indices.Remove(obj)
	}
	c.mu.Unlock()

	if c.desc.OnRemoved != nil {
		c.desc.OnRemoved(obj)
	}
	c.events.emit(Event{Name: EventRemoved, Object: obj})
	return obj
}

// CreateObject sends the draft to the host, assigns the host-returned
// identifier into it, merges it into the cache and returns the cached
// instance. No local identifier is invented before the host responds.
func (c *ClientCache) CreateObject(ctx context.Context, values Object) (Object, error) {
	id, err := c.host.CreateObject(ctx, c.desc.Name, values)
	if err != nil {
		c.reportError(err)
		return nil, err
	}
	c.desc.IDSetter(values, id)
	if _, err := c.applyChanges([]Object{values}, nil); err != nil {
		c.reportError(err)
		return nil, err
	}
	if obj, ok := c.GetObjectNow(id); ok {
		return obj, nil
	}
	return values, nil
}

// UpdateObject applies the change locally before the host confirms. On
// rejection the prior snapshot is re-applied and the error surfaced.
func (c *ClientCache) UpdateObject(ctx context.Context, values Object) error {
	id, ok := c.idOf(values)
	if !ok {
		err := errInvalid(c.desc.Name, "update input carries no identifier")
		c.reportError(err)
		return err
	}

	c.mu.Lock()
	cur, present := c.byID[id]
	var snapshot Object
	if present {
		snapshot = util.CopyMap(cur)
	}
	c.mu.Unlock()

	if present {
		if _, err := c.applyChanges([]Object{values}, nil); err != nil {
			c.reportError(err)
			return err
		}
	}

	if err := c.host.UpdateObject(ctx, c.desc.Name, values); err != nil {
		if present {
			c.restore(id, snapshot)
		}
		c.reportError(err)
		return err
	}
	return nil
}

// DeleteObject removes locally first, then tells the host. A rejected
// delete re-inserts the removed original.
func (c *ClientCache) DeleteObject(ctx context.Context, objectOrID any) error {
	id, ok := c.resolveID(objectOrID)
	if !ok {
		err := errInvalid(c.desc.Name, "delete input resolves no identifier")
		c.reportError(err)
		return err
	}

	removed := c.RemoveFromCache(id)

	if err := c.host.DeleteObject(ctx, c.desc.Name, id); err != nil {
		if removed != nil {
			c.reinsert(id, removed)
		}
		c.reportError(err)
		return err
	}
	return nil
}

// restore re-applies a pre-mutation snapshot onto the live instance,
// preserving object identity, and re-keys the indices.
func (c *ClientCache) restore(id int64, snapshot Object) {
	c.mu.Lock()
	cur, known := c.byID[id]
	if !known {
		// removed while the update was in flight; bring the snapshot back
		c.byID[id] = snapshot
		c.list = append(c.list, snapshot)
		if c.indices != nil {
			c.indices.Add(snapshot)
		}
		c.nUpdates++
		c.mu.Unlock()
		c.events.emit(Event{Name: EventUpdated, Objects: []Object{snapshot}})
		return
	}
	if c.indices != nil {
		c.indices.Remove(cur)
	}
	for k := range cur {
		delete(cur, k)
	}
	for k, v := range snapshot {
		cur[k] = v
	}
	if c.indices != nil {
		c.indices.Add(cur)
	}
	c.nUpdates++
	c.mu.Unlock()
	c.events.emit(Event{Name: EventUpdated, Objects: []Object{cur}})
}

func (c *ClientCache) reinsert(id int64, obj Object) {
	c.mu.Lock()
	if _, exists := c.byID[id]; exists {
		c.mu.Unlock()
		return
	}
	c.byID[id] = obj
	c.list = append(c.list, obj)
	if c.indices != nil {
		c.indices.Add(obj)
	}
	c.nUpdates++
	c.mu.Unlock()

	if c.desc.OnAdded != nil {
		c.desc.OnAdded(obj)
	}
	c.events.emit(Event{Name: EventUpdated, Objects: []Object{obj}})
}

func (c *ClientCache) resolveID(objectOrID any) (int64, bool) {
	if id, ok := util.AsID(objectOrID); ok {
		return id, true
	}
	if obj, ok := objectOrID.(Object); ok {
		return c.idOf(obj)
	}
	return 0, false
}
