package syncache

import (
	"context"

	"github.com/unkn0wn-root/syncache/internal/util"
)

// MutateOption tunes a single host-side mutation call.
type MutateOption func(*mutateConfig)

type mutateConfig struct {
	noBroadcast bool
}

// NoBroadcast suppresses the push notification a successful mutation would
// otherwise send to the paired client endpoint.
func NoBroadcast() MutateOption {
	return func(c *mutateConfig) { c.noBroadcast = true }
}

// HostCache is the authoritative endpoint variant. It holds no persisted
// list; every call is a one-shot pipeline: compile, permission-check, store
// operation, postprocess, optional broadcast.
type HostCache struct {
	endpoint
	store  ObjectStore
	access Access
	push   Pusher
}

func newHostCache(desc Descriptor, st ObjectStore, access Access, push Pusher, log Logger, sink ErrorSink) *HostCache {
	return &HostCache{
		endpoint: newEndpointBase(desc, HostSide, log, sink),
		store:    st,
		access:   access,
		push:     push,
	}
}

// HasWritePermissions is the capability check guarding every mutation.
// Role-gated by default; overridable per cache via Descriptor.HasWrite.
func (h *HostCache) HasWritePermissions() bool {
	if h.desc.HasWrite != nil {
		return h.desc.HasWrite(h.access)
	}
	return h.access.HasRole(h.desc.WriteRole)
}

// compileReadObjectQuery translates untrusted single-read input into a
// trusted store query. The default requires the input to resolve to a
// numeric identifier, directly or under the identifier property.
func (h *HostCache) compileReadObjectQuery(input any) (Query, error) {
	if h.desc.CompileReadQuery != nil {
		return h.desc.CompileReadQuery(h.access, input)
	}
	if id, ok := util.AsID(input); ok {
		return ByID(id), nil
	}
	if obj, ok := input.(Object); ok {
		if id, ok := h.idOf(obj); ok {
			return ByID(id), nil
		}
	}
	return Query{}, errInvalid(h.desc.Name, "single read requires a numeric identifier input")
}

// compileReadObjectsQuery translates untrusted list input. The default
// accepts only empty input (unrestricted scan); caches wanting filtered
// queries must override to stay safe.
func (h *HostCache) compileReadObjectsQuery(input any) (Query, error) {
	if h.desc.CompileListQuery != nil {
		return h.desc.CompileListQuery(h.access, input)
	}
	switch v := input.(type) {
	case nil:
		return Query{}, nil
	case Object:
		if len(v) == 0 {
			return Query{}, nil
		}
	}
	return Query{}, errInvalid(h.desc.Name, "list read accepts no query input by default")
}

func (h *HostCache) compileObjectCreate(values Object) (Object, error) {
	if !h.HasWritePermissions() {
		return nil, errPermissions(h.desc.Name, "create denied")
	}
	if len(values) == 0 {
		return nil, errInvalid(h.desc.Name, "create requires a value object")
	}
	out := util.CopyMap(values)
	if h.desc.IDProperty != "" {
		// the store assigns identifiers; a client-supplied one is dropped
		delete(out, h.desc.IDProperty)
	}
	return out, nil
}

func (h *HostCache) compileObjectUpdate(values Object) (int64, Object, error) {
	if !h.HasWritePermissions() {
		return 0, nil, errPermissions(h.desc.Name, "update denied")
	}
	if h.desc.IDProperty == "" {
		return 0, nil, errInternal(h.desc.Name, "update requires a configured identifier property")
	}
	id, ok := h.idOf(values)
	if !ok {
		return 0, nil, errInvalid(h.desc.Name, "update input carries no identifier")
	}
	out := util.CopyMap(values)
	delete(out, h.desc.IDProperty)
	return id, out, nil
}

func (h *HostCache) compileObjectDelete(objectOrID any) (int64, error) {
	if !h.HasWritePermissions() {
		return 0, errPermissions(h.desc.Name, "delete denied")
	}
	if h.desc.IDProperty == "" {
		return 0, errInternal(h.desc.Name, "delete requires a configured identifier property")
	}
	if id, ok := util.AsID(objectOrID); ok {
		return id, nil
	}
	if obj, ok := objectOrID.(Object); ok {
		if id, ok := h.idOf(obj); ok {
			return id, nil
		}
	}
	return 0, errInvalid(h.desc.Name, "delete input resolves no identifier")
}

// ReadObject compiles the input, queries the store, wraps the row and
// applies the read-postprocessing hook. A miss fails with a distinguishable
// not-found error carrying the original input.
func (h *HostCache) ReadObject(ctx context.Context, input any) (Object, error) {
	q, err := h.compileReadObjectQuery(input)
	if err != nil {
		return nil, err
	}
	row, err := h.store.Find(ctx, h.desc.Table, q)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Cache: h.desc.Name, Input: input, Err: err}
	}
	if row == nil {
		return nil, errNotFound(h.desc.Name, input, nil)
	}
	obj := h.wrapObject(row)
	if h.desc.OnReadObject != nil {
		return h.desc.OnReadObject(h.access, obj)
	}
	return obj, nil
}

func (h *HostCache) ReadObjects(ctx context.Context, input any) ([]Object, error) {
	q, err := h.compileReadObjectsQuery(input)
	if err != nil {
		return nil, err
	}
	rows, err := h.store.FindAll(ctx, h.desc.Table, q)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Cache: h.desc.Name, Input: input, Err: err}
	}
	objs := make([]Object, 0, len(rows))
	for _, row := range rows {
		objs = append(objs, h.wrapObject(row))
	}
	if h.desc.OnReadObjects != nil {
		return h.desc.OnReadObjects(h.access, objs)
	}
	return objs, nil
}

// GetObject and GetObjects alias the read path; the host keeps no local
// state to prefer.
func (h *HostCache) GetObject(ctx context.Context, input any) (Object, error) {
	return h.ReadObject(ctx, input)
}

func (h *HostCache) GetObjects(ctx context.Context, input any) ([]Object, error) {
	return h.ReadObjects(ctx, input)
}

// GetObjectNow always misses: the host resolves through the store only.
func (h *HostCache) GetObjectNow(int64) (Object, bool) { return nil, false }

// CreateObject stores a new row and, unless suppressed, broadcasts the
// resulting delta to the paired client endpoint.
func (h *HostCache) CreateObject(ctx context.Context, values Object, opts ...MutateOption) (Object, error) {
	cfg := applyMutateOptions(opts)
	compiled, err := h.compileObjectCreate(values)
	if err != nil {
		return nil, err
	}
	id, err := h.store.Create(ctx, h.desc.Table, compiled)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Cache: h.desc.Name, Err: err}
	}
	obj, err := h.readBack(ctx, id)
	if err != nil {
		return nil, err
	}
	h.broadcastChange(ctx, obj, cfg)
	return obj, nil
}

// UpdateObject applies a property patch to an existing row.
func (h *HostCache) UpdateObject(ctx context.Context, values Object, opts ...MutateOption) (Object, error) {
	cfg := applyMutateOptions(opts)
	id, changes, err := h.compileObjectUpdate(values)
	if err != nil {
		return nil, err
	}
	if err := h.store.Update(ctx, h.desc.Table, id, changes); err != nil {
		return nil, &Error{Kind: KindInternal, Cache: h.desc.Name, Input: values, Err: err}
	}
	obj, err := h.readBack(ctx, id)
	if err != nil {
		return nil, err
	}
	h.broadcastChange(ctx, obj, cfg)
	return obj, nil
}

// DeleteObject accepts either an object or a bare identifier.
func (h *HostCache) DeleteObject(ctx context.Context, objectOrID any, opts ...MutateOption) error {
	cfg := applyMutateOptions(opts)
	id, err := h.compileObjectDelete(objectOrID)
	if err != nil {
		return err
	}
	if err := h.store.Destroy(ctx, h.desc.Table, id); err != nil {
		return &Error{Kind: KindInternal, Cache: h.desc.Name, Input: objectOrID, Err: err}
	}
	if !cfg.noBroadcast {
		if err := h.push.RemoveFromCache(ctx, h.desc.Name, id); err != nil {
			// fire-and-forget from the host's perspective
			h.log.Warn("removeFromCache push failed", Fields{"cache": h.desc.Name, "id": id, "err": err})
		}
	}
	return nil
}

func (h *HostCache) readBack(ctx context.Context, id int64) (Object, error) {
	row, err := h.store.Find(ctx, h.desc.Table, ByID(id))
	if err != nil {
		return nil, &Error{Kind: KindInternal, Cache: h.desc.Name, Err: err}
	}
	if row == nil {
		return nil, errNotFound(h.desc.Name, id, nil)
	}
	obj := h.wrapObject(row)
	if h.desc.OnReadObject != nil {
		return h.desc.OnReadObject(h.access, obj)
	}
	return obj, nil
}

func (h *HostCache) broadcastChange(ctx context.Context, obj Object, cfg mutateConfig) {
	if cfg.noBroadcast {
		return
	}
	if err := h.push.ApplyChanges(ctx, h.desc.Name, []Object{obj}); err != nil {
		h.log.Warn("applyChanges push failed", Fields{"cache": h.desc.Name, "err": err})
	}
}

func applyMutateOptions(opts []MutateOption) mutateConfig {
	var cfg mutateConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
