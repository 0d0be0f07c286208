package rpc

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/syncache"
	"github.com/unkn0wn-root/syncache/internal/wire"
	"github.com/unkn0wn-root/syncache/transport"
)

// Host serves the client -> host procedure set against a host-side registry
// and implements syncache.Pusher over the notifier, so host endpoints can
// broadcast deltas to the paired client.
type Host struct {
	access  syncache.Access
	notify  transport.Notifier
	minRole syncache.Role
	log     syncache.Logger
}

var _ syncache.Pusher = (*Host)(nil)

type HostConfig struct {
	// Access gates every inbound procedure before it reaches an endpoint.
	Access syncache.Access
	// Notifier carries pushes to the client peer. Nil drops pushes.
	Notifier transport.Notifier
	// MinRole is the minimum role for any inbound procedure. Defaults to
	// RoleUser.
	MinRole syncache.Role
	Logger  syncache.Logger
}

func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Access == nil {
		return nil, fmt.Errorf("rpc: host requires an access oracle")
	}
	h := &Host{
		access:  cfg.Access,
		notify:  cfg.Notifier,
		minRole: cfg.MinRole,
		log:     cfg.Logger,
	}
	if h.minRole == 0 {
		h.minRole = syncache.RoleUser
	}
	if h.log == nil {
		h.log = syncache.NopLogger{}
	}
	return h, nil
}

// Serve registers the five inbound procedures on l, delegating to reg.
func (h *Host) Serve(l transport.Listener, reg *syncache.Registry) error {
	type route struct {
		method string
		handle func(ctx context.Context, ep *syncache.HostCache, body []byte) ([]byte, error)
	}
	for _, r := range []route{
		{MethodFetchObject, h.fetchObject},
		{MethodFetchObjects, h.fetchObjects},
		{MethodCreateObject, h.createObject},
		{MethodUpdateObject, h.updateObject},
		{MethodDeleteObject, h.deleteObject},
	} {
		r := r
		err := l.Listen(r.method, func(ctx context.Context, frame []byte) ([]byte, error) {
			return h.dispatch(ctx, reg, frame, r.handle)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// dispatch decodes the request frame, runs the role gate and resolves the
// named endpoint. Failures never escape as handler errors; they are encoded
// into the response envelope so the client can classify them.
func (h *Host) dispatch(
	ctx context.Context,
	reg *syncache.Registry,
	frame []byte,
	handle func(ctx context.Context, ep *syncache.HostCache, body []byte) ([]byte, error),
) ([]byte, error) {
	cache, body, err := wire.DecodeRequest(frame)
	if err != nil {
		return wire.EncodeFailure(string(syncache.KindInvalidRequest), "malformed request frame"), nil
	}
	if !h.access.HasRole(h.minRole) {
		return wire.EncodeFailure(string(syncache.KindPermissions), "insufficient role"), nil
	}
	ep, ok := reg.Host(cache)
	if !ok {
		return wire.EncodeFailure(string(syncache.KindInvalidRequest), fmt.Sprintf("unknown cache %q", cache)), nil
	}

	resp, err := handle(ctx, ep, body)
	if err != nil {
		kind := syncache.KindOf(err)
		if kind == "" {
			kind = syncache.KindInternal
		}
		return wire.EncodeFailure(string(kind), err.Error()), nil
	}
	return wire.EncodeResponse(resp), nil
}

func (h *Host) fetchObject(ctx context.Context, ep *syncache.HostCache, body []byte) ([]byte, error) {
	var req fetchRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		return nil, &syncache.Error{Kind: syncache.KindInvalidRequest, Cache: ep.Name(), Msg: "undecodable fetch input", Err: err}
	}
	obj, err := ep.ReadObject(ctx, req.Input)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(objectResponse{Object: obj})
}

func (h *Host) fetchObjects(ctx context.Context, ep *syncache.HostCache, body []byte) ([]byte, error) {
	var req fetchRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		return nil, &syncache.Error{Kind: syncache.KindInvalidRequest, Cache: ep.Name(), Msg: "undecodable fetch input", Err: err}
	}
	objs, err := ep.ReadObjects(ctx, req.Input)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(objectsResponse{Objects: objs})
}

func (h *Host) createObject(ctx context.Context, ep *syncache.HostCache, body []byte) ([]byte, error) {
	var req createRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		return nil, &syncache.Error{Kind: syncache.KindInvalidRequest, Cache: ep.Name(), Msg: "undecodable create values", Err: err}
	}
	obj, err := ep.CreateObject(ctx, req.Values)
	if err != nil {
		return nil, err
	}
	id, ok := ep.IDOf(obj)
	if !ok {
		return nil, &syncache.Error{Kind: syncache.KindInternal, Cache: ep.Name(), Msg: "created object yields no identifier"}
	}
	return msgpack.Marshal(createResponse{ID: id})
}

func (h *Host) updateObject(ctx context.Context, ep *syncache.HostCache, body []byte) ([]byte, error) {
	var req updateRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		return nil, &syncache.Error{Kind: syncache.KindInvalidRequest, Cache: ep.Name(), Msg: "undecodable update values", Err: err}
	}
	if _, err := ep.UpdateObject(ctx, req.Values); err != nil {
		return nil, err
	}
	return msgpack.Marshal(struct{}{})
}

func (h *Host) deleteObject(ctx context.Context, ep *syncache.HostCache, body []byte) ([]byte, error) {
	var req deleteRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		return nil, &syncache.Error{Kind: syncache.KindInvalidRequest, Cache: ep.Name(), Msg: "undecodable delete id", Err: err}
	}
	if err := ep.DeleteObject(ctx, req.ID); err != nil {
		return nil, err
	}
	return msgpack.Marshal(struct{}{})
}

// ApplyChanges pushes a change delta to the client peer. Fire-and-forget.
func (h *Host) ApplyChanges(ctx context.Context, cache string, objects []syncache.Object) error {
	if h.notify == nil {
		return nil
	}
	body, err := msgpack.Marshal(changesPush{Objects: objects})
	if err != nil {
		return err
	}
	return h.notify.Notify(ctx, MethodApplyChanges, wire.EncodeRequest(cache, body))
}

// RemoveFromCache pushes a deletion to the client peer. Fire-and-forget.
func (h *Host) RemoveFromCache(ctx context.Context, cache string, id int64) error {
	if h.notify == nil {
		return nil
	}
	body, err := msgpack.Marshal(removePush{ID: id})
	if err != nil {
		return err
	}
	return h.notify.Notify(ctx, MethodRemoveFromCache, wire.EncodeRequest(cache, body))
}
