package rpc

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/syncache"
	"github.com/unkn0wn-root/syncache/internal/wire"
	"github.com/unkn0wn-root/syncache/transport"
)

// Client implements syncache.HostClient over a transport caller and serves
// the inbound push procedures against a client-side registry.
type Client struct {
	call transport.Caller
	log  syncache.Logger
}

var _ syncache.HostClient = (*Client)(nil)

type ClientConfig struct {
	Caller transport.Caller
	Logger syncache.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("rpc: client requires a caller")
	}
	c := &Client{call: cfg.Caller, log: cfg.Logger}
	if c.log == nil {
		c.log = syncache.NopLogger{}
	}
	return c, nil
}

// Serve registers the push handlers on l, delegating to reg. Push handlers
// return no payload; an unknown cache is reported by the registry, not
// returned to the host.
func (c *Client) Serve(l transport.Listener, reg *syncache.Registry) error {
	err := l.Listen(MethodApplyChanges, func(ctx context.Context, frame []byte) ([]byte, error) {
		cache, body, err := wire.DecodeRequest(frame)
		if err != nil {
			c.log.Error("malformed applyChanges push", syncache.Fields{"err": err})
			return nil, nil
		}
		var push changesPush
		if err := msgpack.Unmarshal(body, &push); err != nil {
			c.log.Error("undecodable applyChanges push", syncache.Fields{"cache": cache, "err": err})
			return nil, nil
		}
		reg.ApplyChanges(cache, push.Objects)
		return nil, nil
	})
	if err != nil {
		return err
	}
	return l.Listen(MethodRemoveFromCache, func(ctx context.Context, frame []byte) ([]byte, error) {
		cache, body, err := wire.DecodeRequest(frame)
		if err != nil {
			c.log.Error("malformed removeFromCache push", syncache.Fields{"err": err})
			return nil, nil
		}
		var push removePush
		if err := msgpack.Unmarshal(body, &push); err != nil {
			c.log.Error("undecodable removeFromCache push", syncache.Fields{"cache": cache, "err": err})
			return nil, nil
		}
		reg.RemoveFromCache(cache, push.ID)
		return nil, nil
	})
}

func (c *Client) FetchObject(ctx context.Context, cache string, input any) (syncache.Object, error) {
	body, err := c.roundTrip(ctx, MethodFetchObject, cache, fetchRequest{Input: input})
	if err != nil {
		return nil, err
	}
	var resp objectResponse
	if err := msgpack.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("rpc: fetchObject response decode: %w", err)
	}
	return resp.Object, nil
}

func (c *Client) FetchObjects(ctx context.Context, cache string, input any) ([]syncache.Object, error) {
	body, err := c.roundTrip(ctx, MethodFetchObjects, cache, fetchRequest{Input: input})
	if err != nil {
		return nil, err
	}
	var resp objectsResponse
	if err := msgpack.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("rpc: fetchObjects response decode: %w", err)
	}
	return resp.Objects, nil
}

func (c *Client) CreateObject(ctx context.Context, cache string, values syncache.Object) (int64, error) {
	body, err := c.roundTrip(ctx, MethodCreateObject, cache, createRequest{Values: values})
	if err != nil {
		return 0, err
	}
	var resp createResponse
	if err := msgpack.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("rpc: createObject response decode: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) UpdateObject(ctx context.Context, cache string, values syncache.Object) error {
	_, err := c.roundTrip(ctx, MethodUpdateObject, cache, updateRequest{Values: values})
	return err
}

func (c *Client) DeleteObject(ctx context.Context, cache string, id int64) error {
	_, err := c.roundTrip(ctx, MethodDeleteObject, cache, deleteRequest{ID: id})
	return err
}

// roundTrip frames and sends one request and unwraps the response envelope.
// Host-raised failures come back as *syncache.Error with their original
// kind.
func (c *Client) roundTrip(ctx context.Context, method, cache string, req any) ([]byte, error) {
	body, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: %s request encode: %w", method, err)
	}
	respFrame, err := c.call.Call(ctx, method, wire.EncodeRequest(cache, body))
	if err != nil {
		return nil, err
	}
	respBody, failKind, failMsg, err := wire.DecodeResponse(respFrame)
	if err != nil {
		return nil, fmt.Errorf("rpc: %s response frame: %w", method, err)
	}
	if failKind != "" {
		return nil, &syncache.Error{Kind: syncache.Kind(failKind), Cache: cache, Msg: failMsg}
	}
	return respBody, nil
}
