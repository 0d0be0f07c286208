// Package rpc carries the two symmetric procedure sets between cache peers
// over a transport: fetch/create/update/delete from client to host, and the
// applyChanges/removeFromCache pushes from host to client. Payload bodies
// are msgpack inside strict wire frames; endpoint failure kinds cross the
// boundary inside the response envelope.
package rpc

import (
	"github.com/unkn0wn-root/syncache"
)

// Method names of the client -> host procedure set.
const (
	MethodFetchObject  = "fetchObject"
	MethodFetchObjects = "fetchObjects"
	MethodCreateObject = "createObject"
	MethodUpdateObject = "updateObject"
	MethodDeleteObject = "deleteObject"
)

// Method names of the host -> client push set (no response expected).
const (
	MethodApplyChanges    = "applyChanges"
	MethodRemoveFromCache = "removeFromCache"
)

type fetchRequest struct {
	Input any `msgpack:"input"`
}

type objectResponse struct {
	Object syncache.Object `msgpack:"object"`
}

type objectsResponse struct {
	Objects []syncache.Object `msgpack:"objects"`
}

type createRequest struct {
	Values syncache.Object `msgpack:"values"`
}

type createResponse struct {
	ID int64 `msgpack:"id"`
}

type updateRequest struct {
	Values syncache.Object `msgpack:"values"`
}

type deleteRequest struct {
	ID int64 `msgpack:"id"`
}

type changesPush struct {
	Objects []syncache.Object `msgpack:"objects"`
}

type removePush struct {
	ID int64 `msgpack:"id"`
}
