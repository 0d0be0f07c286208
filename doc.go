// Package syncache implements a dual-sided object cache that mediates
// structured-data exchange between a server-held store and a connected client
// over an asynchronous RPC channel. The channel offers no coherence of its
// own; syncache builds coherence semantics on top of it.
//
// Each named cache exists as a pair of endpoints:
//   - HostCache: authoritative; compiles untrusted query input, gates writes
//     by role, resolves through the object store and broadcasts deltas.
//   - ClientCache: a local materialized view (list + id map + secondary
//     indices) that merges host responses and pushed deltas, and applies
//     mutations optimistically with compensating rollback on rejection.
//
// Components:
//   - Registry: turns declarative Descriptors into live endpoints, one
//     registry per side per process.
//   - ObjectStore: the authoritative row store behind the host (store.Mem,
//     store/redis, or any Find/FindAll/Create/Update/Destroy backend).
//     store.Cached adds a generation-validated read-through byte cache in
//     front of it.
//   - rpc + transport: the two symmetric procedure sets between the peers
//     (fetch/create/update/delete client->host; applyChanges/removeFromCache
//     host->client, fire-and-forget).
//
// Consistency model: last-writer-wins shallow merge at the property level.
// Objects already known to a client keep stable identity across merges; a
// held reference observes updates in place. Consumers must mutate cached
// objects only through UpdateObject.
package syncache
