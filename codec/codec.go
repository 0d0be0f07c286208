// Package codec provides the pluggable (de)serialization used for row
// payloads crossing a byte boundary: the read-through row cache and any
// store that persists rows as blobs.
package codec

// Codec encodes/decodes values V to []byte for storage or transit.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
