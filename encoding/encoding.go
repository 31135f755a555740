// Package encoding isolates the serialization format used to persist cached structs (query
// cache entries, cursor state, replica conflict negotiation records) so the format can be
// swapped without touching cache client code.
package encoding

import "encoding/json"

// Marshaler converts Go values to and from a wire representation.
type Marshaler interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonMarshaler struct{}

func (jsonMarshaler) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonMarshaler) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// DefaultMarshaler is the JSON-based Marshaler used throughout the package unless a caller
// substitutes its own.
var DefaultMarshaler Marshaler = jsonMarshaler{}
