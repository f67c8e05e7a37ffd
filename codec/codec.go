// Package codec is the serialization seam between the message envelope and the
// transport. The wire format is fixed to one UTF-8 JSON object per transport
// message, but endpoints talk to the Codec interface so the encoder can be
// swapped without touching dispatch logic.
package codec

// Codec serializes values to and from wire bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Default is the codec endpoints use unless configured otherwise.
var Default Codec = JSONCodec{}
