package codec

import (
	json "github.com/goccy/go-json"
)

// JSONCodec serializes with goccy/go-json, an API-compatible drop-in for
// encoding/json that avoids most of its reflection cost on the hot path.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
