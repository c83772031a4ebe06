package api

import (
	"encoding/json"
	"fmt"
)

// CodecName is the gRPC content-subtype of Codec.
const CodecName = "json"

// Codec marshals gRPC messages as JSON. It satisfies
// google.golang.org/grpc/encoding.Codec.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("api: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
