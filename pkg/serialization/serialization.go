// Package serialization provides the codecs used to encode cache entries
// for the remote tier.
package serialization

import (
	"bytes"
	"fmt"
	"io"
)

const (
	// JSONType selects the JSON codec.
	JSONType = "json"
	// GobType selects the Gob codec.
	GobType = "gob"
)

// Decoder is the interface for deserialization.
type Decoder interface {
	Decode(v any) error
}

// Encoder is the interface for serialization.
type Encoder interface {
	Encode(v any) error
}

// Codec pairs an encoder and a decoder factory over byte slices.
type Codec struct {
	NewEncoder func(io.Writer) Encoder
	NewDecoder func(io.Reader) Decoder
}

// Marshal encodes v into bytes.
func (c Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	return c.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case JSONType:
		return Codec{NewEncoder: JSONEncoder, NewDecoder: JSONDecoder}, nil
	case GobType:
		return Codec{NewEncoder: GobEncoder, NewDecoder: GobDecoder}, nil
	default:
		return Codec{}, fmt.Errorf("unsupported serialization type: %s", name)
	}
}
