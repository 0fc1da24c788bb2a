// Package codec implements the payload serializations supported by the client.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vk-rv/crashlog/internal/crashlog"
)

// JSON encodes payloads as JSON.
type JSON struct{}

var _ crashlog.Codec = JSON{}

// ContentType implements crashlog.Codec.
func (JSON) ContentType() string { return "application/json" }

// Marshal implements crashlog.Codec.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements crashlog.Codec.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBOR encodes payloads as CBOR (RFC 8949). Struct fields use their json tags.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ crashlog.Codec = (*CBOR)(nil)

// NewCBOR returns a CBOR codec that writes timestamps as RFC 3339 strings and
// decodes maps with string keys.
func NewCBOR() (*CBOR, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: cbor encode mode: %w", err)
	}
	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("codec: cbor decode mode: %w", err)
	}
	return &CBOR{enc: enc, dec: dec}, nil
}

// ContentType implements crashlog.Codec.
func (c *CBOR) ContentType() string { return "application/cbor" }

// Marshal implements crashlog.Codec.
func (c *CBOR) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

// Unmarshal implements crashlog.Codec.
func (c *CBOR) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// ForEncoding returns the codec configured by name. Unknown names fall back to JSON.
func ForEncoding(name string) (crashlog.Codec, error) {
	switch name {
	case crashlog.EncodingCBOR:
		c, err := NewCBOR()
		if err != nil {
			return JSON{}, err
		}
		return c, nil
	case crashlog.EncodingJSON, "":
		return JSON{}, nil
	default:
		return JSON{}, fmt.Errorf("codec: unknown encoding %q", name)
	}
}
