// Package codec maps messages to and from the binary wire layout.
//
// Every message type declares a static Schema: an ordered list of fields built
// with the typed constructors in this package. Primitives are little-endian.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when no schema is known for the requested type.
	ErrUnknownType = errors.New("codec: unknown message type")
	// ErrTruncated is returned when the input ends before the schema does.
	ErrTruncated = errors.New("codec: truncated input")
	// ErrLengthMismatch is returned when a value does not fit its declared length.
	ErrLengthMismatch = errors.New("codec: length mismatch")

	errCodecNotInit = errors.New("codec: not initialised")

	_codec Codec = DefaultCodec{}
)

// Message is implemented by every type that can travel on the wire.
type Message interface {
	Schema() *Schema
}

// Codec encodes and decodes messages.
type Codec interface {
	Append(dst []byte, m Message) ([]byte, error)
	Decode(b []byte, m Message) error
}

// DefaultCodec follows each message's own schema.
type DefaultCodec struct{}

func (DefaultCodec) Append(dst []byte, m Message) ([]byte, error) {
	s := m.Schema()
	if s == nil {
		return dst, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return s.Append(dst, m)
}

func (DefaultCodec) Decode(b []byte, m Message) error {
	s := m.Schema()
	if s == nil {
		return fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return s.DecodeInto(b, m)
}

// Encode returns the wire bytes of m.
func Encode(m Message) ([]byte, error) {
	return Append(nil, m)
}

// Append appends the wire bytes of m to dst.
func Append(dst []byte, m Message) ([]byte, error) {
	if _codec == nil {
		return dst, errCodecNotInit
	}
	return _codec.Append(dst, m)
}

// Decode fills m from b. Bytes after the last field are ignored.
func Decode(b []byte, m Message) error {
	if _codec == nil {
		return errCodecNotInit
	}
	return _codec.Decode(b, m)
}

// SetCodec replaces the package level codec.
func SetCodec(c Codec) {
	_codec = c
}
