package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Kind is the wire representation of a field.
type Kind uint8

const (
	KindUint8 Kind = iota + 1
	KindInt8
	KindBool
	KindUint16
	KindInt16
	KindUint32
	KindInt32
	KindUint64
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindUUID
	KindNested
	KindArray
)

var kindNames = map[Kind]string{
	KindUint8:   "uint8",
	KindInt8:    "int8",
	KindBool:    "bool",
	KindUint16:  "uint16",
	KindInt16:   "int16",
	KindUint32:  "uint32",
	KindInt32:   "int32",
	KindUint64:  "uint64",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
	KindBytes:   "bytes",
	KindUUID:    "uuid",
	KindNested:  "nested",
	KindArray:   "array",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// maxPrefixed is the largest length a one-byte prefix can carry.
const maxPrefixed = math.MaxUint8

// uuidLength is the width of a UUID in its canonical text form.
const uuidLength = 36

// Field is one entry of a schema. Build fields with the constructors below.
type Field struct {
	Name string
	Kind Kind
	// Length is the fixed width of strings and byte arrays, or the fixed element
	// count of arrays. Only meaningful when Fixed is set.
	Length int
	Fixed  bool
	// Prefixed fields carry a one-byte length or count before the value.
	Prefixed bool

	encode func(dst []byte, m any) ([]byte, error)
	decode func(r *Reader, m any) error
}

// Rest reports whether the field consumes the remaining input.
func (f Field) Rest() bool {
	return f.Kind == KindBytes && !f.Fixed && !f.Prefixed
}

// FieldOption adjusts the length rule of a string, byte array or array field.
type FieldOption func(*Field)

// FixedLength declares an exact width (strings, bytes) or element count (arrays).
func FixedLength(n int) FieldOption {
	return func(f *Field) {
		f.Fixed = true
		f.Length = n
		f.Prefixed = false
	}
}

// Prefixed declares a one-byte length prefix.
func Prefixed() FieldOption {
	return func(f *Field) {
		f.Prefixed = true
		f.Fixed = false
		f.Length = 0
	}
}

func newField(name string, kind Kind, prefixed bool, opts []FieldOption) Field {
	f := Field{Name: name, Kind: kind, Prefixed: prefixed}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func target[M any](m any) (*M, error) {
	msg, ok := m.(*M)
	if !ok || msg == nil {
		var zero *M
		return nil, fmt.Errorf("%w: got %T, want %T", ErrUnknownType, m, zero)
	}
	return msg, nil
}

func scalar[M, T any](name string, kind Kind, size int, ref func(*M) *T,
	put func([]byte, T) []byte, get func([]byte) T) Field {
	f := Field{Name: name, Kind: kind, Length: size}
	f.encode = func(dst []byte, m any) ([]byte, error) {
		msg, err := target[M](m)
		if err != nil {
			return dst, err
		}
		return put(dst, *ref(msg)), nil
	}
	f.decode = func(r *Reader, m any) error {
		msg, err := target[M](m)
		if err != nil {
			return err
		}
		b, err := r.Next(size)
		if err != nil {
			return err
		}
		*ref(msg) = get(b)
		return nil
	}
	return f
}

func Uint8[M any](name string, ref func(*M) *uint8) Field {
	return scalar(name, KindUint8, 1, ref,
		func(b []byte, v uint8) []byte { return append(b, v) },
		func(b []byte) uint8 { return b[0] })
}

func Int8[M any](name string, ref func(*M) *int8) Field {
	return scalar(name, KindInt8, 1, ref,
		func(b []byte, v int8) []byte { return append(b, byte(v)) },
		func(b []byte) int8 { return int8(b[0]) })
}

// Bool is one byte; any non-zero value decodes as true.
func Bool[M any](name string, ref func(*M) *bool) Field {
	return scalar(name, KindBool, 1, ref,
		func(b []byte, v bool) []byte {
			if v {
				return append(b, 1)
			}
			return append(b, 0)
		},
		func(b []byte) bool { return b[0] != 0 })
}

func Uint16[M any](name string, ref func(*M) *uint16) Field {
	return scalar(name, KindUint16, 2, ref, binary.LittleEndian.AppendUint16, binary.LittleEndian.Uint16)
}

func Int16[M any](name string, ref func(*M) *int16) Field {
	return scalar(name, KindInt16, 2, ref,
		func(b []byte, v int16) []byte { return binary.LittleEndian.AppendUint16(b, uint16(v)) },
		func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) })
}

func Uint32[M any](name string, ref func(*M) *uint32) Field {
	return scalar(name, KindUint32, 4, ref, binary.LittleEndian.AppendUint32, binary.LittleEndian.Uint32)
}

func Int32[M any](name string, ref func(*M) *int32) Field {
	return scalar(name, KindInt32, 4, ref,
		func(b []byte, v int32) []byte { return binary.LittleEndian.AppendUint32(b, uint32(v)) },
		func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) })
}

func Uint64[M any](name string, ref func(*M) *uint64) Field {
	return scalar(name, KindUint64, 8, ref, binary.LittleEndian.AppendUint64, binary.LittleEndian.Uint64)
}

func Int64[M any](name string, ref func(*M) *int64) Field {
	return scalar(name, KindInt64, 8, ref,
		func(b []byte, v int64) []byte { return binary.LittleEndian.AppendUint64(b, uint64(v)) },
		func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) })
}

func Float32[M any](name string, ref func(*M) *float32) Field {
	return scalar(name, KindFloat32, 4, ref,
		func(b []byte, v float32) []byte { return binary.LittleEndian.AppendUint32(b, math.Float32bits(v)) },
		func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) })
}

func Float64[M any](name string, ref func(*M) *float64) Field {
	return scalar(name, KindFloat64, 8, ref,
		func(b []byte, v float64) []byte { return binary.LittleEndian.AppendUint64(b, math.Float64bits(v)) },
		func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) })
}

// String is ASCII text. With FixedLength(n) it is zero padded or truncated to n bytes
// and decoding trims at the first zero byte; otherwise a one-byte length precedes it.
func String[M any](name string, ref func(*M) *string, opts ...FieldOption) Field {
	f := newField(name, KindString, true, opts)
	fixed, n := f.Fixed, f.Length

	f.encode = func(dst []byte, m any) ([]byte, error) {
		msg, err := target[M](m)
		if err != nil {
			return dst, err
		}
		s := *ref(msg)
		if fixed {
			return appendPadded(dst, s, n), nil
		}
		if len(s) > maxPrefixed {
			return dst, fmt.Errorf("%w: %d bytes behind a one-byte prefix", ErrLengthMismatch, len(s))
		}
		dst = append(dst, byte(len(s)))
		return append(dst, s...), nil
	}
	f.decode = func(r *Reader, m any) error {
		msg, err := target[M](m)
		if err != nil {
			return err
		}
		width := n
		if !fixed {
			l, err := r.Byte()
			if err != nil {
				return err
			}
			width = int(l)
		}
		b, err := r.Next(width)
		if err != nil {
			return err
		}
		*ref(msg) = trimZero(b)
		return nil
	}
	return f
}

func appendPadded(dst []byte, s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}
	dst = append(dst, s...)
	for i := len(s); i < n; i++ {
		dst = append(dst, 0)
	}
	return dst
}

func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Bytes is raw data. By default it consumes the rest of the input and must be the
// last field; Prefixed() adds a one-byte length and FixedLength(n) demands exactly n bytes.
func Bytes[M any](name string, ref func(*M) *[]byte, opts ...FieldOption) Field {
	f := newField(name, KindBytes, false, opts)
	fixed, prefixed, n := f.Fixed, f.Prefixed, f.Length

	f.encode = func(dst []byte, m any) ([]byte, error) {
		msg, err := target[M](m)
		if err != nil {
			return dst, err
		}
		b := *ref(msg)
		switch {
		case fixed && len(b) != n:
			return dst, fmt.Errorf("%w: %d bytes, declared %d", ErrLengthMismatch, len(b), n)
		case prefixed && len(b) > maxPrefixed:
			return dst, fmt.Errorf("%w: %d bytes behind a one-byte prefix", ErrLengthMismatch, len(b))
		case prefixed:
			dst = append(dst, byte(len(b)))
		}
		return append(dst, b...), nil
	}
	f.decode = func(r *Reader, m any) error {
		msg, err := target[M](m)
		if err != nil {
			return err
		}
		var b []byte
		switch {
		case fixed:
			b, err = r.Next(n)
		case prefixed:
			var l byte
			if l, err = r.Byte(); err == nil {
				b, err = r.Next(int(l))
			}
		default:
			b = r.Rest()
		}
		if err != nil {
			return err
		}
		*ref(msg) = cloneBytes(b)
		return nil
	}
	return f
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// UUID is the 36 character text form. Text that does not parse decodes as uuid.Nil.
func UUID[M any](name string, ref func(*M) *uuid.UUID) Field {
	f := Field{Name: name, Kind: KindUUID, Length: uuidLength, Fixed: true}
	f.encode = func(dst []byte, m any) ([]byte, error) {
		msg, err := target[M](m)
		if err != nil {
			return dst, err
		}
		return append(dst, ref(msg).String()...), nil
	}
	f.decode = func(r *Reader, m any) error {
		msg, err := target[M](m)
		if err != nil {
			return err
		}
		b, err := r.Next(uuidLength)
		if err != nil {
			return err
		}
		id, err := uuid.ParseBytes(b)
		if err != nil {
			id = uuid.Nil
		}
		*ref(msg) = id
		return nil
	}
	return f
}

// Nested embeds another message inline, using that message's schema.
func Nested[M, N any, PN interface {
	*N
	Message
}](name string, ref func(*M) *N) Field {
	f := Field{Name: name, Kind: KindNested}
	f.encode = func(dst []byte, m any) ([]byte, error) {
		msg, err := target[M](m)
		if err != nil {
			return dst, err
		}
		inner := PN(ref(msg))
		return inner.Schema().appendTo(dst, inner)
	}
	f.decode = func(r *Reader, m any) error {
		msg, err := target[M](m)
		if err != nil {
			return err
		}
		inner := PN(ref(msg))
		return inner.Schema().decodeFrom(r, inner)
	}
	return f
}

// Array is a sequence of messages. By default a one-byte count precedes the
// elements; with FixedLength(n) the slice must hold exactly n elements.
func Array[M, E any, PE interface {
	*E
	Message
}](name string, ref func(*M) *[]E, opts ...FieldOption) Field {
	f := newField(name, KindArray, true, opts)
	fixed, n := f.Fixed, f.Length

	f.encode = func(dst []byte, m any) ([]byte, error) {
		msg, err := target[M](m)
		if err != nil {
			return dst, err
		}
		elems := *ref(msg)
		if fixed {
			if len(elems) != n {
				return dst, fmt.Errorf("%w: %d elements, declared %d", ErrLengthMismatch, len(elems), n)
			}
		} else {
			if len(elems) > maxPrefixed {
				return dst, fmt.Errorf("%w: %d elements behind a one-byte count", ErrLengthMismatch, len(elems))
			}
			dst = append(dst, byte(len(elems)))
		}
		for i := range elems {
			elem := PE(&elems[i])
			if dst, err = elem.Schema().appendTo(dst, elem); err != nil {
				return dst, fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return dst, nil
	}
	f.decode = func(r *Reader, m any) error {
		msg, err := target[M](m)
		if err != nil {
			return err
		}
		count := n
		if !fixed {
			c, err := r.Byte()
			if err != nil {
				return err
			}
			count = int(c)
		}
		if count == 0 {
			*ref(msg) = nil
			return nil
		}
		elems := make([]E, count)
		for i := range elems {
			elem := PE(&elems[i])
			if err := elem.Schema().decodeFrom(r, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		*ref(msg) = elems
		return nil
	}
	return f
}
