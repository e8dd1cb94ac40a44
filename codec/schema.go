package codec

import (
	"errors"
	"fmt"
	"slices"
)

// Schema is the ordered field layout of one message type.
type Schema struct {
	name   string
	newFn  func() Message
	fields []Field
}

// NewSchema validates the layout of M. *M must implement Message.
func NewSchema[M any](name string, fields ...Field) (*Schema, error) {
	if name == "" {
		return nil, errors.New("codec: schema name is empty")
	}
	if _, ok := any(new(M)).(Message); !ok {
		var zero *M
		return nil, fmt.Errorf("codec: schema %s: %T does not implement Message", name, zero)
	}

	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("codec: schema %s: field %d has no name", name, i)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("codec: schema %s: duplicate field %s", name, f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.encode == nil || f.decode == nil {
			return nil, fmt.Errorf("codec: schema %s: field %s was not built with a field constructor", name, f.Name)
		}
		if f.Length < 0 {
			return nil, fmt.Errorf("codec: schema %s: field %s has negative length %d", name, f.Name, f.Length)
		}
		if f.Prefixed && f.Fixed {
			return nil, fmt.Errorf("codec: schema %s: field %s is both prefixed and fixed", name, f.Name)
		}
		if f.Rest() && i != len(fields)-1 {
			return nil, fmt.Errorf("codec: schema %s: field %s consumes the rest of the input but is not last", name, f.Name)
		}
	}

	return &Schema{
		name:   name,
		newFn:  func() Message { return any(new(M)).(Message) },
		fields: slices.Clone(fields),
	}, nil
}

// MustSchema is NewSchema for package level declarations; it panics on an invalid layout.
func MustSchema[M any](name string, fields ...Field) *Schema {
	s, err := NewSchema[M](name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string {
	return s.name
}

// Fields returns a copy of the layout.
func (s *Schema) Fields() []Field {
	return slices.Clone(s.fields)
}

// New returns a zero message of the schema's type.
func (s *Schema) New() Message {
	return s.newFn()
}

// Append appends m to dst. On error dst is returned unchanged.
func (s *Schema) Append(dst []byte, m Message) ([]byte, error) {
	return s.appendTo(dst, m)
}

// Encode returns the wire bytes of m.
func (s *Schema) Encode(m Message) ([]byte, error) {
	return s.appendTo(nil, m)
}

// Decode returns a new message filled from b.
func (s *Schema) Decode(b []byte) (Message, error) {
	m := s.New()
	if err := s.DecodeInto(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeInto fills m from b. Trailing bytes are ignored.
func (s *Schema) DecodeInto(b []byte, m Message) error {
	return s.decodeFrom(NewReader(b), m)
}

func (s *Schema) appendTo(dst []byte, m any) ([]byte, error) {
	start := len(dst)
	for _, f := range s.fields {
		var err error
		if dst, err = f.encode(dst, m); err != nil {
			return dst[:start], fmt.Errorf("%s.%s: %w", s.name, f.Name, err)
		}
	}
	return dst, nil
}

func (s *Schema) decodeFrom(r *Reader, m any) error {
	for _, f := range s.fields {
		if err := f.decode(r, m); err != nil {
			return fmt.Errorf("%s.%s: %w", s.name, f.Name, err)
		}
	}
	return nil
}
