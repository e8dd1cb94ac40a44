package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int16
	Y int16
}

var pointSchema = MustSchema[point]("point",
	Int16("X", func(p *point) *int16 { return &p.X }),
	Int16("Y", func(p *point) *int16 { return &p.Y }),
)

func (*point) Schema() *Schema { return pointSchema }

type everything struct {
	U8      uint8
	I8      int8
	B       bool
	U16     uint16
	I16     int16
	U32     uint32
	I32     int32
	U64     uint64
	I64     int64
	F32     float32
	F64     float64
	Fixed   string
	Short   string
	ID      uuid.UUID
	Key     []byte
	Blob    []byte
	Origin  point
	Path    []point
	Corners []point
	Tail    []byte
}

var everythingSchema = MustSchema[everything]("everything",
	Uint8("U8", func(m *everything) *uint8 { return &m.U8 }),
	Int8("I8", func(m *everything) *int8 { return &m.I8 }),
	Bool("B", func(m *everything) *bool { return &m.B }),
	Uint16("U16", func(m *everything) *uint16 { return &m.U16 }),
	Int16("I16", func(m *everything) *int16 { return &m.I16 }),
	Uint32("U32", func(m *everything) *uint32 { return &m.U32 }),
	Int32("I32", func(m *everything) *int32 { return &m.I32 }),
	Uint64("U64", func(m *everything) *uint64 { return &m.U64 }),
	Int64("I64", func(m *everything) *int64 { return &m.I64 }),
	Float32("F32", func(m *everything) *float32 { return &m.F32 }),
	Float64("F64", func(m *everything) *float64 { return &m.F64 }),
	String("Fixed", func(m *everything) *string { return &m.Fixed }, FixedLength(16)),
	String("Short", func(m *everything) *string { return &m.Short }),
	UUID("ID", func(m *everything) *uuid.UUID { return &m.ID }),
	Bytes("Key", func(m *everything) *[]byte { return &m.Key }, FixedLength(4)),
	Bytes("Blob", func(m *everything) *[]byte { return &m.Blob }, Prefixed()),
	Nested[everything, point]("Origin", func(m *everything) *point { return &m.Origin }),
	Array[everything, point]("Path", func(m *everything) *[]point { return &m.Path }),
	Array[everything, point]("Corners", func(m *everything) *[]point { return &m.Corners }, FixedLength(2)),
	Bytes("Tail", func(m *everything) *[]byte { return &m.Tail }),
)

func (*everything) Schema() *Schema { return everythingSchema }

func sample() *everything {
	return &everything{
		U8:      0xfe,
		I8:      -7,
		B:       true,
		U16:     0xbeef,
		I16:     -1234,
		U32:     0xdeadbeef,
		I32:     -123456,
		U64:     1 << 60,
		I64:     -1 << 50,
		F32:     3.5,
		F64:     -2.25,
		Fixed:   "1.2.3",
		Short:   "jedi",
		ID:      uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Key:     []byte{1, 2, 3, 4},
		Blob:    []byte("blob"),
		Origin:  point{X: 1, Y: -1},
		Path:    []point{{X: 2, Y: 3}, {X: 4, Y: 5}, {X: 6, Y: 7}},
		Corners: []point{{X: -10, Y: -10}, {X: 10, Y: 10}},
		Tail:    []byte{9, 9, 9},
	}
}

func TestRoundTrip(t *testing.T) {
	in := sample()
	b, err := Encode(in)
	require.NoError(t, err)

	out := &everything{}
	require.NoError(t, Decode(b, out))
	assert.Equal(t, in, out)

	decoded, err := everythingSchema.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, decoded)
}

func TestRoundTripEmptyCollections(t *testing.T) {
	in := sample()
	in.Blob = nil
	in.Path = nil
	in.Tail = nil
	in.Short = ""

	b, err := Encode(in)
	require.NoError(t, err)

	out := &everything{}
	require.NoError(t, Decode(b, out))
	assert.Equal(t, in, out)
}

func TestLittleEndianLayout(t *testing.T) {
	b, err := Encode(&point{X: 0x0102, Y: -2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0xfe, 0xff}, b)
}

func TestTruncatedAtEveryOffset(t *testing.T) {
	in := sample()
	in.Tail = nil
	b, err := Encode(in)
	require.NoError(t, err)

	for i := 0; i < len(b); i++ {
		err := Decode(b[:i], &everything{})
		require.ErrorIs(t, err, ErrTruncated, "offset %d", i)
	}
	assert.NoError(t, Decode(b, &everything{}))
}

func TestTrailingBytesIgnored(t *testing.T) {
	b, err := Encode(&point{X: 5, Y: 6})
	require.NoError(t, err)

	out := &point{}
	require.NoError(t, Decode(append(b, 0xaa, 0xbb), out))
	assert.Equal(t, point{X: 5, Y: 6}, *out)
}

type version struct {
	Version string
}

var versionSchema = MustSchema[version]("version",
	String("Version", func(m *version) *string { return &m.Version }, FixedLength(64)),
)

func (*version) Schema() *Schema { return versionSchema }

func TestFixedStringPaddingAndTrimming(t *testing.T) {
	b, err := Encode(&version{Version: "1.2.3"})
	require.NoError(t, err)
	require.Len(t, b, 64)
	assert.Equal(t, []byte("1.2.3"), b[:5])
	assert.Equal(t, make([]byte, 59), b[5:])

	out := &version{}
	require.NoError(t, Decode(b, out))
	assert.Equal(t, "1.2.3", out.Version)

	long := strings.Repeat("v", 70)
	b, err = Encode(&version{Version: long})
	require.NoError(t, err)
	require.Len(t, b, 64)
	require.NoError(t, Decode(b, out))
	assert.Equal(t, long[:64], out.Version)

	padded := append([]byte("ab\x00cd"), make([]byte, 59)...)
	require.NoError(t, Decode(padded, out))
	assert.Equal(t, "ab", out.Version)
}

func TestLengthMismatch(t *testing.T) {
	cases := map[string]func(m *everything){
		"fixed bytes":   func(m *everything) { m.Key = []byte{1, 2, 3} },
		"fixed array":   func(m *everything) { m.Corners = m.Corners[:1] },
		"long string":   func(m *everything) { m.Short = strings.Repeat("s", 256) },
		"long blob":     func(m *everything) { m.Blob = bytes.Repeat([]byte{1}, 256) },
		"long array":    func(m *everything) { m.Path = make([]point, 256) },
		"missing array": func(m *everything) { m.Corners = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := sample()
			mutate(m)

			dst := []byte{0xaa}
			out, err := everythingSchema.Append(dst, m)
			require.ErrorIs(t, err, ErrLengthMismatch)
			assert.Equal(t, []byte{0xaa}, out, "a failed append leaves dst untouched")
		})
	}
}

func TestPrefixedAt255(t *testing.T) {
	m := sample()
	m.Short = strings.Repeat("s", 255)
	m.Blob = bytes.Repeat([]byte{7}, 255)

	b, err := Encode(m)
	require.NoError(t, err)

	out := &everything{}
	require.NoError(t, Decode(b, out))
	assert.Equal(t, m, out)
}

func TestBoolAcceptsAnyNonZero(t *testing.T) {
	m := sample()
	b, err := Encode(m)
	require.NoError(t, err)
	b[2] = 0x7f

	out := &everything{}
	require.NoError(t, Decode(b, out))
	assert.True(t, out.B)
}

func TestMalformedUUIDDecodesAsNil(t *testing.T) {
	m := sample()
	b, err := Encode(m)
	require.NoError(t, err)

	// scalars, then Fixed, then the prefixed Short
	offset := 43 + 16 + 1 + len(m.Short)
	require.Equal(t, m.ID.String(), string(b[offset:offset+36]))
	copy(b[offset:], strings.Repeat("z", 36))

	out := &everything{}
	require.NoError(t, Decode(b, out))
	assert.Equal(t, uuid.Nil, out.ID)
}

type holder struct {
	Data []byte
	N    uint8
}

func (*holder) Schema() *Schema { return nil }

type plain struct{}

func TestSchemaValidation(t *testing.T) {
	data := func(m *holder) *[]byte { return &m.Data }
	n := func(m *holder) *uint8 { return &m.N }

	_, err := NewSchema[holder]("rest-not-last", Bytes("Data", data), Uint8("N", n))
	assert.ErrorContains(t, err, "not last")

	_, err = NewSchema[holder]("rest-last", Uint8("N", n), Bytes("Data", data))
	assert.NoError(t, err)

	_, err = NewSchema[holder]("dup", Uint8("N", n), Uint8("N", n))
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewSchema[holder]("negative", Bytes("Data", data, FixedLength(-1)))
	assert.ErrorContains(t, err, "negative")

	_, err = NewSchema[holder]("raw", Field{Name: "raw", Kind: KindUint8})
	assert.ErrorContains(t, err, "field constructor")

	_, err = NewSchema[holder]("", Uint8("N", n))
	assert.Error(t, err)

	_, err = NewSchema[plain]("plain")
	assert.ErrorContains(t, err, "does not implement Message")

	assert.Panics(t, func() { MustSchema[holder]("dup", Uint8("N", n), Uint8("N", n)) })
}

func TestMissingSchemaIsUnknownType(t *testing.T) {
	_, err := Encode(&holder{})
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.ErrorIs(t, Decode([]byte{1}, &holder{}), ErrUnknownType)
}

func TestWrongMessageForSchema(t *testing.T) {
	_, err := pointSchema.Encode(&version{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSchemaAccessors(t *testing.T) {
	assert.Equal(t, "everything", everythingSchema.Name())
	fields := everythingSchema.Fields()
	require.Len(t, fields, 20)
	assert.Equal(t, KindString, fields[11].Kind)
	assert.True(t, fields[11].Fixed)
	assert.Equal(t, 16, fields[11].Length)
	assert.True(t, fields[12].Prefixed)
	assert.True(t, fields[19].Rest())
	assert.Equal(t, "array", KindArray.String())
	assert.IsType(t, &everything{}, everythingSchema.New())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(pointSchema))
	require.NoError(t, r.Register(pointSchema))
	require.NoError(t, r.Register(versionSchema))

	other := MustSchema[point]("point", Int16("X", func(p *point) *int16 { return &p.X }))
	assert.Error(t, r.Register(other))

	m, err := r.Decode("point", []byte{1, 0, 2, 0})
	require.NoError(t, err)
	assert.Equal(t, &point{X: 1, Y: 2}, m)

	_, err = r.Decode("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = r.Decode("point", []byte{1})
	assert.ErrorIs(t, err, ErrTruncated)

	assert.Equal(t, []string{"point", "version"}, r.Names())
}

type countingCodec struct {
	DefaultCodec
	calls int
}

func (c *countingCodec) Append(dst []byte, m Message) ([]byte, error) {
	c.calls++
	return c.DefaultCodec.Append(dst, m)
}

func TestSetCodec(t *testing.T) {
	c := &countingCodec{}
	SetCodec(c)
	defer SetCodec(DefaultCodec{})

	_, err := Encode(&point{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.calls)

	SetCodec(nil)
	_, err = Encode(&point{})
	assert.ErrorIs(t, err, errCodecNotInit)
}

func FuzzDecodeNeverPanics(f *testing.F) {
	b, _ := Encode(sample())
	f.Add(b)
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		_ = Decode(data, &everything{})
	})
}
