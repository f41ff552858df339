package columnar

import (
	"math"

	"crdtdoc/internal/varint"
)

// Tag identifies the logical type stored in a valLen/valRaw pair
// (spec §4.2).
type Tag uint8

const (
	TagNull      Tag = 0
	TagFalse     Tag = 1
	TagTrue      Tag = 2
	TagUint      Tag = 3
	TagInt       Tag = 4
	TagFloat     Tag = 5
	TagString    Tag = 6
	TagBytes     Tag = 7
	TagCounter   Tag = 8
	TagTimestamp Tag = 9
	// TagReservedMin..TagReservedMax (10-15) are forward-compatible
	// datatypes: implementations round-trip their raw bytes unchanged.
	TagReservedMin Tag = 10
	TagReservedMax Tag = 15
)

// IsReserved reports whether t is one of the forward-compatible
// reserved datatype tags.
func (t Tag) IsReserved() bool { return t >= TagReservedMin && t <= TagReservedMax }

// Value is a single logical op value: one of the types enumerated in
// spec §3/§4.2. Exactly one payload field is meaningful, selected by
// Tag; reserved tags carry their untouched wire bytes in Raw.
type Value struct {
	Tag       Tag
	Uint      uint64
	Int       int64
	Float     float64
	FloatIs32 bool
	Str       string
	Bytes     []byte
	Raw       []byte
}

func NullValue() Value      { return Value{Tag: TagNull} }
func BoolValue(b bool) Value {
	if b {
		return Value{Tag: TagTrue}
	}
	return Value{Tag: TagFalse}
}
func UintValue(v uint64) Value          { return Value{Tag: TagUint, Uint: v} }
func IntValue(v int64) Value            { return Value{Tag: TagInt, Int: v} }
func StringValue(s string) Value        { return Value{Tag: TagString, Str: s} }
func BytesValue(b []byte) Value         { return Value{Tag: TagBytes, Bytes: b} }
func CounterValue(v int64) Value        { return Value{Tag: TagCounter, Int: v} }
func TimestampValue(v int64) Value      { return Value{Tag: TagTimestamp, Int: v} }
func ReservedValue(t Tag, raw []byte) Value {
	return Value{Tag: t, Raw: raw}
}

// FloatValue picks the narrowest IEEE-754 width that loses no
// precision, per spec §4.2's integer-choice rule applied to floats.
func FloatValue(f float64) Value {
	f32 := float32(f)
	if float64(f32) == f {
		return Value{Tag: TagFloat, Float: f, FloatIs32: true}
	}
	return Value{Tag: TagFloat, Float: f}
}

// Number implements the full integer-choice rule (spec §4.2): a number
// that fits the signed 53-bit range encodes as a signed/unsigned
// varint; otherwise it falls back to the narrowest lossless IEEE-754
// width.
func Number(f float64) Value {
	const limit = 1 << 53
	if f == math.Trunc(f) && f >= -limit && f <= limit {
		i := int64(f)
		if i >= 0 {
			return UintValue(uint64(i))
		}
		return IntValue(i)
	}
	return FloatValue(f)
}

// IsEqual compares two values for equality, including reserved-tag raw
// bytes.
func (v Value) IsEqual(o Value) bool {
	if v.Tag != o.Tag {
		return false
	}
	switch v.Tag {
	case TagNull, TagFalse, TagTrue:
		return true
	case TagUint:
		return v.Uint == o.Uint
	case TagInt, TagCounter, TagTimestamp:
		return v.Int == o.Int
	case TagFloat:
		return v.Float == o.Float && v.FloatIs32 == o.FloatIs32
	case TagString:
		return v.Str == o.Str
	case TagBytes:
		return string(v.Bytes) == string(o.Bytes)
	default:
		return string(v.Raw) == string(o.Raw)
	}
}

func marshalPayload(v Value) []byte {
	switch v.Tag {
	case TagNull, TagFalse, TagTrue:
		return nil
	case TagUint:
		buf := make([]byte, varint.UvarintLen(v.Uint))
		varint.PutUvarint(buf, v.Uint)
		return buf
	case TagInt, TagCounter, TagTimestamp:
		buf := make([]byte, varint.SvarintLen(v.Int))
		varint.PutSvarint(buf, v.Int)
		return buf
	case TagFloat:
		if v.FloatIs32 {
			buf := make([]byte, 4)
			putLE32(buf, math.Float32bits(float32(v.Float)))
			return buf
		}
		buf := make([]byte, 8)
		putLE64(buf, math.Float64bits(v.Float))
		return buf
	case TagString:
		return []byte(v.Str)
	case TagBytes:
		return v.Bytes
	default:
		return v.Raw
	}
}

// unmarshalPayload reconstructs a Value from a tag and its raw bytes.
func unmarshalPayload(tag Tag, raw []byte) (Value, error) {
	switch tag {
	case TagNull:
		return NullValue(), nil
	case TagFalse:
		return BoolValue(false), nil
	case TagTrue:
		return BoolValue(true), nil
	case TagUint:
		u, n, err := varint.Uvarint(raw)
		if err != nil || n != len(raw) {
			return Value{}, ErrMalformed
		}
		return UintValue(u), nil
	case TagInt:
		i, n, err := varint.Svarint(raw)
		if err != nil || n != len(raw) {
			return Value{}, ErrMalformed
		}
		return IntValue(i), nil
	case TagCounter:
		i, n, err := varint.Svarint(raw)
		if err != nil || n != len(raw) {
			return Value{}, ErrMalformed
		}
		return CounterValue(i), nil
	case TagTimestamp:
		i, n, err := varint.Svarint(raw)
		if err != nil || n != len(raw) {
			return Value{}, ErrMalformed
		}
		return TimestampValue(i), nil
	case TagFloat:
		switch len(raw) {
		case 4:
			return Value{Tag: TagFloat, Float: float64(math.Float32frombits(getLE32(raw))), FloatIs32: true}, nil
		case 8:
			return Value{Tag: TagFloat, Float: math.Float64frombits(getLE64(raw))}, nil
		default:
			return Value{}, ErrMalformed
		}
	case TagString:
		return StringValue(string(raw)), nil
	case TagBytes:
		return BytesValue(append([]byte(nil), raw...)), nil
	default:
		if !tag.IsReserved() {
			return Value{}, ErrMalformed
		}
		return ReservedValue(tag, append([]byte(nil), raw...)), nil
	}
}

func putLE32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func getLE32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func putLE64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getLE64(buf []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

// ValueEncoder writes the valLen/valRaw column pair (spec §4.2): each
// logical value occupies one valLen entry carrying
// (byteLength<<4)|typeTag, and byteLength bytes in valRaw.
type ValueEncoder struct {
	lenCol *UintEncoder
	rawCol *RawEncoder
}

// NewValueEncoder creates an empty valLen/valRaw encoder pair.
func NewValueEncoder() *ValueEncoder {
	return &ValueEncoder{lenCol: NewUintEncoder(), rawCol: NewRawEncoder()}
}

// AppendValue appends a non-null value.
func (e *ValueEncoder) AppendValue(v Value) {
	payload := marshalPayload(v)
	e.lenCol.AppendValue((uint64(len(payload)) << 4) | uint64(v.Tag))
	e.rawCol.Append(payload)
}

// AppendNull appends a null entry (no valRaw bytes are consumed).
func (e *ValueEncoder) AppendNull() { e.lenCol.AppendNull() }

// OnlyNulls reports whether every appended entry was null.
func (e *ValueEncoder) OnlyNulls() bool { return e.lenCol.OnlyNulls() }

// LenBytes returns the encoded valLen column.
func (e *ValueEncoder) LenBytes() []byte { return e.lenCol.Bytes() }

// RawBytes returns the encoded valRaw column.
func (e *ValueEncoder) RawBytes() []byte { return e.rawCol.Bytes() }

// ValueDecoder decodes the valLen/valRaw column pair.
type ValueDecoder struct {
	lenCol *UintDecoder
	rawCol *RawDecoder
}

// NewValueDecoder creates a decoder bound to the given valLen/valRaw
// column bytes.
func NewValueDecoder(lenBytes, rawBytes []byte) *ValueDecoder {
	return &ValueDecoder{lenCol: NewUintDecoder(lenBytes), rawCol: NewRawDecoder(rawBytes)}
}

// Reset rebinds the decoder to new column bytes.
func (d *ValueDecoder) Reset(lenBytes, rawBytes []byte) {
	d.lenCol.Reset(lenBytes)
	d.rawCol.Reset(rawBytes)
}

// Done reports whether the valLen column is exhausted.
func (d *ValueDecoder) Done() bool { return d.lenCol.Done() }

// ReadValue returns the next value and whether it is null.
func (d *ValueDecoder) ReadValue() (Value, bool, error) {
	lenTag, isNull, err := d.lenCol.ReadValue()
	if err != nil {
		return Value{}, false, err
	}
	if isNull {
		return Value{}, true, nil
	}
	tag := Tag(lenTag & 0xF)
	byteLen := lenTag >> 4
	raw, err := d.rawCol.Read(int(byteLen))
	if err != nil {
		return Value{}, false, err
	}
	v, err := unmarshalPayload(tag, raw)
	if err != nil {
		return Value{}, false, err
	}
	return v, false, nil
}

// Skip discards the next n values from both columns.
func (d *ValueDecoder) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, _, err := d.ReadValue(); err != nil {
			return err
		}
	}
	return nil
}
