package phvl

import (
	"bytes"
	"math"
)

// ValueKind discriminates the tagged value union of spec §3. Its numeric
// values double as the 4-bit value-type index carried in an entry's flag
// byte (spec §4.4), so they must not be renumbered.
type ValueKind uint8

const (
	KindU8 ValueKind = 0
	KindU16 ValueKind = 1
	KindU32 ValueKind = 2
	KindU64 ValueKind = 3
	KindF32 ValueKind = 4
	KindF64 ValueKind = 5
	KindString ValueKind = 6
	KindBytes ValueKind = 7
)

func (k ValueKind) valid() bool {
	return k <= KindBytes
}

// Value is a discriminated union over the eight scalar/blob kinds the
// engine stores. Exactly one field is meaningful for a given Kind; the
// zero Value is not a valid tagged value (construct with one of the
// NewXxx helpers).
type Value struct {
	Kind ValueKind
	num  uint64 // raw bits for U8/U16/U32/U64/F32/F64
	str  string
	bin  []byte
}

func NewU8(v uint8) Value   { return Value{Kind: KindU8, num: uint64(v)} }
func NewU16(v uint16) Value { return Value{Kind: KindU16, num: uint64(v)} }
func NewU32(v uint32) Value { return Value{Kind: KindU32, num: uint64(v)} }
func NewU64(v uint64) Value { return Value{Kind: KindU64, num: v} }
func NewF32(v float32) Value {
	return Value{Kind: KindF32, num: uint64(math.Float32bits(v))}
}
func NewF64(v float64) Value {
	return Value{Kind: KindF64, num: math.Float64bits(v)}
}
func NewString(v string) Value { return Value{Kind: KindString, str: v} }
func NewBytes(v []byte) Value {
	out := make([]byte, len(v))
	copy(out, v)
	return Value{Kind: KindBytes, bin: out}
}

func (v Value) U8() uint8     { return uint8(v.num) }
func (v Value) U16() uint16   { return uint16(v.num) }
func (v Value) U32() uint32   { return uint32(v.num) }
func (v Value) U64() uint64   { return v.num }
func (v Value) F32() float32  { return math.Float32frombits(uint32(v.num)) }
func (v Value) F64() float64  { return math.Float64frombits(v.num) }
func (v Value) String() string { return v.str }
func (v Value) Bytes() []byte  { return v.bin }

// payloadLen returns the length in bytes of the value's on-disk payload
// before any inline/external placement decision is applied: fixed size for
// scalars, actual length for String/Bytes.
func (v Value) payloadLen() int {
	switch v.Kind {
	case KindU8:
		return 1
	case KindU16:
		return 2
	case KindU32, KindF32:
		return 4
	case KindU64, KindF64:
		return 8
	case KindString:
		return len(v.str)
	case KindBytes:
		return len(v.bin)
	default:
		return 0
	}
}

// Equal reports whether v and other have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.str == other.str
	case KindBytes:
		return bytes.Equal(v.bin, other.bin)
	default:
		return v.num == other.num
	}
}
