// Package register implements the typed register store from spec.md §4.3:
// a name -> typed-value map with coercion rules on write, persisted through
// pkg/kv, and enumerable by stable index once configuration is frozen.
package register

import (
	"encoding/binary"
	"math"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// Kind tags the sum-type carried by Value, per spec.md §4.3's "tagged
// variant over: empty, bit-vector, integer N-bit (signed/unsigned), real
// N-bit, byte string, unstructured bytes".
type Kind uint8

const (
	KindEmpty Kind = iota
	KindBit
	KindInt
	KindReal
	KindString
	KindUnstructured
)

// Value is the register store's tagged-union value type. Only the fields
// relevant to Kind are meaningful; the rest are left zero. This stands in
// for the DSDL "uavcan.register.Value.1.0" union that the real wire
// protocol uses (pkg/dsdl is the rest of that external collaborator's
// surface — see SPEC_FULL.md §D.4).
type Value struct {
	Kind Kind

	Bits []bool // KindBit

	IntSigned bool    // KindInt
	IntWidth  int     // KindInt: 8, 16, 32, or 64
	Ints      []int64 // KindInt

	RealWidth int       // KindReal: 16, 32, or 64
	Reals     []float64 // KindReal

	Str string // KindString

	Bytes []byte // KindUnstructured
}

// variant identifies the exact sub-type within KindInt/KindReal, used by
// Assign to decide whether two values are "the same numeric variant".
type variant struct {
	kind   Kind
	signed bool
	width  int
}

func (v Value) variant() variant {
	switch v.Kind {
	case KindInt:
		return variant{v.Kind, v.IntSigned, v.IntWidth}
	case KindReal:
		return variant{v.Kind, false, v.RealWidth}
	default:
		return variant{v.Kind, false, 0}
	}
}

func clone(v Value) Value {
	out := v
	if v.Bits != nil {
		out.Bits = append([]bool(nil), v.Bits...)
	}
	if v.Ints != nil {
		out.Ints = append([]int64(nil), v.Ints...)
	}
	if v.Reals != nil {
		out.Reals = append([]float64(nil), v.Reals...)
	}
	if v.Bytes != nil {
		out.Bytes = append([]byte(nil), v.Bytes...)
	}
	return out
}

// Assign implements the coercion table in spec.md §4.3 exactly:
//
//   - empty destination: replaced unconditionally;
//   - string<->string and unstructured<->unstructured: replaced;
//   - bit<->bit: element-wise copy of the overlapping prefix;
//   - same numeric variant: element-wise copy of the overlapping prefix
//     (no narrowing/widening across variants);
//   - any other combination: fail with Semantics, destination unchanged.
func Assign(dst *Value, src Value) error {
	if dst.Kind == KindEmpty {
		*dst = clone(src)
		return nil
	}

	switch {
	case dst.Kind == KindString && src.Kind == KindString:
		dst.Str = src.Str
		return nil

	case dst.Kind == KindUnstructured && src.Kind == KindUnstructured:
		dst.Bytes = append([]byte(nil), src.Bytes...)
		return nil

	case dst.Kind == KindBit && src.Kind == KindBit:
		n := min(len(dst.Bits), len(src.Bits))
		copy(dst.Bits[:n], src.Bits[:n])
		return nil

	case dst.variant() == src.variant() && dst.Kind == KindInt:
		n := min(len(dst.Ints), len(src.Ints))
		copy(dst.Ints[:n], src.Ints[:n])
		return nil

	case dst.variant() == src.variant() && dst.Kind == KindReal:
		n := min(len(dst.Reals), len(src.Reals))
		copy(dst.Reals[:n], src.Reals[:n])
		return nil

	default:
		return cyerr.New("register.Assign", cyerr.KindSemantics, "mismatched value variant")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Constructors for the common single-element cases used throughout the
// standard service handlers and the reference actuator payload.

func Empty() Value { return Value{Kind: KindEmpty} }

func Natural16(v ...uint16) Value {
	ints := make([]int64, len(v))
	for i, x := range v {
		ints[i] = int64(x)
	}
	return Value{Kind: KindInt, IntSigned: false, IntWidth: 16, Ints: ints}
}

func Natural8(v ...uint8) Value {
	ints := make([]int64, len(v))
	for i, x := range v {
		ints[i] = int64(x)
	}
	return Value{Kind: KindInt, IntSigned: false, IntWidth: 8, Ints: ints}
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Unstructured(b []byte) Value {
	return Value{Kind: KindUnstructured, Bytes: append([]byte(nil), b...)}
}

func Real32(v ...float32) Value {
	reals := make([]float64, len(v))
	for i, x := range v {
		reals[i] = float64(x)
	}
	return Value{Kind: KindReal, RealWidth: 32, Reals: reals}
}

// MarshalBinary encodes v in this node's internal register-persistence
// format, standing in for the DSDL-serialized form spec.md §6 describes
// ("the stored bytes are the DSDL-serialized form of the typed value").
func (v Value) MarshalBinary() ([]byte, error) {
	buf := []byte{byte(v.Kind)}
	switch v.Kind {
	case KindEmpty:
		// no payload

	case KindBit:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Bits)))
		packed := make([]byte, (len(v.Bits)+7)/8)
		for i, b := range v.Bits {
			if b {
				packed[i/8] |= 1 << uint(i%8)
			}
		}
		buf = append(buf, packed...)

	case KindInt:
		signed := byte(0)
		if v.IntSigned {
			signed = 1
		}
		buf = append(buf, signed, byte(v.IntWidth))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Ints)))
		for _, n := range v.Ints {
			buf = binary.BigEndian.AppendUint64(buf, uint64(n))
		}

	case KindReal:
		buf = append(buf, byte(v.RealWidth))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Reals)))
		for _, f := range v.Reals {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
		}

	case KindString:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)

	case KindUnstructured:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Bytes)))
		buf = append(buf, v.Bytes...)
	}
	return buf, nil
}

// UnmarshalBinary decodes the format written by MarshalBinary. On any
// structural error it returns a *cyerr.Error of kind Argument; callers that
// hit this while loading a persistent register must fall back to the
// register's default, per spec.md §4.3 ("deserialize failures fall back to
// the default").
func (v *Value) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return cyerr.New("register.Value.UnmarshalBinary", cyerr.KindArgument, "empty buffer")
	}
	kind := Kind(data[0])
	rest := data[1:]

	switch kind {
	case KindEmpty:
		*v = Value{Kind: KindEmpty}

	case KindBit:
		if len(rest) < 4 {
			return shortBuffer()
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		bits := make([]bool, n)
		for i := range bits {
			if i/8 >= len(rest) {
				return shortBuffer()
			}
			bits[i] = rest[i/8]&(1<<uint(i%8)) != 0
		}
		*v = Value{Kind: KindBit, Bits: bits}

	case KindInt:
		if len(rest) < 6 {
			return shortBuffer()
		}
		signed := rest[0] != 0
		width := int(rest[1])
		n := binary.BigEndian.Uint32(rest[2:6])
		rest = rest[6:]
		ints := make([]int64, n)
		for i := range ints {
			if len(rest) < 8 {
				return shortBuffer()
			}
			ints[i] = int64(binary.BigEndian.Uint64(rest[:8]))
			rest = rest[8:]
		}
		*v = Value{Kind: KindInt, IntSigned: signed, IntWidth: width, Ints: ints}

	case KindReal:
		if len(rest) < 5 {
			return shortBuffer()
		}
		width := int(rest[0])
		n := binary.BigEndian.Uint32(rest[1:5])
		rest = rest[5:]
		reals := make([]float64, n)
		for i := range reals {
			if len(rest) < 8 {
				return shortBuffer()
			}
			reals[i] = math.Float64frombits(binary.BigEndian.Uint64(rest[:8]))
			rest = rest[8:]
		}
		*v = Value{Kind: KindReal, RealWidth: width, Reals: reals}

	case KindString:
		if len(rest) < 4 {
			return shortBuffer()
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return shortBuffer()
		}
		*v = Value{Kind: KindString, Str: string(rest[:n])}

	case KindUnstructured:
		if len(rest) < 4 {
			return shortBuffer()
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return shortBuffer()
		}
		*v = Value{Kind: KindUnstructured, Bytes: append([]byte(nil), rest[:n]...)}

	default:
		return cyerr.New("register.Value.UnmarshalBinary", cyerr.KindArgument, "unknown kind tag")
	}
	return nil
}

func shortBuffer() error {
	return cyerr.New("register.Value.UnmarshalBinary", cyerr.KindArgument, "truncated buffer")
}
