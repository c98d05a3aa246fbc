package forward

import (
	"fmt"
	"math"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Value is the closed set of field values that can appear in a forward
// protocol record: nil, booleans, 64-bit signed and unsigned integers, 64-bit
// floats, strings, arrays of Values, and nested Records. A Value is immutable
// once constructed.
//
// Values serialize themselves directly into the shared msgpack encoder, so no
// intermediate map[string]any representation is ever built.
type Value interface {
	msgpack.CustomEncoder

	// Equal reports structural equality with another Value. Records compare
	// key order as well as contents, because key order is part of the wire
	// encoding.
	Equal(Value) bool

	// value restricts implementations to this package, keeping the variant
	// set closed.
	value()
}

type (
	nilValue    struct{}
	boolValue   bool
	intValue    int64
	uintValue   uint64
	floatValue  float64
	stringValue string
	arrayValue  []Value
)

// compile-time checks for msgpack CustomEncoder conformance
var (
	_ msgpack.CustomEncoder = nilValue{}
	_ msgpack.CustomEncoder = boolValue(false)
	_ msgpack.CustomEncoder = intValue(0)
	_ msgpack.CustomEncoder = uintValue(0)
	_ msgpack.CustomEncoder = floatValue(0)
	_ msgpack.CustomEncoder = stringValue("")
	_ msgpack.CustomEncoder = arrayValue(nil)
)

// Nil returns the nil Value.
func Nil() Value { return nilValue{} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return boolValue(v) }

// Int returns a signed integer Value. Every native signed width converts to
// int64 without loss.
func Int(v int64) Value { return intValue(v) }

// Uint returns an unsigned integer Value. Every native unsigned width converts
// to uint64 without loss.
func Uint(v uint64) Value { return uintValue(v) }

// Float returns a floating point Value.
func Float(v float64) Value { return floatValue(v) }

// String returns a string Value.
func String(v string) Value { return stringValue(v) }

// Array returns an array Value holding a copy of elems, so later mutation of
// the caller's slice cannot reach into a constructed Value.
func Array(elems ...Value) Value {
	a := make(arrayValue, len(elems))
	copy(a, elems)
	return a
}

// AnyValue converts a native Go value into a Value. It accepts nil, booleans,
// all signed and unsigned integer widths, float32/float64, strings, Values,
// *Records, []Value, []any, and map[string]any (keys sorted for a
// reproducible encoding). Any other type is rejected.
func AnyValue(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Nil(), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return Uint(uint64(v)), nil
	case uint8:
		return Uint(uint64(v)), nil
	case uint16:
		return Uint(uint64(v)), nil
	case uint32:
		return Uint(uint64(v)), nil
	case uint64:
		return Uint(v), nil
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case Value:
		return v, nil
	case []Value:
		return Array(v...), nil
	case []any:
		a := make(arrayValue, len(v))
		for i := range v {
			e, err := AnyValue(v[i])
			if err != nil {
				return nil, err
			}
			a[i] = e
		}
		return a, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		r := NewRecord()
		for _, k := range keys {
			e, err := AnyValue(v[k])
			if err != nil {
				return nil, err
			}
			r.Set(k, e)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("forward: cannot convert %T to a Value", v)
	}
}

func (nilValue) value()    {}
func (boolValue) value()   {}
func (intValue) value()    {}
func (uintValue) value()   {}
func (floatValue) value()  {}
func (stringValue) value() {}
func (arrayValue) value()  {}

func (nilValue) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeNil() }

func (v boolValue) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeBool(bool(v)) }

// integers use the smallest sufficient msgpack representation
func (v intValue) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeInt(int64(v)) }

func (v uintValue) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeUint(uint64(v)) }

func (v floatValue) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeFloat64(float64(v)) }

func (v stringValue) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := checkWireLen("string", len(v)); err != nil {
		return err
	}
	return enc.EncodeString(string(v))
}

func (v arrayValue) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := checkWireLen("array", len(v)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(v)); err != nil {
		return err
	}
	for _, e := range v {
		if err := e.EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	return nil
}

func (nilValue) Equal(o Value) bool {
	_, ok := o.(nilValue)
	return ok
}

func (v boolValue) Equal(o Value) bool { o2, ok := o.(boolValue); return ok && v == o2 }

func (v intValue) Equal(o Value) bool { o2, ok := o.(intValue); return ok && v == o2 }

func (v uintValue) Equal(o Value) bool { o2, ok := o.(uintValue); return ok && v == o2 }

func (v floatValue) Equal(o Value) bool { o2, ok := o.(floatValue); return ok && v == o2 }

func (v stringValue) Equal(o Value) bool { o2, ok := o.(stringValue); return ok && v == o2 }

func (v arrayValue) Equal(o Value) bool {
	o2, ok := o.(arrayValue)
	if !ok || len(v) != len(o2) {
		return false
	}
	for i := range v {
		if !v[i].Equal(o2[i]) {
			return false
		}
	}
	return true
}

// decodeValue reads one msgpack value and maps it into the Value variant set.
// Positive integers are decoded as Int unless they exceed math.MaxInt64, so
// small counts round-trip the way typical forward peers emit them.
func decodeValue(dec *msgpack.Decoder) (Value, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case c == msgpcode.Nil:
		if err := dec.DecodeNil(); err != nil {
			return nil, err
		}
		return Nil(), nil

	case c == msgpcode.True || c == msgpcode.False:
		b, err := dec.DecodeBool()
		if err != nil {
			return nil, err
		}
		return Bool(b), nil

	case msgpcode.IsFixedNum(c), c >= msgpcode.Int8 && c <= msgpcode.Int64:
		n, err := dec.DecodeInt64()
		if err != nil {
			return nil, err
		}
		return Int(n), nil

	case c >= msgpcode.Uint8 && c <= msgpcode.Uint64:
		n, err := dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt64 {
			return Uint(n), nil
		}
		return Int(int64(n)), nil

	case c == msgpcode.Float || c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		return Float(f), nil

	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		return String(s), nil

	case msgpcode.IsFixedArray(c), c == msgpcode.Array16, c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		a := make(arrayValue, n)
		for i := 0; i < n; i++ {
			if a[i], err = decodeValue(dec); err != nil {
				return nil, err
			}
		}
		return a, nil

	case msgpcode.IsFixedMap(c), c == msgpcode.Map16, c == msgpcode.Map32:
		r := new(Record)
		if err := r.DecodeMsgpack(dec); err != nil {
			return nil, err
		}
		return r, nil

	default:
		return nil, fmt.Errorf("forward: unsupported msgpack type code 0x%02X", c)
	}
}
