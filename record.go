package forward

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is a mapping from string keys to Values with insertion order
// preserved. Order matters because it fixes the msgpack encoding of the map,
// which keeps the wire bytes reproducible across runs.
//
// A Record handed to Client.Send must not be mutated until the call returns.
// The Client never retains a Record after Send returns.
type Record struct {
	keys []string
	vals map[string]Value
}

// compile-time checks for msgpack Custom[En|De]coder conformance
var _ msgpack.CustomEncoder = (*Record)(nil)
var _ msgpack.CustomDecoder = (*Record)(nil)

// NewRecord returns an empty Record.
func NewRecord() *Record {
	return &Record{vals: make(map[string]Value)}
}

// Field is one key/value pair for the NewRecordFrom literal builder.
type Field struct {
	Key   string
	Value Value
}

// F builds a Field from a native Go value, panicking if the value has no
// Value conversion. It exists purely as literal-construction sugar:
//
//	rec := forward.NewRecordFrom(
//		forward.F("name", "John"),
//		forward.F("age", 22),
//	)
//
// is equivalent to NewRecord followed by two Set calls. Use AnyValue directly
// when the input type is not known statically.
func F(key string, value any) Field {
	v, err := AnyValue(value)
	if err != nil {
		panic(err)
	}
	return Field{Key: key, Value: v}
}

// NewRecordFrom returns a Record holding the given fields, in order.
func NewRecordFrom(fields ...Field) *Record {
	r := NewRecord()
	for _, f := range fields {
		r.Set(f.Key, f.Value)
	}
	return r
}

// Set maps key to value and returns the Record for chaining. A new key is
// appended after all existing keys; setting an existing key replaces its value
// in place, keeping the original position.
func (r *Record) Set(key string, value Value) *Record {
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = value
	return r
}

// Get returns the Value for key and whether it is present.
func (r *Record) Get(key string) (Value, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Len returns the number of keys.
func (r *Record) Len() int { return len(r.keys) }

// Keys returns the keys in insertion order. The returned slice is shared;
// callers must not modify it.
func (r *Record) Keys() []string { return r.keys }

func (r *Record) value() {}

// EncodeMsgpack serializes the Record as a msgpack map, keys in insertion
// order.
func (r *Record) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := checkWireLen("record", len(r.keys)); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(len(r.keys)); err != nil {
		return err
	}
	for _, k := range r.keys {
		if err := checkWireLen("record key", len(k)); err != nil {
			return err
		}
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := r.vals[k].EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack deserializes a msgpack map into the Record, preserving the
// wire key order. Any prior contents are discarded.
func (r *Record) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}

	r.keys = make([]string, 0, n)
	r.vals = make(map[string]Value, n)

	for i := 0; i < n; i++ {
		k, err := dec.DecodeString()
		if err != nil {
			return err
		}
		v, err := decodeValue(dec)
		if err != nil {
			return err
		}
		r.Set(k, v)
	}
	return nil
}

// Equal reports whether two Records hold the same keys in the same order with
// structurally equal values.
func (r *Record) Equal(o Value) bool {
	o2, ok := o.(*Record)
	if !ok || len(r.keys) != len(o2.keys) {
		return false
	}
	for i, k := range r.keys {
		if o2.keys[i] != k || !r.vals[k].Equal(o2.vals[k]) {
			return false
		}
	}
	return true
}

// String renders the Record for debug output.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, r.vals[k])
	}
	b.WriteByte('}')
	return b.String()
}
