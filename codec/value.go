package codec

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Value is a node in a document tree. The set of implementations is closed:
// Scalar, List and *Record.
type Value interface {
	isValue()
}

// Scalar is a leaf value (string, number, bool, time or nil).
type Scalar struct {
	V interface{}
}

// List is an ordered sequence of values. Shape is preserved by the codec.
type List []Value

// Record is a keyed node. Keys keeps insertion order so round trips are stable.
type Record struct {
	Keys   []string
	Fields map[string]Value
}

func (Scalar) isValue()  {}
func (List) isValue()    {}
func (*Record) isValue() {}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{Fields: make(map[string]Value)}
}

// Set adds or replaces a key.
func (r *Record) Set(key string, v Value) {
	if _, ok := r.Fields[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Fields[key] = v
}

// Get returns the value stored at key.
func (r *Record) Get(key string) (Value, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// FromAny converts a decoded JSON or BSON tree into a Value.
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case Value:
		return t
	case map[string]interface{}:
		return recordFromMap(t)
	case primitive.M:
		return recordFromMap(map[string]interface{}(t))
	case primitive.D:
		rec := NewRecord()
		for _, e := range t {
			rec.Set(e.Key, FromAny(e.Value))
		}
		return rec
	case []interface{}:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return out
	case primitive.A:
		return FromAny([]interface{}(t))
	case []string:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = Scalar{V: e}
		}
		return out
	case []map[string]interface{}:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = recordFromMap(e)
		}
		return out
	default:
		return Scalar{V: x}
	}
}

func recordFromMap(m map[string]interface{}) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rec := NewRecord()
	for _, k := range keys {
		rec.Set(k, FromAny(m[k]))
	}
	return rec
}

// ToAny converts a Value back to plain Go maps, slices and scalars.
func ToAny(v Value) interface{} {
	switch t := v.(type) {
	case Scalar:
		return t.V
	case List:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case *Record:
		out := make(map[string]interface{}, len(t.Keys))
		for _, k := range t.Keys {
			out[k] = ToAny(t.Fields[k])
		}
		return out
	default:
		return nil
	}
}

// Stringify returns the string form of a scalar leaf.
func Stringify(x interface{}) string {
	switch t := x.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// toDocument marshals a struct to a BSON map for walking.
func toDocument(src interface{}) (Value, error) {
	raw, err := bson.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return FromAny(m), nil
}

// fromDocument writes a walked tree back into a struct.
func fromDocument(v Value, dst interface{}) error {
	raw, err := bson.Marshal(ToAny(v))
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := bson.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return nil
}
