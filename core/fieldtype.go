package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"tablevault/codec"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WriteMode selects insert or update semantics for row validation.
type WriteMode int

const (
	// WriteInsert requires every required field to be present.
	WriteInsert WriteMode = iota
	// WriteUpdate validates only the fields present in the input.
	WriteUpdate
)

// Accepted input layouts for DATE and DATE-TIME values, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ValidateAndCoerce validates raw input against the table's fields and returns
// the typed values. Every failing field is reported; on any failure no values
// are returned. ATTACHMENT fields are skipped here and resolved by
// AttachmentValues.
func ValidateAndCoerce(fields []Field, input map[string]interface{}, mode WriteMode) (map[string]interface{}, error) {
	var errs FieldErrors
	known := make(map[string]struct{}, len(fields))
	out := make(map[string]interface{}, len(input))

	for _, f := range fields {
		known[f.Name] = struct{}{}
		if f.Type == FieldTypeAttachment {
			continue
		}

		raw, present := input[f.Name]
		if !present || raw == nil {
			if f.Required && (mode == WriteInsert || present) {
				errs = append(errs, MissingRequiredField(f.Name))
				continue
			}
			if present {
				out[f.Name] = nil
			}
			continue
		}

		v, verr := CoerceValue(f, raw)
		if verr != nil {
			errs = append(errs, verr)
			continue
		}
		out[f.Name] = v
	}

	for name := range input {
		if _, ok := known[name]; !ok {
			errs = append(errs, &ValidationError{Field: name, Code: CodeUnknownField})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// CoerceValue converts one non-nil raw input value to the field's runtime type.
func CoerceValue(f Field, raw interface{}) (interface{}, *ValidationError) {
	invalid := &ValidationError{Field: f.Name, Value: raw, Code: CodeInvalidType}

	switch f.Type {
	case FieldTypeText:
		if !isScalar(raw) {
			return nil, invalid
		}
		return codec.Stringify(raw), nil

	case FieldTypeNumber:
		n, ok := toNumber(raw)
		if !ok {
			return nil, invalid
		}
		return n, nil

	case FieldTypeDate, FieldTypeDateTime:
		t, ok, empty := toTime(raw)
		if empty {
			return nil, nil
		}
		if !ok {
			return nil, invalid
		}
		return t, nil

	case FieldTypeBoolean:
		b, ok := toBool(raw)
		if !ok {
			return nil, invalid
		}
		return b, nil

	case FieldTypeSelect:
		if !isScalar(raw) {
			return nil, invalid
		}
		s := codec.Stringify(raw)
		for _, opt := range f.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, InvalidOption(f.Name, s)

	case FieldTypeMultiSelect:
		items, ok := toStringList(raw)
		if !ok {
			return nil, invalid
		}
		return items, nil

	case FieldTypeAttachment:
		return raw, nil
	}
	return nil, invalid
}

// RestoreValues converts decrypted row values, which come back as strings,
// to their field types. Values that no longer coerce are kept as stored.
func RestoreValues(fields []Field, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for name, raw := range values {
		out[name] = raw
		if raw == nil {
			continue
		}
		f, ok := fieldByName(fields, name)
		if !ok {
			continue
		}
		switch f.Type {
		case FieldTypeAttachment:
			out[name] = restoreAttachments(raw)
		case FieldTypeSelect:
			out[name] = codec.Stringify(raw)
		default:
			if v, err := CoerceValue(f, raw); err == nil {
				out[name] = v
			}
		}
	}
	return out
}

// IndexValue returns the digest form of a coerced value: a string for
// scalars, a []string for MULTISELECT, nil when there is nothing to index.
func IndexValue(v interface{}, digest func(string) string) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = digest(s)
		}
		return out
	default:
		return digest(codec.Stringify(t))
	}
}

func fieldByName(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64, json.Number, time.Time, primitive.DateTime:
		return true
	}
	return false
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// toTime parses a date input. empty is true for a blank string.
func toTime(v interface{}) (t time.Time, ok bool, empty bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true, false
	case primitive.DateTime:
		return x.Time().UTC(), true, false
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false, true
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true, false
			}
		}
	}
	return time.Time{}, false, false
}

func toBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true, true
		case "false", "0", "":
			return false, true
		}
		return false, false
	default:
		if n, ok := toNumber(v); ok {
			return n != 0, true
		}
	}
	return false, false
}

func toStringList(v interface{}) ([]string, bool) {
	var parts []string
	switch t := v.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []interface{}:
		for _, e := range t {
			if !isScalar(e) {
				return nil, false
			}
			parts = append(parts, codec.Stringify(e))
		}
	case primitive.A:
		return toStringList([]interface{}(t))
	default:
		return nil, false
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}
