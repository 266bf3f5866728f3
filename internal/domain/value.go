package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumeric
	KindText
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	default:
		return "absent"
	}
}

// Value is a feature or lab value: a number, a text category, a boolean or nothing.
// The zero Value is absent.
type Value struct {
	kind Kind
	num  float64
	text string
	flag bool
}

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumeric, num: f} }

// Text returns a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, flag: b} }

// Absent returns the absent value.
func Absent() Value { return Value{} }

// ValueOf coerces a loosely typed boundary value (decoded JSON, CLI input) into a Value.
// Lists contribute their first element; unsupported shapes become absent.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Absent()
	case Value:
		return x
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Number(f)
		}
		return Text(x.String())
	case bool:
		return Bool(x)
	case string:
		return Text(x)
	case []any:
		if len(x) == 0 {
			return Absent()
		}
		return ValueOf(x[0])
	case []float64:
		if len(x) == 0 {
			return Absent()
		}
		return Number(x[0])
	default:
		return Absent()
	}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v holds no value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Float coerces v to a finite float64. Booleans map to 1/0 and numeric text is parsed.
// The second result is false for absent, non-numeric or non-finite values.
func (v Value) Float() (float64, bool) {
	var f float64
	switch v.kind {
	case KindNumeric:
		f = v.num
	case KindBoolean:
		if v.flag {
			return 1, true
		}
		return 0, true
	case KindText:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// String renders v for messages and logs.
func (v Value) String() string {
	switch v.kind {
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindText:
		return v.text
	case KindBoolean:
		return strconv.FormatBool(v.flag)
	default:
		return "<absent>"
	}
}

// Interface returns the natural Go representation of v (float64, string, bool or nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindNumeric:
		return v.num
	case KindText:
		return v.text
	case KindBoolean:
		return v.flag
	default:
		return nil
	}
}

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	return v == o
}

// MarshalJSON encodes v as the corresponding JSON scalar. Non-finite numbers encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumeric && (math.IsNaN(v.num) || math.IsInf(v.num, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON scalar (or a list, taking its first element).
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	*v = ValueOf(normalizeJSONNumber(raw))
	return nil
}

func normalizeJSONNumber(raw any) any {
	switch x := raw.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalizeJSONNumber(x[i])
		}
		return out
	default:
		return raw
	}
}
