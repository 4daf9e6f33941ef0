package models

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindNull is a missing or explicit null value
	KindNull Kind = iota
	// KindString is an opaque string (including the empty string)
	KindString
	// KindNumber is a float64
	KindNumber
	// KindBool is a boolean
	KindBool
)

// String implements fmt.Stringer
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a small tagged variant used for dynamically shaped records.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// NumberOrNull returns a numeric value, or null when ok is false.
func NumberOrNull(f float64, ok bool) Value {
	if !ok {
		return Null()
	}
	return Number(f)
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric value. ok is false for every other kind.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Str returns the string value. ok is false for every other kind.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// BoolValue returns the boolean value. ok is false for every other kind.
func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Text renders v for delimited output. Null renders as the empty string.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Interface returns the Go value held by v: nil, string, float64 or bool.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// NumericSQL returns the value bound into a numeric store column: the
// number itself, or nil for every non-numeric and non-finite value.
func (v Value) NumericSQL() interface{} {
	if v.kind != KindNumber || math.IsNaN(v.num) || math.IsInf(v.num, 0) {
		return nil
	}
	return v.num
}

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// identifierColumns are never coerced to numbers; Gaia ids exceed float64 precision.
var identifierColumns = map[string]struct{}{
	"source_id":   {},
	"solution_id": {},
	"designation": {},
}

// IsIdentifierColumn reports whether column is always kept as an opaque string.
func IsIdentifierColumn(column string) bool {
	_, ok := identifierColumns[column]
	return ok
}

// Coerce converts a raw delimited field into a typed value:
//   - identifier columns and the empty string stay strings
//   - null, true and false (any case) become the typed values
//   - anything parsing as a float becomes a number
//   - everything else stays a string
func Coerce(column, raw string) Value {
	if raw == "" || IsIdentifierColumn(column) {
		return String(raw)
	}
	if len(raw) <= 5 {
		switch strings.ToLower(raw) {
		case "null":
			return Null()
		case "true":
			return Bool(true)
		case "false":
			return Bool(false)
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Number(f)
	}
	return String(raw)
}
