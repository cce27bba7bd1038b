// Package model provides the domain model for rowflow
package model

import (
	"math"
	"strconv"
	"time"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	// KindNull is the absent value. The zero Value is Null.
	KindNull Kind = iota
	// KindString holds text
	KindString
	// KindNumber holds a float64
	KindNumber
	// KindBool holds a boolean
	KindBool
	// KindDate holds a time.Time
	KindDate
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Value is a dynamically typed scalar: string, number, boolean, date or null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	t    time.Time
}

// NullValue returns the null Value
func NullValue() Value {
	return Value{}
}

// StringValue wraps s
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// NumberValue wraps f
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// BoolValue wraps b
func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// DateValue wraps t
func DateValue(t time.Time) Value {
	return Value{kind: KindDate, t: t}
}

// ValueOf converts a Go scalar into a Value. Unknown types are rendered as strings by the caller;
// ValueOf returns false for them.
func ValueOf(v any) (Value, bool) {
	switch x := v.(type) {
	case nil:
		return NullValue(), true
	case Value:
		return x, true
	case string:
		return StringValue(x), true
	case []byte:
		return StringValue(string(x)), true
	case bool:
		return BoolValue(x), true
	case float64:
		return NumberValue(x), true
	case float32:
		return NumberValue(float64(x)), true
	case int:
		return NumberValue(float64(x)), true
	case int8:
		return NumberValue(float64(x)), true
	case int16:
		return NumberValue(float64(x)), true
	case int32:
		return NumberValue(float64(x)), true
	case int64:
		return NumberValue(float64(x)), true
	case uint:
		return NumberValue(float64(x)), true
	case uint8:
		return NumberValue(float64(x)), true
	case uint16:
		return NumberValue(float64(x)), true
	case uint32:
		return NumberValue(float64(x)), true
	case uint64:
		return NumberValue(float64(x)), true
	case time.Time:
		return DateValue(x), true
	default:
		return NullValue(), false
	}
}

// Kind returns the variant held by v
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is null
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// IsEmpty reports whether v is null or an empty string
func (v Value) IsEmpty() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// AsString returns the string held by v
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the number held by v
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the boolean held by v
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsDate returns the time held by v
func (v Value) AsDate() (time.Time, bool) {
	return v.t, v.kind == KindDate
}

// Text renders v as text. Null renders as the empty string.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return FormatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return FormatDate(v.t)
	default:
		return ""
	}
}

// String implements fmt.Stringer
func (v Value) String() string {
	if v.kind == KindNull {
		return "<null>"
	}
	return v.Text()
}

// Interface returns v as a plain Go value (nil, string, float64, bool or time.Time)
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindDate:
		return v.t
	default:
		return nil
	}
}

// Equal compares kind and payload
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
	case KindDate:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

// FormatNumber renders f in its shortest decimal form without exponent
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatDate renders t as a plain date when it is midnight UTC, RFC3339 otherwise
func FormatDate(t time.Time) string {
	if t.Location() == time.UTC && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}
