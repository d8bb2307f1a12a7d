package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the payload carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindNumber
	KindBool
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is a scalar input or threshold: a number, a boolean, a string, or null.
// The zero Value is null.
type Value struct {
	Kind ValueKind
	Num  float64
	Bool bool
	Str  string
}

func Null() Value              { return Value{} }
func Number(f float64) Value   { return Value{Kind: KindNumber, Num: f} }
func Boolean(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func String(s string) Value    { return Value{Kind: KindString, Str: s} }
func (v Value) IsNull() bool   { return v.Kind == KindNull }
func (v Value) IsNumber() bool { return v.Kind == KindNumber }

// ValueOf converts a decoded JSON/YAML scalar into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Boolean(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T (want number, boolean, string or null)", x)
	}
}

// Interface returns the Go scalar held by v (nil for null).
func (v Value) Interface() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	default:
		return nil
	}
}

// Float coerces v to a number. Booleans count as 0/1 and strings are parsed.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text renders v as the string used for substring matching.
func (v Value) Text() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	default:
		return ""
	}
}

// Equal reports value equality. Numbers compare numerically; a boolean equals the
// literal strings "true"/"false" in any case. Other cross-kind pairs are unequal.
func (v Value) Equal(o Value) bool {
	if v.Kind == o.Kind {
		switch v.Kind {
		case KindNull:
			return true
		case KindNumber:
			return v.Num == o.Num
		case KindBool:
			return v.Bool == o.Bool
		default:
			return v.Str == o.Str
		}
	}
	if v.Kind == KindBool && o.Kind == KindString {
		b, ok := ParseBoolLiteral(o.Str)
		return ok && b == v.Bool
	}
	if v.Kind == KindString && o.Kind == KindBool {
		return o.Equal(v)
	}
	return false
}

// ParseBoolLiteral accepts "true" and "false" in any case.
func ParseBoolLiteral(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func (v Value) String() string {
	if v.Kind == KindNull {
		return "null"
	}
	if v.Kind == KindString {
		return strconv.Quote(v.Str)
	}
	return v.Text()
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	parsed, err := ValueOf(x)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Inputs maps variable names to observed values. A missing key reads as null.
type Inputs map[string]Value

// Get returns the value for name, or null when absent.
func (in Inputs) Get(name string) Value {
	if in == nil {
		return Null()
	}
	return in[name]
}
